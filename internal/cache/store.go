package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// ManifestName 是归档目录就绪标记：解压发布后根目录必定存在该文件。
const ManifestName = "package.json"

// Store 负责管理磁盘上的包归档目录。磁盘布局遵循：
//
//	<StoragePath>/packages/<fullName>@<version>/...   # 解压后的包内容
//
// scoped 包会自然嵌套在 @scope/ 子目录下。目录一旦发布即视为只读，
// 仅允许通过 Put 追加派生文件（例如 bower.zip）。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将派生文件写入归档目录。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件。可选地根据 opts.ModTime 设置文件时间戳。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// ArchiveDir 返回 name@version 对应的绝对目录（不保证存在）。
	ArchiveDir(fullName, version string) (string, error)

	// Ready 判断归档目录是否已完整发布。
	Ready(dir string) bool

	// Root 返回缓存根目录。
	Root() string
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Locator 唯一定位一个缓存条目（归档 + 相对路径），所有路径均为 URL 路径风格。
type Locator struct {
	Archive string
	Path    string
}

// ArchiveLocator 构造 name@version 归档内某个文件的 Locator。
func ArchiveLocator(fullName, version, filePath string) Locator {
	return Locator{Archive: ArchiveKey(fullName, version), Path: filePath}
}

// ArchiveKey 返回归档目录的相对名称，例如 left-pad@1.3.0。name 段不含 @，键不会与其它包的归档冲突。
func ArchiveKey(fullName, version string) string {
	return fullName + "@" + version
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Locator   Locator `json:"locator"`
	FilePath  string  `json:"file_path"`
	SizeBytes int64   `json:"size_bytes"`
	ModTime   time.Time
}

// ReadResult 组合 Entry 与正文 Reader，便于上层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
