// Package fileres turns logical, require()-style paths inside an extracted
// package into concrete files on disk and derives response content types.
package fileres

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/any-hub/pkg-cdn/internal/cache"
	"github.com/any-hub/pkg-cdn/internal/errkind"
)

// probeSuffixes 依次尝试的扩展名，顺序即优先级。
var probeSuffixes = []string{"", ".js", ".json"}

// ResolvedFile 是探测成功后的磁盘文件描述，每次请求重新 stat。
type ResolvedFile struct {
	AbsolutePath string
	RelativePath string
	Size         int64
	ModTime      time.Time
	IsDir        bool
	ContentType  string
}

// ResolvePath 在 base 下解析逻辑路径；未找到返回 (nil, nil)。
// autoIndex 为 true 时，命中目录会以 <dir>/index 递归探测一次（递归时关闭 autoIndex）。
func ResolvePath(base, logical string, autoIndex bool) (*ResolvedFile, error) {
	candidate, ok := joinWithin(base, logical)
	if !ok {
		return nil, nil
	}

	for _, suffix := range probeSuffixes {
		p := candidate + suffix
		info, err := os.Stat(p)
		if err != nil {
			if isMissing(err) {
				continue
			}
			return nil, platformerrors.Wrapf(err, errkind.FilesystemError, "stat %s", logical+suffix)
		}

		if info.Mode().IsRegular() {
			return describe(base, p, info), nil
		}
		if autoIndex && info.IsDir() {
			found, err := ResolvePath(base, path.Join(logical+suffix, "index"), false)
			if err != nil {
				return nil, err
			}
			if found != nil {
				return found, nil
			}
		}
	}
	return nil, nil
}

// StatPath 返回 base 下某个精确路径（文件或目录）的描述；不存在时返回 (nil, nil)。
func StatPath(base, logical string) (*ResolvedFile, error) {
	p, ok := joinWithin(base, logical)
	if !ok {
		return nil, nil
	}
	info, err := os.Stat(p)
	if err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, platformerrors.Wrapf(err, errkind.FilesystemError, "stat %s", logical)
	}
	return describe(base, p, info), nil
}

func describe(base, p string, info fs.FileInfo) *ResolvedFile {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		rel = filepath.Base(p)
	}
	rel = "/" + strings.TrimPrefix(filepath.ToSlash(rel), "./")
	if rel == "/." {
		rel = "/"
	}

	resolved := &ResolvedFile{
		AbsolutePath: p,
		RelativePath: rel,
		Size:         info.Size(),
		ModTime:      info.ModTime().UTC(),
		IsDir:        info.IsDir(),
	}
	if !resolved.IsDir {
		resolved.ContentType = ContentType(p)
	}
	return resolved
}

// joinWithin 拼接逻辑路径并拒绝越出 base 的结果。
func joinWithin(base, logical string) (string, bool) {
	target := filepath.Join(base, filepath.FromSlash(logical))
	if !cache.Within(base, target) {
		return "", false
	}
	return target, true
}

// isMissing 将 ENOENT 与 ENOTDIR（路径中间段是文件）都视为"不存在"。
func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
