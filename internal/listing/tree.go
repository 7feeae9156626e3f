// Package listing describes the contents of an extracted package directory,
// either as a JSON metadata tree or as a browsable HTML index page.
package listing

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/any-hub/pkg-cdn/internal/cache"
	"github.com/any-hub/pkg-cdn/internal/errkind"
	"github.com/any-hub/pkg-cdn/internal/fileres"
)

// Entry 是元数据树中的单个节点；Files 仅目录且未到达深度上限时填充。
type Entry struct {
	Path         string   `json:"path"`
	LastModified string   `json:"lastModified"`
	ContentType  string   `json:"contentType"`
	Size         int64    `json:"size"`
	Type         string   `json:"type"`
	Files        []*Entry `json:"files,omitempty"`
}

// Tree 以 rel 为根生成元数据树。maxDepth 控制向下展开的层数，0 表示只描述 rel 本身。
// rel 不存在或越出 base 时返回 (nil, nil)。
func Tree(base, rel string, maxDepth int) (*Entry, error) {
	logical := path.Clean("/" + rel)
	abs := filepath.Join(base, filepath.FromSlash(logical))
	if !cache.Within(base, abs) {
		return nil, nil
	}
	info, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, platformerrors.Wrapf(err, errkind.FilesystemError, "stat %s", logical)
	}
	return describe(base, logical, info, maxDepth)
}

func describe(base, logical string, info fs.FileInfo, depth int) (*Entry, error) {
	entry := &Entry{
		Path:         logical,
		LastModified: info.ModTime().UTC().Format(time.RFC3339Nano),
		Size:         info.Size(),
		Type:         fileType(info.Mode()),
	}
	if !info.IsDir() {
		entry.ContentType = fileres.ContentType(logical)
		return entry, nil
	}
	if depth <= 0 {
		return entry, nil
	}

	dir := filepath.Join(base, filepath.FromSlash(logical))
	children, err := os.ReadDir(dir)
	if err != nil {
		return nil, platformerrors.Wrapf(err, errkind.FilesystemError, "read directory %s", logical)
	}
	entry.Files = make([]*Entry, 0, len(children))
	for _, child := range children {
		childInfo, err := child.Info()
		if err != nil {
			// 读取目录与 stat 之间被删除，直接忽略。
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, platformerrors.Wrapf(err, errkind.FilesystemError, "stat %s", child.Name())
		}
		node, err := describe(base, path.Join(logical, child.Name()), childInfo, depth-1)
		if err != nil {
			return nil, err
		}
		entry.Files = append(entry.Files, node)
	}
	return entry, nil
}

func fileType(mode fs.FileMode) string {
	switch {
	case mode.IsRegular():
		return "file"
	case mode.IsDir():
		return "directory"
	case mode&fs.ModeSymlink != 0:
		return "symlink"
	case mode&fs.ModeNamedPipe != 0:
		return "fifo"
	case mode&fs.ModeSocket != 0:
		return "socket"
	case mode&fs.ModeCharDevice != 0:
		return "characterDevice"
	case mode&fs.ModeDevice != 0:
		return "blockDevice"
	default:
		return "unknown"
	}
}
