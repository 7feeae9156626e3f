package gateway

import (
	"github.com/any-hub/pkg-cdn/internal/fileres"
	"github.com/any-hub/pkg-cdn/internal/pkgurl"
)

// ResultKind 标识编排结果的渲染方式。
type ResultKind int

const (
	// File 表示返回磁盘上的单个文件。
	File ResultKind = iota + 1
	// Redirect 表示 302 跳转到精确版本。
	Redirect
	// Directory 表示 HTML 目录索引。
	Directory
	// Tree 表示 JSON 元数据树。
	Tree
)

func (k ResultKind) String() string {
	switch k {
	case File:
		return "file"
	case Redirect:
		return "redirect"
	case Directory:
		return "directory"
	case Tree:
		return "tree"
	default:
		return "unknown"
	}
}

// Result 是一次成功编排的输出。
type Result struct {
	Kind     ResultKind
	Spec     pkgurl.Spec
	Version  string
	Location string
	File     *fileres.ResolvedFile
	Body     []byte
	CacheHit bool
}
