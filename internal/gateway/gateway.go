// Package gateway sequences a single package request: locate the package,
// consult the local archive cache, fall back to registry metadata and
// version resolution, fetch the archive when needed and finally resolve the
// requested file. It owns no cache state of its own; every collaborator is
// injected so the process entry point controls their lifecycle.
package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/pkg-cdn/internal/bower"
	"github.com/any-hub/pkg-cdn/internal/cache"
	"github.com/any-hub/pkg-cdn/internal/errkind"
	"github.com/any-hub/pkg-cdn/internal/fileres"
	"github.com/any-hub/pkg-cdn/internal/pkgurl"
	"github.com/any-hub/pkg-cdn/internal/registry"
	"github.com/any-hub/pkg-cdn/internal/resolver"
)

// MetadataSource 返回包的注册表元数据；包不存在时返回 (nil, nil)。
type MetadataSource interface {
	Lookup(ctx context.Context, fullName string) (*registry.Metadata, error)
}

// ArchiveFetcher 下载 tarball 并发布到目标目录。
type ArchiveFetcher interface {
	Fetch(ctx context.Context, tarballURL, targetDir string) error
}

// Options 汇总编排层需要的配置值。
type Options struct {
	BowerBundlePath string
	AutoIndex       bool
	MaximumDepth    int
	BlockedPackages []string
	// FetchTimeout 限制单次归档下载解压的总时长，0 表示不限制。
	FetchTimeout time.Duration
}

// Gateway 串联定位、版本解析、拉取与文件解析。
type Gateway struct {
	store    cache.Store
	metadata MetadataSource
	fetcher  ArchiveFetcher
	bundler  *bower.Bundler
	logger   *logrus.Logger
	opts     Options
	blocked  map[string]struct{}

	fetches singleflight.Group

	localHits *xsync.Counter
	redirects *xsync.Counter
	fetched   *xsync.Counter
	notFound  *xsync.Counter
}

// Stats 汇总编排层计数。
type Stats struct {
	LocalHits int64 `json:"local_hits"`
	Redirects int64 `json:"redirects"`
	Fetches   int64 `json:"fetches"`
	NotFound  int64 `json:"not_found"`
}

// New 构造 Gateway，所有协作者均由调用方注入。
func New(store cache.Store, metadata MetadataSource, fetcher ArchiveFetcher, logger *logrus.Logger, opts Options) *Gateway {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.BowerBundlePath == "" {
		opts.BowerBundlePath = "/" + bower.DefaultBundleName
	}
	blocked := make(map[string]struct{}, len(opts.BlockedPackages))
	for _, name := range opts.BlockedPackages {
		if name = strings.TrimSpace(name); name != "" {
			blocked[name] = struct{}{}
		}
	}
	return &Gateway{
		store:     store,
		metadata:  metadata,
		fetcher:   fetcher,
		bundler:   bower.NewBundler(store, opts.BowerBundlePath, logger),
		logger:    logger,
		opts:      opts,
		blocked:   blocked,
		localHits: xsync.NewCounter(),
		redirects: xsync.NewCounter(),
		fetched:   xsync.NewCounter(),
		notFound:  xsync.NewCounter(),
	}
}

// Resolve 处理一次请求，返回可直接渲染的结果。所有错误均携带 errkind 错误码。
func (g *Gateway) Resolve(ctx context.Context, rawPath, rawQuery string) (*Result, error) {
	spec, err := pkgurl.Parse(rawPath, rawQuery)
	if err != nil {
		return nil, err
	}

	result, err := g.resolve(ctx, spec)
	if err != nil {
		if errkind.IsNotFound(err) {
			g.notFound.Inc()
		}
		return nil, errors.WithContext(err, "package", spec.FullName())
	}
	result.Spec = spec
	return result, nil
}

func (g *Gateway) resolve(ctx context.Context, spec pkgurl.Spec) (*Result, error) {
	fullName := spec.FullName()
	if _, blocked := g.blocked[fullName]; blocked {
		return nil, packageNotFound(fullName)
	}

	// 快路径：精确版本已在本地完整发布，跳过注册表与下载。
	if dir, err := g.store.ArchiveDir(fullName, spec.VersionSpec); err == nil && g.store.Ready(dir) {
		g.localHits.Inc()
		result, err := g.serve(ctx, spec, spec.VersionSpec, dir)
		if result != nil {
			result.CacheHit = true
		}
		return result, err
	}

	meta, err := g.metadata.Lookup(ctx, fullName)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, packageNotFound(fullName)
	}

	decision, err := resolver.Resolve(spec, meta)
	if err != nil {
		return nil, err
	}
	if decision.Kind == resolver.Redirect {
		g.redirects.Inc()
		return &Result{Kind: Redirect, Version: decision.Version, Location: decision.Location}, nil
	}

	dir, err := g.store.ArchiveDir(fullName, decision.Version)
	if err != nil {
		return nil, errors.Wrap(err, errkind.FilesystemError, "locate archive directory")
	}
	if err := g.ensureArchive(ctx, decision.Record.TarballURL, dir); err != nil {
		return nil, errors.WithContext(err, "version", decision.Version)
	}
	return g.serve(ctx, spec, decision.Version, dir)
}

// ensureArchive 以归档目录为键合并并发拉取；领头者在下载前再次确认就绪状态。
// 下载本身与请求生命周期解耦，调用方取消只会停止等待。
func (g *Gateway) ensureArchive(ctx context.Context, tarballURL, dir string) error {
	if g.store.Ready(dir) {
		return nil
	}
	if tarballURL == "" {
		return errors.New(errkind.UpstreamMalformedResponse, "registry metadata has no tarball url")
	}

	ch := g.fetches.DoChan(dir, func() (interface{}, error) {
		if g.store.Ready(dir) {
			return nil, nil
		}
		fetchCtx := context.WithoutCancel(ctx)
		if g.opts.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, g.opts.FetchTimeout)
			defer cancel()
		}
		g.fetched.Inc()
		return nil, g.fetcher.Fetch(fetchCtx, tarballURL, dir)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errkind.DownloadFailed, "waiting for archive")
	}
}

// serve 在已就绪的归档目录内解析请求的文件、目录或 bundle。
func (g *Gateway) serve(ctx context.Context, spec pkgurl.Spec, version, dir string) (*Result, error) {
	label := spec.FullName() + "@" + version
	filename := spec.Filename

	switch {
	case filename != "" && filename == g.opts.BowerBundlePath:
		entry, err := g.bundler.Ensure(ctx, spec.FullName(), version)
		if err != nil {
			if errors.GetCode(err) == errkind.FileNotFound {
				return nil, fileNotFound(errkind.Field(err, "filename"), label)
			}
			return nil, err
		}
		return &Result{
			Kind:    File,
			Version: version,
			File: &fileres.ResolvedFile{
				AbsolutePath: entry.FilePath,
				RelativePath: filename,
				Size:         entry.SizeBytes,
				ModTime:      entry.ModTime.UTC(),
				ContentType:  fileres.ContentType(entry.FilePath),
			},
		}, nil

	case filename != "" && spec.HasQuery("json"):
		tree, err := treeJSON(dir, filename, g.opts.MaximumDepth)
		if err != nil {
			return nil, err
		}
		if tree == nil {
			return nil, fileNotFound(filename, label)
		}
		return &Result{Kind: Tree, Version: version, Body: tree}, nil

	case strings.HasSuffix(filename, "/"):
		if !g.opts.AutoIndex {
			return nil, fileNotFound(filename, label)
		}
		page, err := indexPage(label, dir, filename)
		if err != nil {
			return nil, err
		}
		if page == nil {
			return nil, fileNotFound(filename, label)
		}
		return &Result{Kind: Directory, Version: version, Body: page}, nil

	case filename != "":
		file, err := fileres.ResolvePath(dir, filename, false)
		if err != nil {
			return nil, err
		}
		if file == nil {
			return nil, fileNotFound(filename, label)
		}
		return &Result{Kind: File, Version: version, File: file}, nil
	}

	manifest, err := os.ReadFile(filepath.Join(dir, cache.ManifestName))
	if err != nil {
		return nil, errors.Wrapf(err, errkind.FilesystemError, "read %s of %s", cache.ManifestName, label)
	}
	queryField := spec.Query["main"]
	mainPath, err := fileres.MainPath(manifest, queryField)
	if err != nil {
		if errors.GetCode(err) == errkind.FieldNotFound {
			return nil, errors.WithContext(
				errors.Newf(errkind.FieldNotFound, "field %q in package.json of %s", queryField, label),
				"field", queryField,
			)
		}
		return nil, err
	}

	file, err := fileres.ResolvePath(dir, mainPath, true)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, errors.WithContext(
			errors.Newf(errkind.FileNotFound, "main file %q in package %s", mainPath, label),
			"filename", mainPath,
		)
	}
	return &Result{Kind: File, Version: version, File: file}, nil
}

// Stats 返回编排层计数。
func (g *Gateway) Stats() Stats {
	return Stats{
		LocalHits: g.localHits.Value(),
		Redirects: g.redirects.Value(),
		Fetches:   g.fetched.Value(),
		NotFound:  g.notFound.Value(),
	}
}

func packageNotFound(fullName string) error {
	return errors.New(errkind.PackageNotFound, fmt.Sprintf("package %q", fullName))
}

func fileNotFound(filename, label string) error {
	return errors.WithContext(
		errors.Newf(errkind.FileNotFound, "file %q in package %s", filename, label),
		"filename", filename,
	)
}
