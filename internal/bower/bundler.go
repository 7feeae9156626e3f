// Package bower repackages an extracted npm archive as the zip bundle that
// Bower clients expect. The bundle holds the package's bower.json, stamped
// with the npm version, together with every file its "main" field lists.
// Bundles are produced lazily on first request and stored next to the
// extracted files.
package bower

import (
	"bytes"
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jmgilman/go/errors"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/pkg-cdn/internal/cache"
	"github.com/any-hub/pkg-cdn/internal/errkind"
)

// ConfigName 是 Bower 包描述文件名。
const ConfigName = "bower.json"

// DefaultBundleName 为未配置时的 bundle 文件名。
const DefaultBundleName = "bower.zip"

var prettyOptions = &pretty.Options{Width: 80, Indent: "  "}

// Bundler 负责生成并缓存 Bower zip 包，同一归档的并发请求只生成一次。
type Bundler struct {
	store      cache.Store
	bundleName string
	logger     *logrus.Logger
	flight     singleflight.Group
}

// NewBundler 构造 Bundler。bundleName 取自请求路径（例如 /bower.zip），为空时使用默认值。
func NewBundler(store cache.Store, bundleName string, logger *logrus.Logger) *Bundler {
	name := strings.TrimPrefix(path.Clean("/"+bundleName), "/")
	if name == "" {
		name = DefaultBundleName
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bundler{store: store, bundleName: name, logger: logger}
}

// Ensure 返回 fullName@version 对应 bundle 的缓存条目，不存在时现场生成。
// 归档必须已发布；缺少 bower.json 时返回 FileNotFound。
func (b *Bundler) Ensure(ctx context.Context, fullName, version string) (*cache.Entry, error) {
	locator := cache.ArchiveLocator(fullName, version, b.bundleName)
	if entry, ok := b.existing(ctx, locator); ok {
		return entry, nil
	}

	v, err, _ := b.flight.Do(locator.Archive, func() (interface{}, error) {
		if entry, ok := b.existing(ctx, locator); ok {
			return entry, nil
		}
		return b.build(ctx, fullName, version, locator)
	})
	if err != nil {
		return nil, err
	}
	return v.(*cache.Entry), nil
}

func (b *Bundler) existing(ctx context.Context, locator cache.Locator) (*cache.Entry, bool) {
	result, err := b.store.Get(ctx, locator)
	if err != nil {
		return nil, false
	}
	result.Reader.Close()
	entry := result.Entry
	return &entry, true
}

func (b *Bundler) build(ctx context.Context, fullName, version string, locator cache.Locator) (*cache.Entry, error) {
	dir, err := b.store.ArchiveDir(fullName, version)
	if err != nil {
		return nil, errors.Wrap(err, errkind.FilesystemError, "locate archive")
	}

	bowerJSON, err := os.ReadFile(filepath.Join(dir, ConfigName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithContext(
				errors.New(errkind.FileNotFound, "Missing bower.json"),
				"filename", "/"+ConfigName,
			)
		}
		return nil, errors.Wrapf(err, errkind.FilesystemError, "read %s", ConfigName)
	}
	manifest, err := os.ReadFile(filepath.Join(dir, cache.ManifestName))
	if err != nil {
		return nil, errors.Wrapf(err, errkind.FilesystemError, "read %s", cache.ManifestName)
	}
	if !gjson.ValidBytes(manifest) {
		return nil, errors.New(errkind.ManifestParseError, "Error parsing package.json")
	}

	config, mains, err := stampVersion(bowerJSON, gjson.GetBytes(manifest, "version").String())
	if err != nil {
		return nil, err
	}

	payload, err := writeZip(dir, config, mains)
	if err != nil {
		return nil, err
	}

	entry, err := b.store.Put(ctx, locator, bytes.NewReader(payload), cache.PutOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errkind.FilesystemError, "store bower bundle")
	}
	b.logger.WithFields(logrus.Fields{
		"action":  "bower_bundle",
		"archive": locator.Archive,
		"files":   len(mains),
		"bytes":   entry.SizeBytes,
	}).Info("bower_bundle_created")
	return entry, nil
}

// stampVersion 用 npm 版本覆盖 bower.json 的 version 字段并保留其余字段顺序，
// 同时返回 main 中列出的文件（字符串或数组）。
func stampVersion(bowerJSON []byte, version string) ([]byte, []string, error) {
	if !gjson.ValidBytes(bowerJSON) {
		return nil, nil, errors.New(errkind.ManifestParseError, "Error parsing bower.json")
	}
	doc := gjson.ParseBytes(bowerJSON)
	if !doc.IsObject() {
		return nil, nil, errors.New(errkind.ManifestParseError, "Error parsing bower.json: not an object")
	}

	quotedVersion := gjson.AppendJSONString(nil, version)
	var out bytes.Buffer
	out.WriteByte('{')
	stamped := false
	first := true
	doc.ForEach(func(key, value gjson.Result) bool {
		if !first {
			out.WriteByte(',')
		}
		first = false
		out.WriteString(key.Raw)
		out.WriteByte(':')
		if key.String() == "version" {
			out.Write(quotedVersion)
			stamped = true
		} else {
			out.WriteString(value.Raw)
		}
		return true
	})
	if !stamped {
		if !first {
			out.WriteByte(',')
		}
		out.WriteString(`"version":`)
		out.Write(quotedVersion)
	}
	out.WriteByte('}')

	var mains []string
	main := doc.Get("main")
	switch {
	case main.IsArray():
		for _, item := range main.Array() {
			if item.Type == gjson.String && item.String() != "" {
				mains = append(mains, item.String())
			}
		}
	case main.Type == gjson.String && main.String() != "":
		mains = append(mains, main.String())
	}

	return pretty.PrettyOptions(out.Bytes(), prettyOptions), mains, nil
}

func writeZip(dir string, config []byte, mains []string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create(ConfigName)
	if err != nil {
		return nil, errors.Wrap(err, errkind.FilesystemError, "write bower bundle")
	}
	if _, err := w.Write(config); err != nil {
		return nil, errors.Wrap(err, errkind.FilesystemError, "write bower bundle")
	}

	for _, name := range mains {
		rel := strings.TrimPrefix(path.Clean("/"+name), "/")
		abs := filepath.Join(dir, filepath.FromSlash(rel))
		if rel == "" || !cache.Within(dir, abs) {
			continue
		}
		body, err := os.ReadFile(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.WithContext(
					errors.Newf(errkind.FileNotFound, "main file %q listed in bower.json", name),
					"filename", "/"+rel,
				)
			}
			return nil, errors.Wrapf(err, errkind.FilesystemError, "read %s", rel)
		}
		w, err := zw.Create(rel)
		if err != nil {
			return nil, errors.Wrap(err, errkind.FilesystemError, "write bower bundle")
		}
		if _, err := w.Write(body); err != nil {
			return nil, errors.Wrap(err, errkind.FilesystemError, "write bower bundle")
		}
	}

	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, errkind.FilesystemError, "finish bower bundle")
	}
	return buf.Bytes(), nil
}
