package bower

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/any-hub/pkg-cdn/internal/cache"
	"github.com/any-hub/pkg-cdn/internal/errkind"
)

func newFixture(t *testing.T, files map[string]string) (cache.Store, *Bundler) {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)

	dir, err := store.ArchiveDir("jquery", "3.1.0")
	require.NoError(t, err)
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return store, NewBundler(store, "/bower.zip", logger)
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(body)
	}
	return out
}

func TestEnsureBuildsBundle(t *testing.T) {
	_, bundler := newFixture(t, map[string]string{
		"package.json":      `{"name":"jquery","version":"3.1.0"}`,
		"bower.json":        `{"name":"jquery","version":"0.0.0","main":["dist/jquery.js","dist/jquery.css"],"ignore":["src"]}`,
		"dist/jquery.js":    "jQuery",
		"dist/jquery.css":   "body{}",
		"dist/unrelated.js": "nope",
	})

	entry, err := bundler.Ensure(context.Background(), "jquery", "3.1.0")
	require.NoError(t, err)
	assert.Equal(t, "bower.zip", filepath.Base(entry.FilePath))
	assert.Positive(t, entry.SizeBytes)

	files := readZip(t, entry.FilePath)
	require.Len(t, files, 3)
	assert.Equal(t, "jQuery", files["dist/jquery.js"])
	assert.Equal(t, "body{}", files["dist/jquery.css"])

	config := files[ConfigName]
	assert.Equal(t, "3.1.0", gjson.Get(config, "version").String())
	assert.Equal(t, "jquery", gjson.Get(config, "name").String())
	assert.Contains(t, config, "\n  \"name\"", "two-space indentation")
}

func TestEnsureReusesExistingBundle(t *testing.T) {
	store, bundler := newFixture(t, map[string]string{
		"package.json": `{"version":"3.1.0"}`,
		"bower.json":   `{"main":"a.js"}`,
		"a.js":         "a",
	})

	first, err := bundler.Ensure(context.Background(), "jquery", "3.1.0")
	require.NoError(t, err)

	// 替换为哨兵内容：若被重新生成则内容会变化。
	_, err = store.Put(context.Background(), cache.ArchiveLocator("jquery", "3.1.0", "bower.zip"), bytes.NewReader([]byte("sentinel")), cache.PutOptions{})
	require.NoError(t, err)

	second, err := bundler.Ensure(context.Background(), "jquery", "3.1.0")
	require.NoError(t, err)
	assert.Equal(t, first.FilePath, second.FilePath)
	raw, err := os.ReadFile(second.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "sentinel", string(raw))
}

func TestEnsureConcurrentCallers(t *testing.T) {
	_, bundler := newFixture(t, map[string]string{
		"package.json": `{"version":"3.1.0"}`,
		"bower.json":   `{"main":"a.js"}`,
		"a.js":         "a",
	})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bundler.Ensure(context.Background(), "jquery", "3.1.0")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestEnsureMissingBowerJSON(t *testing.T) {
	_, bundler := newFixture(t, map[string]string{
		"package.json": `{"version":"3.1.0"}`,
	})

	_, err := bundler.Ensure(context.Background(), "jquery", "3.1.0")
	require.Error(t, err)
	assert.Equal(t, errkind.FileNotFound, errors.GetCode(err))
	assert.Equal(t, "/bower.json", errkind.Field(err, "filename"))
}

func TestEnsureMissingMainFile(t *testing.T) {
	_, bundler := newFixture(t, map[string]string{
		"package.json": `{"version":"3.1.0"}`,
		"bower.json":   `{"main":"dist/gone.js"}`,
	})

	_, err := bundler.Ensure(context.Background(), "jquery", "3.1.0")
	require.Error(t, err)
	assert.Equal(t, errkind.FileNotFound, errors.GetCode(err))
}

func TestStampVersion(t *testing.T) {
	config, mains, err := stampVersion([]byte(`{"b":1,"version":"0.1","a":[1,2]}`), "2.0.0")
	require.NoError(t, err)
	assert.Empty(t, mains)
	assert.Equal(t, "2.0.0", gjson.GetBytes(config, "version").String())
	assert.Less(t, bytes.Index(config, []byte(`"b"`)), bytes.Index(config, []byte(`"a"`)), "key order preserved")

	config, mains, err = stampVersion([]byte(`{"main":"x.js"}`), "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.js"}, mains)
	assert.Equal(t, "1.0.0", gjson.GetBytes(config, "version").String())

	_, _, err = stampVersion([]byte(`{`), "1.0.0")
	assert.Equal(t, errkind.ManifestParseError, errors.GetCode(err))
}

func TestNewBundlerName(t *testing.T) {
	assert.Equal(t, "bower.zip", NewBundler(nil, "", nil).bundleName)
	assert.Equal(t, "bundles/bower.zip", NewBundler(nil, "/bundles/bower.zip", nil).bundleName)
}
