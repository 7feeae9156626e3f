package cache

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	locator := ArchiveLocator("left-pad", "1.3.0", "bower.zip")

	modTime := time.Now().Add(-time.Hour).UTC()
	payload := []byte("payload")
	if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{ModTime: modTime}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}
	info, err := os.Stat(result.Entry.FilePath)
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	if info.Mode().Perm()&0o044 == 0 {
		t.Fatalf("derived file should be world readable, got %v", info.Mode())
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), ArchiveLocator("left-pad", "1.3.0", "missing"))
	if err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	locator := ArchiveLocator("left-pad", "1.3.0", "lib")

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	filePath, err := fs.entryPath(locator)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(filePath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), locator); err == nil || err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStoreRejectsEscapingPaths(t *testing.T) {
	store := newTestStore(t)
	fs := store.(*fileStore)

	if _, err := store.ArchiveDir("left-pad", "../../etc"); err == nil {
		t.Fatalf("version containing separators should be rejected")
	}
	if _, err := store.ArchiveDir("..", "x"); err != nil {
		// "..@x" 是合法目录名，不应越界
		t.Fatalf("unexpected error: %v", err)
	}

	filePath, err := fs.entryPath(Locator{Archive: "left-pad@1.3.0", Path: "../../../outside"})
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	dir, _ := store.ArchiveDir("left-pad", "1.3.0")
	if !Within(dir, filePath) {
		t.Fatalf("cleaned path escaped archive dir: %s", filePath)
	}
}

func TestArchiveDirLayout(t *testing.T) {
	store := newTestStore(t)

	dir, err := store.ArchiveDir("@babel/core", "7.0.0")
	if err != nil {
		t.Fatalf("archive dir error: %v", err)
	}
	want := filepath.Join(store.Root(), "packages", "@babel", "core@7.0.0")
	if dir != want {
		t.Fatalf("expected %s, got %s", want, dir)
	}
}

func TestArchiveDirDoesNotCollideAcrossPackages(t *testing.T) {
	store := newTestStore(t)

	leftPad, err := store.ArchiveDir("left-pad", "1.3.0")
	if err != nil {
		t.Fatalf("archive dir error: %v", err)
	}
	left, err := store.ArchiveDir("left", "pad-1.3.0")
	if err != nil {
		t.Fatalf("archive dir error: %v", err)
	}
	if leftPad == left {
		t.Fatalf("left-pad@1.3.0 and left@pad-1.3.0 share directory %s", left)
	}
}

func TestReadyRequiresManifest(t *testing.T) {
	store := newTestStore(t)
	dir, err := store.ArchiveDir("left-pad", "1.3.0")
	if err != nil {
		t.Fatalf("archive dir error: %v", err)
	}
	if store.Ready(dir) {
		t.Fatalf("missing directory should not be ready")
	}

	if err := os.MkdirAll(filepath.Join(dir, ManifestName), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if store.Ready(dir) {
		t.Fatalf("directory named package.json should not count as manifest")
	}
	if err := os.Remove(filepath.Join(dir, ManifestName)); err != nil {
		t.Fatalf("remove error: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ManifestName), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if !store.Ready(dir) {
		t.Fatalf("archive with package.json should be ready")
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
