package fetch

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/klauspost/compress/gzip"

	"github.com/any-hub/pkg-cdn/internal/cache"
	"github.com/any-hub/pkg-cdn/internal/errkind"
)

const (
	dirMode      fs.FileMode = 0o755
	minFileMode  fs.FileMode = 0o644
	gzipMagicLen             = 2
)

// trackingReader 记录底层读取错误，用于区分解压失败与 tar 结构损坏。
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}

// extractTarball 将（可能 gzip 压缩的）tar 流解压到 root，每个条目去掉首段目录。
func extractTarball(ctx context.Context, r io.Reader, root string) error {
	br := bufio.NewReader(r)
	var src io.Reader = br
	compressed := false

	magic, err := br.Peek(gzipMagicLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return platformerrors.Wrap(err, errkind.DecompressionFailed, "read archive header")
	}
	if len(magic) == gzipMagicLen && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return platformerrors.Wrap(err, errkind.DecompressionFailed, "open gzip stream")
		}
		defer gz.Close()
		src = gz
		compressed = true
	}

	stream := &trackingReader{r: src}
	classify := func(err error, msg string) error {
		if stream.err != nil && compressed {
			return platformerrors.Wrap(err, errkind.DecompressionFailed, msg)
		}
		return platformerrors.Wrap(err, errkind.ExtractionFailed, msg)
	}

	tr := tar.NewReader(stream)
	for {
		// 取消或超时归为下载失败，与下载阶段上报的错误码一致。
		if err := ctx.Err(); err != nil {
			return platformerrors.Wrap(err, errkind.DownloadFailed, "archive transfer cancelled")
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return classify(err, "read archive entry")
		}
		if err := writeEntry(tr, hdr, root); err != nil {
			if stream.err != nil {
				return classify(err, fmt.Sprintf("extract %s", hdr.Name))
			}
			return platformerrors.Wrapf(err, errkind.ExtractionFailed, "extract %s", hdr.Name)
		}
	}

	// 读完剩余字节，让 gzip 校验尾部 CRC。
	if _, err := io.Copy(io.Discard, stream); err != nil {
		return classify(err, "drain archive")
	}
	return nil
}

// stripFirstSegment 去掉发布约定中的顶层目录（通常为 package/）。
func stripFirstSegment(name string) (string, bool) {
	name = strings.TrimLeft(name, "/")
	name = strings.TrimPrefix(name, "./")
	_, rest, ok := strings.Cut(name, "/")
	rest = strings.TrimRight(rest, "/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

func safeJoin(root, rel string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(rel))
	if target == root || !cache.Within(root, target) {
		return "", fmt.Errorf("entry %q escapes extraction root", rel)
	}
	return target, nil
}

func writeEntry(tr *tar.Reader, hdr *tar.Header, root string) error {
	rel, ok := stripFirstSegment(hdr.Name)
	if !ok {
		return nil
	}
	target, err := safeJoin(root, rel)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, dirMode); err != nil {
			return err
		}
		return os.Chmod(target, dirMode)
	case tar.TypeReg:
		return writeFile(tr, hdr, target)
	default:
		// 符号链接、硬链接、设备文件等一律跳过。
		return nil
	}
}

func writeFile(r io.Reader, hdr *tar.Header, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return err
	}

	mode := fileMode(hdr.Mode)
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	if err := os.Chmod(target, mode); err != nil {
		return err
	}
	if !hdr.ModTime.IsZero() {
		modTime := hdr.ModTime.UTC()
		_ = os.Chtimes(target, time.Now(), modTime)
	}
	return nil
}

// fileMode 丢弃 setuid/setgid/sticky，保证至少 0644。
func fileMode(raw int64) fs.FileMode {
	return (fs.FileMode(raw) & fs.ModePerm) | minFileMode
}
