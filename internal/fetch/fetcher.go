// Package fetch downloads package tarballs and extracts them into archive
// directories. Download and extraction run as two concurrent stages joined
// by a pipe; whichever stage reports first decides the outcome. Extraction
// writes into a hidden staging directory next to the target and is published
// with a single rename, so a directory that exists under its final name is
// always complete.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jmgilman/go/errors"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pkg-cdn/internal/cache"
	"github.com/any-hub/pkg-cdn/internal/errkind"
)

// Fetcher 负责"下载 → 解压 → 发布"流程，本身不做并发去重。
type Fetcher struct {
	client *http.Client
	logger *logrus.Logger

	completed *xsync.Counter
	failed    *xsync.Counter
	bytes     *xsync.Counter
}

// Stats 汇总下载计数，供诊断接口输出。
type Stats struct {
	Completed       int64 `json:"completed"`
	Failed          int64 `json:"failed"`
	BytesDownloaded int64 `json:"bytes_downloaded"`
}

// New 构造 Fetcher，client 为空时使用 http.DefaultClient。
func New(client *http.Client, logger *logrus.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Fetcher{
		client:    client,
		logger:    logger,
		completed: xsync.NewCounter(),
		failed:    xsync.NewCounter(),
		bytes:     xsync.NewCounter(),
	}
}

// Fetch 下载 tarballURL 并发布到 targetDir。targetDir 已就绪时（并发写者先完成）视为成功。
func (f *Fetcher) Fetch(ctx context.Context, tarballURL, targetDir string) error {
	started := time.Now()
	err := f.fetch(ctx, tarballURL, targetDir)

	fields := logrus.Fields{
		"action":     "fetch_archive",
		"tarball":    tarballURL,
		"target":     targetDir,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		f.failed.Inc()
		f.logger.WithError(err).WithFields(fields).Warn("fetch_failed")
		return err
	}
	f.completed.Inc()
	f.logger.WithFields(fields).Info("fetch_complete")
	return nil
}

func (f *Fetcher) fetch(ctx context.Context, tarballURL, targetDir string) error {
	parent := filepath.Dir(targetDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errors.Wrapf(err, errkind.FilesystemError, "create %s", parent)
	}
	staging, err := os.MkdirTemp(parent, ".staging-*")
	if err != nil {
		return errors.Wrapf(err, errkind.FilesystemError, "create staging dir in %s", parent)
	}
	// rename 成功后 staging 已不存在，RemoveAll 为空操作。
	defer os.RemoveAll(staging)
	if err := os.Chmod(staging, dirMode); err != nil {
		return errors.Wrapf(err, errkind.FilesystemError, "chmod %s", staging)
	}

	if err := f.stream(ctx, tarballURL, staging); err != nil {
		return err
	}
	return publish(staging, targetDir)
}

// stream 并发运行下载与解压两个阶段，结果以首个上报为准。
func (f *Fetcher) stream(ctx context.Context, tarballURL, staging string) error {
	done := newCompletion()
	pr, pw := io.Pipe()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.download(ctx, tarballURL, pw, done)
	}()
	go func() {
		defer wg.Done()
		if err := extractTarball(ctx, pr, staging); err != nil {
			done.settle(err)
			pr.CloseWithError(err)
			return
		}
		done.settle(nil)
		pr.Close()
	}()
	wg.Wait()

	if n := done.Discarded(); n > 0 {
		f.logger.WithFields(logrus.Fields{
			"action":    "fetch_archive",
			"tarball":   tarballURL,
			"discarded": n,
		}).Debug("fetch_signals_discarded")
	}
	return done.Err()
}

// download 只在失败时结算；成功时关闭写端，由解压阶段决定最终结果。
func (f *Fetcher) download(ctx context.Context, tarballURL string, pw *io.PipeWriter, done *completion) {
	fail := func(err error) {
		done.settle(errors.WithContext(err, "tarball", tarballURL))
		pw.CloseWithError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tarballURL, nil)
	if err != nil {
		fail(errors.Wrap(err, errkind.DownloadFailed, "build tarball request"))
		return
	}
	resp, err := f.client.Do(req)
	if err != nil {
		fail(errors.Wrap(err, errkind.DownloadFailed, "download tarball"))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fail(errors.Newf(errkind.DownloadFailed, "download tarball: unexpected status %d", resp.StatusCode))
		return
	}

	n, err := io.Copy(pw, resp.Body)
	f.bytes.Add(n)
	if err != nil {
		fail(errors.Wrap(err, errkind.DownloadFailed, "download tarball"))
		return
	}
	f.logger.WithFields(logrus.Fields{
		"action":  "fetch_archive",
		"tarball": tarballURL,
		"size":    humanize.Bytes(uint64(n)),
	}).Debug("download_complete")
	pw.Close()
}

func publish(staging, targetDir string) error {
	if !cache.IsReady(staging) {
		return errors.Newf(errkind.ExtractionFailed, "archive contains no %s", cache.ManifestName)
	}
	if err := os.Rename(staging, targetDir); err != nil {
		if cache.IsReady(targetDir) {
			return nil
		}
		return errors.Wrap(err, errkind.FilesystemError, fmt.Sprintf("publish %s", targetDir))
	}
	return nil
}

// Stats 返回累计计数。
func (f *Fetcher) Stats() Stats {
	return Stats{
		Completed:       f.completed.Value(),
		Failed:          f.failed.Value(),
		BytesDownloaded: f.bytes.Value(),
	}
}
