package server

import (
	"net"
	"net/http"
	"time"

	"github.com/any-hub/pkg-cdn/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewRegistryClient 返回访问 registry 元数据的 http.Client，整体超时取 UpstreamTimeout。
func NewRegistryClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// NewDownloadClient 返回下载 tarball 的 http.Client。大包下载耗时不可预估，
// 这里只限制响应头等待时间，整体时长由调用方 context 控制。
func NewDownloadClient(cfg *config.Config) *http.Client {
	transport := defaultTransport.Clone()
	transport.ResponseHeaderTimeout = 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		transport.ResponseHeaderTimeout = cfg.Global.UpstreamTimeout.DurationValue()
	}
	return &http.Client{Transport: transport}
}
