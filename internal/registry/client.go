package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmgilman/go/errors"

	"github.com/any-hub/pkg-cdn/internal/errkind"
)

// Client 负责向上游 registry 请求包元数据。
type Client struct {
	http     *http.Client
	baseURL  string
	username string
	password string
}

// ClientOption 允许调用方定制凭证等可选参数。
type ClientOption func(*Client)

// WithBasicAuth 为上游请求附加 Basic 凭证。
func WithBasicAuth(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// NewClient 使用共享 http.Client 构造 registry 客户端。
func NewClient(httpClient *http.Client, baseURL string, opts ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL 返回规范化后的 registry 地址。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Fetch 拉取单个包的元数据；上游 404 时返回 (nil, nil)。
func (c *Client) Fetch(ctx context.Context, fullName string) (*Metadata, error) {
	target := c.baseURL + "/" + EncodeName(fullName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrapf(err, errkind.UpstreamUnavailable, "build registry request for %s", fullName)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WithContext(
			errors.Wrapf(err, errkind.UpstreamUnavailable, "unable to retrieve info for package %s", fullName),
			"package", fullName,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.WithContext(
			errors.Newf(errkind.UpstreamUnavailable, "registry responded %d for package %s", resp.StatusCode, fullName),
			"package", fullName,
		)
	}

	meta, err := decodeDocument(resp.Body)
	if err != nil {
		return nil, errors.WithContext(
			errors.Wrapf(err, errkind.UpstreamMalformedResponse, "unable to retrieve info for package %s", fullName),
			"package", fullName,
		)
	}
	if meta.Name == "" {
		meta.Name = fullName
	}
	return meta, nil
}

// EncodeName 按 registry 约定转义包名：scope 的 @ 保留，其余部分整体转义。
func EncodeName(fullName string) string {
	if strings.HasPrefix(fullName, "@") {
		return "@" + url.PathEscape(fullName[1:])
	}
	return url.PathEscape(fullName)
}

type wireDocument struct {
	Name     string                 `json:"name"`
	Versions map[string]wireVersion `json:"versions"`
	DistTags map[string]string      `json:"dist-tags"`
}

type wireVersion struct {
	Version string `json:"version"`
	Dist    struct {
		Tarball string `json:"tarball"`
	} `json:"dist"`
}

func decodeDocument(r io.Reader) (*Metadata, error) {
	var doc wireDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode registry document: %w", err)
	}
	if doc.Versions == nil {
		return nil, fmt.Errorf("registry document has no versions")
	}

	meta := &Metadata{
		Name:     doc.Name,
		Versions: make(map[string]VersionRecord, len(doc.Versions)),
		DistTags: doc.DistTags,
	}
	if meta.DistTags == nil {
		meta.DistTags = map[string]string{}
	}
	for key, v := range doc.Versions {
		version := v.Version
		if version == "" {
			version = key
		}
		meta.Versions[key] = VersionRecord{Version: version, TarballURL: v.Dist.Tarball}
	}
	return meta, nil
}
