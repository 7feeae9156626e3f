package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.DownloadTimeout.DurationValue() <= 0 {
		return newFieldError("Global.DownloadTimeout", "必须大于 0")
	}

	r := c.Registry
	if err := validateUpstream(r.URL); err != nil {
		return fmt.Errorf("%s: %w", sectionField("Registry", "URL"), err)
	}
	if r.MetadataTTL.DurationValue() <= 0 {
		return newFieldError(sectionField("Registry", "MetadataTTL"), "必须大于 0")
	}
	if r.MetadataMaxEntries <= 0 {
		return newFieldError(sectionField("Registry", "MetadataMaxEntries"), "必须大于 0")
	}
	if (r.Username == "") != (r.Password == "") {
		return newFieldError(sectionField("Registry", "Username/Password"), "必须同时提供或同时留空")
	}

	s := c.Serve
	if s.BowerBundlePath != "" {
		if strings.HasSuffix(s.BowerBundlePath, "/") || strings.ContainsAny(s.BowerBundlePath, "?#") {
			return newFieldError(sectionField("Serve", "BowerBundlePath"), "必须是包内文件路径")
		}
	}
	if s.RedirectMaxAge.DurationValue() < 0 {
		return newFieldError(sectionField("Serve", "RedirectMaxAge"), "不能为负数")
	}
	if s.FileMaxAge.DurationValue() < 0 {
		return newFieldError(sectionField("Serve", "FileMaxAge"), "不能为负数")
	}
	if s.MaximumDepth < 0 {
		return newFieldError(sectionField("Serve", "MaximumDepth"), "不能为负数")
	}
	for _, name := range s.BlockedPackages {
		if strings.ContainsAny(name, " \t") {
			return newFieldError(sectionField("Serve", "BlockedPackages"), fmt.Sprintf("包名不合法: %q", name))
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
