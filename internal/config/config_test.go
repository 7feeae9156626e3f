package config

import (
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.ListenPort != 5000 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("UpstreamTimeout 解析错误: %v", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.DownloadTimeout.DurationValue() != 5*time.Minute {
		t.Fatalf("DownloadTimeout 应该自动填充默认值")
	}
	if cfg.Registry.URL != "https://registry.npmjs.org" {
		t.Fatalf("Registry.URL 应去掉结尾斜杠: %s", cfg.Registry.URL)
	}
	if cfg.Registry.MetadataTTL.DurationValue() != 2*time.Minute {
		t.Fatalf("纯数字 TTL 应按秒解析: %v", cfg.Registry.MetadataTTL.DurationValue())
	}
	if cfg.Registry.MetadataMaxEntries != 1000 {
		t.Fatalf("MetadataMaxEntries 解析错误")
	}
	if cfg.Serve.BowerBundlePath != "/bower.zip" {
		t.Fatalf("BowerBundlePath 应使用默认值: %s", cfg.Serve.BowerBundlePath)
	}
	if cfg.Serve.RedirectMaxAge.DurationValue() != 30*time.Second {
		t.Fatalf("RedirectMaxAge 解析错误")
	}
	if cfg.Serve.FileMaxAge.DurationValue() != 365*24*time.Hour {
		t.Fatalf("FileMaxAge 应默认为一年")
	}
	if cfg.Serve.AutoIndex {
		t.Fatalf("AutoIndex=false 应覆盖默认值")
	}
	if cfg.Serve.MaximumDepth != 10 {
		t.Fatalf("MaximumDepth 应默认为 10")
	}
	if len(cfg.Serve.BlockedPackages) != 2 || cfg.Serve.BlockedPackages[1] != "@bad/actor" {
		t.Fatalf("BlockedPackages 应去除空白: %#v", cfg.Serve.BlockedPackages)
	}
}

func TestValidateRejectsBadRegistry(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateRequiresCredentialPairs(t *testing.T) {
	cfg := validConfig()
	cfg.Registry.Username = "foo"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("仅提供 Username 时应报错")
	}
	fieldErr, ok := err.(FieldError)
	if !ok || fieldErr.Field != "Registry.Username/Password" {
		t.Fatalf("应返回 FieldError，实际: %#v", err)
	}

	cfg.Registry.Password = "bar"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("成对凭证应通过校验: %v", err)
	}
	if cfg.Registry.AuthMode() != "credentialed" {
		t.Fatalf("AuthMode 应为 credentialed")
	}
}

func TestServeValidation(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*ServeConfig)
		shouldErr bool
	}{
		{"defaults ok", func(*ServeConfig) {}, false},
		{"nested bundle ok", func(s *ServeConfig) { s.BowerBundlePath = "/dist/bower.zip" }, false},
		{"bundle dir", func(s *ServeConfig) { s.BowerBundlePath = "/bundles/" }, true},
		{"negative depth", func(s *ServeConfig) { s.MaximumDepth = -1 }, true},
		{"negative max age", func(s *ServeConfig) { s.RedirectMaxAge = Duration(-time.Second) }, true},
		{"blank in blocked name", func(s *ServeConfig) { s.BlockedPackages = []string{"left pad"} }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg.Serve)
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StoragePath:     "./data",
			UpstreamTimeout: Duration(time.Second),
			DownloadTimeout: Duration(time.Minute),
		},
		Registry: RegistryConfig{
			URL:                "https://registry.npmjs.org",
			MetadataTTL:        Duration(time.Minute),
			MetadataMaxEntries: 10,
		},
		Serve: ServeConfig{
			BowerBundlePath: "/bower.zip",
			RedirectMaxAge:  Duration(time.Minute),
			FileMaxAge:      Duration(time.Hour),
			AutoIndex:       true,
			MaximumDepth:    10,
		},
	}
}
