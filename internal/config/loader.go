package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultPath 是未显式指定时读取的配置文件。
const DefaultPath = "config.toml"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectLegacyHubs(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyRegistryDefaults(&cfg.Registry)
	applyServeDefaults(&cfg.Serve)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("DownloadTimeout", "5m")

	v.SetDefault("Registry.URL", "https://registry.npmjs.org")
	v.SetDefault("Registry.MetadataTTL", "60s")
	v.SetDefault("Registry.MetadataMaxEntries", 500)

	v.SetDefault("Serve.BowerBundlePath", "/bower.zip")
	v.SetDefault("Serve.RedirectMaxAge", "60s")
	v.SetDefault("Serve.FileMaxAge", "8760h")
	v.SetDefault("Serve.AutoIndex", true)
	v.SetDefault("Serve.MaximumDepth", 10)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.DownloadTimeout.DurationValue() == 0 {
		g.DownloadTimeout = Duration(5 * time.Minute)
	}
}

func applyRegistryDefaults(r *RegistryConfig) {
	r.URL = strings.TrimRight(strings.TrimSpace(r.URL), "/")
	if r.MetadataTTL.DurationValue() == 0 {
		r.MetadataTTL = Duration(time.Minute)
	}
	if r.MetadataMaxEntries == 0 {
		r.MetadataMaxEntries = 500
	}
}

func applyServeDefaults(s *ServeConfig) {
	if trimmed := strings.TrimSpace(s.BowerBundlePath); trimmed != "" && !strings.HasPrefix(trimmed, "/") {
		s.BowerBundlePath = "/" + trimmed
	}
	if s.RedirectMaxAge.DurationValue() == 0 {
		s.RedirectMaxAge = Duration(time.Minute)
	}
	if s.FileMaxAge.DurationValue() == 0 {
		s.FileMaxAge = Duration(365 * 24 * time.Hour)
	}
	blocked := s.BlockedPackages[:0]
	for _, name := range s.BlockedPackages {
		if name = strings.TrimSpace(name); name != "" {
			blocked = append(blocked, name)
		}
	}
	s.BlockedPackages = blocked
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectLegacyHubs 拒绝多 Hub 时代的 [[Hub]] 配置段，避免静默忽略。
func rejectLegacyHubs(v *viper.Viper) error {
	raw := v.Get("Hub")
	if raw == nil {
		return nil
	}
	if hubs, ok := raw.([]interface{}); ok && len(hubs) == 0 {
		return nil
	}
	return newFieldError("Hub", "已不再支持，请改用 [Registry] 配置上游 registry")
}
