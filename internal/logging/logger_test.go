package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/any-hub/pkg-cdn/internal/config"
)

func TestConfigureDefaultsToStdout(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}
}

func TestInitLoggerFallbackOnPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	cfg := config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "pkg-cdn.log"),
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestConfigureCreatesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pkg-cdn.log")
	cfg := config.GlobalConfig{LogLevel: "debug", LogFilePath: path}
	logger, err := InitLogger(cfg)
	if err != nil {
		t.Fatalf("配置失败: %v", err)
	}
	logger.Info("test")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
}

func TestRequestFields(t *testing.T) {
	fields := RequestFields("@babel/core", "7.0.0", "/lib/index.js", true)
	if fields["package"] != "@babel/core" || fields["version"] != "7.0.0" {
		t.Fatalf("字段缺失: %#v", fields)
	}
	if fields["filename"] != "/lib/index.js" || fields["cache_hit"] != true {
		t.Fatalf("字段缺失: %#v", fields)
	}
	base := BaseFields("startup", "config.toml")
	if base["action"] != "startup" || base["configPath"] != "config.toml" {
		t.Fatalf("BaseFields 字段错误: %#v", base)
	}
}

func TestInitLoggerLevels(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{})
	if err != nil {
		t.Fatalf("空日志级别应回退为 info: %v", err)
	}
	if logger.GetLevel().String() != "info" {
		t.Fatalf("默认级别应为 info，实际 %s", logger.GetLevel())
	}
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "loud"}); err == nil {
		t.Fatalf("非法日志级别应报错")
	}
}
