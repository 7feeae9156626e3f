package fileres

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofiber/utils/v2"
)

const (
	textPlain      = "text/plain"
	javascriptMIME = "application/javascript"
	fallbackMIME   = "application/octet-stream"
)

// textFiles 匹配约定俗成的无扩展名文本文件与点文件。
var textFiles = regexp.MustCompile(`(?i)(?:^|/)(LICENSE|README|CHANGES|AUTHORS|Makefile|\.[a-z]*rc|\.git[a-z]*|\.[a-z]*ignore)$`)

// extensionOverrides 覆盖 MIME 表里与包内容语义不符的条目。
var extensionOverrides = map[string]string{
	".js":  javascriptMIME,
	".mjs": javascriptMIME,
	".cjs": javascriptMIME,
	".ts":  textPlain,
	".tsx": textPlain,
	".jsx": textPlain,
	".md":  "text/markdown",
	".map": "application/json",
}

// ContentType 根据文件名推断响应类型；HTML 一律降级为 text/plain，避免在 CDN 域下执行页面。
func ContentType(name string) string {
	slashed := filepath.ToSlash(name)
	if textFiles.MatchString(slashed) {
		return textPlain
	}

	ext := strings.ToLower(filepath.Ext(slashed))
	if ext == "" {
		return textPlain
	}
	if override, ok := extensionOverrides[ext]; ok {
		return override
	}

	mime := utils.GetMIME(ext)
	if mime == "" {
		return fallbackMIME
	}
	base, _, _ := strings.Cut(mime, ";")
	if strings.TrimSpace(base) == "text/html" {
		return textPlain
	}
	return mime
}
