// Package errkind defines the error codes shared by the gateway pipeline and
// maps them onto HTTP outcomes. Every stage reports failures as coded
// PlatformErrors so the request handler can pick a status and a
// human-readable description without inspecting error strings.
package errkind

import (
	"net/http"
	"strings"

	"github.com/jmgilman/go/errors"
)

// 请求/资源类错误码
const (
	InvalidURL      errors.ErrorCode = "INVALID_URL"
	PackageNotFound errors.ErrorCode = "PACKAGE_NOT_FOUND"
	VersionNotFound errors.ErrorCode = "VERSION_NOT_FOUND"
	FieldNotFound   errors.ErrorCode = "FIELD_NOT_FOUND"
	FileNotFound    errors.ErrorCode = "FILE_NOT_FOUND"
)

// 上游/本地处理失败类错误码
const (
	UpstreamUnavailable       errors.ErrorCode = "UPSTREAM_UNAVAILABLE"
	UpstreamMalformedResponse errors.ErrorCode = "UPSTREAM_MALFORMED_RESPONSE"
	DownloadFailed            errors.ErrorCode = "DOWNLOAD_FAILED"
	DecompressionFailed       errors.ErrorCode = "DECOMPRESSION_FAILED"
	ExtractionFailed          errors.ErrorCode = "EXTRACTION_FAILED"
	FilesystemError           errors.ErrorCode = "FILESYSTEM_ERROR"
	ManifestParseError        errors.ErrorCode = "MANIFEST_PARSE_ERROR"
)

// IsNotFound 判断错误是否属于正常的 404 结果（不应按失败记录日志）。
func IsNotFound(err error) bool {
	switch errors.GetCode(err) {
	case PackageNotFound, VersionNotFound, FieldNotFound, FileNotFound:
		return true
	default:
		return false
	}
}

// Status 将错误码映射为 HTTP 状态码，未知错误一律按 500 处理。
func Status(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.GetCode(err) == InvalidURL {
		return http.StatusForbidden
	}
	if IsNotFound(err) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Describe 返回不带错误码前缀的描述，逐层拼接 cause，供响应正文使用。
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var platformErr errors.PlatformError
	if !errors.As(err, &platformErr) {
		return err.Error()
	}
	parts := []string{platformErr.Message()}
	if cause := platformErr.Unwrap(); cause != nil {
		parts = append(parts, Describe(cause))
	}
	return strings.Join(parts, ": ")
}

// Field 读取错误上下文中的单个字段，缺失时返回空串。
func Field(err error, key string) string {
	var platformErr errors.PlatformError
	if !errors.As(err, &platformErr) {
		return ""
	}
	if value, ok := platformErr.Context()[key]; ok {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return ""
}
