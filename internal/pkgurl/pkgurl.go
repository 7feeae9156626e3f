// Package pkgurl parses request paths of the form
//
//	/[@scope/]name[@versionSpec][/filename][?query]
//
// into package specifiers and rebuilds canonical paths from them.
package pkgurl

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/jmgilman/go/errors"

	"github.com/any-hub/pkg-cdn/internal/errkind"
)

// DefaultVersion 在路径未携带版本时使用。
const DefaultVersion = "latest"

var pathPattern = regexp.MustCompile(`^/(?:@([^/@]+)/)?([^/@]+)(?:@([^/]+))?(/.*)?$`)

// allowedQueryKeys 之外的任何查询参数都会使整个 URL 无效。
var allowedQueryKeys = map[string]struct{}{
	"main": {},
	"json": {},
}

// Spec 是一次请求解析出的包描述，解析后不再修改。
type Spec struct {
	Scope       string
	Name        string
	VersionSpec string
	Filename    string
	Query       map[string]string
	RawQuery    string
}

// Parse 解析原始（未解码）路径与查询串，非法输入返回 InvalidURL。
func Parse(rawPath, rawQuery string) (Spec, error) {
	invalid := func() (Spec, error) {
		target := rawPath
		if rawQuery != "" {
			target += "?" + rawQuery
		}
		return Spec{}, errors.WithContext(errors.New(errkind.InvalidURL, target), "url", target)
	}

	m := pathPattern.FindStringSubmatch(rawPath)
	if m == nil {
		return invalid()
	}

	var segments [4]string
	for i, raw := range m[1:] {
		decoded, err := url.PathUnescape(raw)
		if err != nil {
			return invalid()
		}
		segments[i] = decoded
	}
	scope, name, version, filename := segments[0], segments[1], segments[2], segments[3]

	if !validNamePart(name) || (m[1] != "" && !validNamePart(scope)) {
		return invalid()
	}
	if strings.Contains(version, "/") {
		return invalid()
	}
	if version == "" {
		version = DefaultVersion
	}

	query, ok := parseQuery(rawQuery)
	if !ok {
		return invalid()
	}

	return Spec{
		Scope:       scope,
		Name:        name,
		VersionSpec: version,
		Filename:    filename,
		Query:       query,
		RawQuery:    rawQuery,
	}, nil
}

// validNamePart 要求解码后的 scope/name 依旧不包含分隔符。
func validNamePart(part string) bool {
	if part == "" || part == "." || part == ".." {
		return false
	}
	return !strings.ContainsAny(part, "/@")
}

func parseQuery(rawQuery string) (map[string]string, bool) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, false
	}
	query := make(map[string]string, len(values))
	for key, vals := range values {
		if _, ok := allowedQueryKeys[key]; !ok {
			return nil, false
		}
		query[key] = ""
		if len(vals) > 0 {
			query[key] = vals[0]
		}
	}
	return query, true
}

// FullName 返回带 scope 的完整包名，例如 @babel/core。
func (s Spec) FullName() string {
	if s.Scope == "" {
		return s.Name
	}
	return "@" + s.Scope + "/" + s.Name
}

// HasQuery 判断查询参数中是否出现 key（允许空值）。
func (s Spec) HasQuery(key string) bool {
	_, ok := s.Query[key]
	return ok
}

// WithVersion 复制当前描述并替换版本。
func (s Spec) WithVersion(version string) Spec {
	s.VersionSpec = version
	return s
}

// Search 返回带 ? 前缀的原始查询串，为空时返回空串。
func (s Spec) Search() string {
	if s.RawQuery == "" {
		return ""
	}
	return "?" + s.RawQuery
}

// URL 重建规范路径。
func (s Spec) URL() string {
	return CreatePackageURL(s.FullName(), s.VersionSpec, s.Filename, s.Search())
}

// CreatePackageURL 按 /name[@version][filename][search] 拼接路径，各段单独转义。
func CreatePackageURL(fullName, version, filename, search string) string {
	var b strings.Builder
	b.WriteByte('/')
	if scope, name, ok := strings.Cut(strings.TrimPrefix(fullName, "@"), "/"); ok && strings.HasPrefix(fullName, "@") {
		b.WriteByte('@')
		b.WriteString(url.PathEscape(scope))
		b.WriteByte('/')
		b.WriteString(url.PathEscape(name))
	} else {
		b.WriteString(url.PathEscape(fullName))
	}
	if version != "" {
		b.WriteByte('@')
		b.WriteString(url.PathEscape(version))
	}
	if filename != "" {
		parts := strings.Split(filename, "/")
		for i, part := range parts {
			parts[i] = url.PathEscape(part)
		}
		b.WriteString(strings.Join(parts, "/"))
	}
	b.WriteString(search)
	return b.String()
}
