package fileres

import (
	"fmt"

	"github.com/jmgilman/go/errors"
	"github.com/tidwall/gjson"

	"github.com/any-hub/pkg-cdn/internal/errkind"
)

// DefaultMain 与 npm 一致：manifest 未声明入口时使用 index。
const DefaultMain = "index"

// mainFields 按优先级排列的入口字段；browser 仅接受字符串形式。
var mainFields = []string{"unpkg", "browser", "main"}

// MainPath 根据 manifest 计算逻辑入口路径。queryField 非空时必须存在，
// 支持 a.b 形式的嵌套字段。
func MainPath(manifest []byte, queryField string) (string, error) {
	if !gjson.ValidBytes(manifest) {
		return "", errors.New(errkind.ManifestParseError, "Error parsing package.json")
	}
	doc := gjson.ParseBytes(manifest)
	if !doc.IsObject() {
		return "", errors.New(errkind.ManifestParseError, "Error parsing package.json: not an object")
	}

	if queryField != "" {
		value := doc.Get(escapePath(queryField))
		if !value.Exists() || value.Type == gjson.Null {
			return "", errors.WithContext(
				errors.New(errkind.FieldNotFound, fmt.Sprintf("field %q in package.json", queryField)),
				"field", queryField,
			)
		}
		if value.Type == gjson.String && value.String() != "" {
			return value.String(), nil
		}
		return DefaultMain, nil
	}

	for _, field := range mainFields {
		value := doc.Get(field)
		if value.Type == gjson.String && value.String() != "" {
			return value.String(), nil
		}
	}
	return DefaultMain, nil
}

// escapePath 转义 gjson 路径中的通配符与管道符，仅保留 "." 作为层级分隔。
func escapePath(field string) string {
	out := make([]byte, 0, len(field))
	for i := 0; i < len(field); i++ {
		switch c := field[i]; c {
		case '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			out = append(out, '\\', c)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
