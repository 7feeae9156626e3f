package listing

import (
	"bytes"
	"html/template"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	platformerrors "github.com/jmgilman/go/errors"

	"github.com/any-hub/pkg-cdn/internal/errkind"
	"github.com/any-hub/pkg-cdn/internal/fileres"
)

var indexPage = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Index of {{.Dir}}</title>
<style>body{font:14px Monaco,monospace;padding:0 10px 5px}table{width:100%;border-collapse:collapse}tr.even{background-color:#eee}th{text-align:left}th,td{padding:.1em .25em}address{text-align:right}</style>
</head>
<body>
<h1>Index of {{.Dir}}</h1>
<hr>
<table>
<thead><tr><th>Name</th><th>Type</th><th>Size</th><th>Last Modified</th></tr></thead>
<tbody>
{{- if .HasParent}}
<tr class="odd"><td><a title="Parent directory" href="../">..</a></td><td>-</td><td>-</td><td>-</td></tr>
{{- end}}
{{- range $i, $row := .Rows}}
<tr class="{{if $row.Odd}}odd{{else}}even{{end}}"><td><a title="{{$row.Name}}" href="{{$row.Href}}">{{$row.Name}}</a></td><td>{{$row.Type}}</td><td>{{$row.Size}}</td><td>{{$row.Modified}}</td></tr>
{{- end}}
</tbody>
</table>
<hr>
<address>{{.Title}}</address>
</body>
</html>
`))

type indexRow struct {
	Name     string
	Href     string
	Type     string
	Size     string
	Modified string
	Odd      bool
}

type indexData struct {
	Title     string
	Dir       string
	HasParent bool
	Rows      []indexRow
}

// IndexHTML 渲染 rel 目录的 HTML 索引页，title 通常为 name@version。
// rel 不是目录或不存在时返回 (nil, nil)。
func IndexHTML(title, base, rel string) ([]byte, error) {
	logical := path.Clean("/" + rel)
	target, err := fileres.StatPath(base, logical)
	if err != nil {
		return nil, err
	}
	if target == nil || !target.IsDir {
		return nil, nil
	}
	children, err := os.ReadDir(target.AbsolutePath)
	if err != nil {
		return nil, platformerrors.Wrapf(err, errkind.FilesystemError, "read directory %s", logical)
	}

	data := indexData{Title: title, Dir: logical, HasParent: logical != "/"}
	for _, child := range children {
		info, err := child.Info()
		if err != nil {
			continue
		}
		row := indexRow{Name: child.Name(), Href: url.PathEscape(child.Name()), Type: "-", Size: "-", Modified: "-"}
		if info.IsDir() {
			row.Href += "/"
		} else {
			row.Type = fileres.ContentType(child.Name())
			row.Size = humanize.Bytes(uint64(info.Size()))
			row.Modified = info.ModTime().UTC().Format(time.RFC3339)
		}
		row.Odd = len(data.Rows)%2 == 1
		data.Rows = append(data.Rows, row)
	}

	var buf bytes.Buffer
	if err := indexPage.Execute(&buf, data); err != nil {
		return nil, platformerrors.Wrap(err, errkind.FilesystemError, "render directory index")
	}
	return buf.Bytes(), nil
}
