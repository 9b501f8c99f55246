package web

import (
	"bytes"
	"html/template"

	"github.com/sweeney/iot-module/internal/param"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"isBool":  func(v param.Value) bool { return v.Kind() == param.KindBool },
	"isInt":   func(v param.Value) bool { return v.Kind() == param.KindInt },
	"isEmpty": func(v param.Value) bool { return v.Kind() == param.KindEmpty },
	"boolOf": func(v param.Value) bool {
		b, _ := v.AsBool()
		return b
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.null { color: orange; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>

<h2>State</h2>
<table>
{{range .State}}<tr><th>{{.Name}}</th>{{if isBool .Value}}<td class="{{if boolOf .Value}}on{{else}}off{{end}}">{{.Value}}</td>{{else if isEmpty .Value}}<td class="null">null</td>{{else}}<td>{{.Value}}</td>{{end}}</tr>
{{end}}</table>

<h2>Settings</h2>
{{if .Settings}}<form action="/settings" method="get">
<table>
{{range .Settings}}<tr><th>{{.Name}}</th><td>{{if isBool .Value}}<select name="{{.Name}}"><option value="true"{{if boolOf .Value}} selected{{end}}>true</option><option value="false"{{if not (boolOf .Value)}} selected{{end}}>false</option></select>{{else if isInt .Value}}<input type="number" name="{{.Name}}" value="{{.Value}}">{{else if isEmpty .Value}}<span class="null">null</span>{{else}}<input type="text" name="{{.Name}}" value="{{.Value}}">{{end}}</td></tr>
{{end}}</table>
<input type="submit" value="Save">
</form>{{else}}<p>No settings.</p>{{end}}

<p><a href="/state">JSON</a> | <a href="/firmware_update">Firmware update mode</a></p>
</body>
</html>
`

// Page is the data shown on the index page.
type Page struct {
	Title    string
	State    []param.Entry
	Settings []param.Entry
}

// RenderIndex renders the HTML index page.
func RenderIndex(page Page) ([]byte, error) {
	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, page); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
