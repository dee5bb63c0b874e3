package preview

import (
	"bytes"
	"fmt"
	"text/template"
)

// Every field is escaped before it reaches the template; text/template adds
// nothing of its own.
const documentTemplate = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}}</title>
  <meta name="description" content="{{.Description}}" />
  <meta property="og:title" content="{{.Heading}}" />
  <meta property="og:description" content="{{.Description}}" />
  <meta property="og:image" content="{{.Image}}" />
{{- if .ImageWidth}}
  <meta property="og:image:width" content="{{.ImageWidth}}" />
  <meta property="og:image:height" content="{{.ImageHeight}}" />
{{- end}}
  <meta property="og:url" content="{{.URL}}" />
  <meta property="og:type" content="website" />
  <meta property="og:site_name" content="{{.SiteName}}" />
{{- if .Audio}}
  <meta property="og:audio" content="{{.Audio}}" />
{{- end}}
  <meta name="twitter:card" content="summary_large_image" />
{{- if .TwitterSite}}
  <meta name="twitter:site" content="{{.TwitterSite}}" />
{{- end}}
  <meta name="twitter:title" content="{{.Heading}}" />
  <meta name="twitter:description" content="{{.Description}}" />
  <meta name="twitter:image" content="{{.Image}}" />
  <link rel="canonical" href="{{.URL}}" />
</head>
<body>
  <main>
    <h1>{{.Heading}}</h1>
    <p>{{.Description}}</p>
    <p><a href="{{.URL}}">{{.LinkText}}</a></p>
  </main>
{{- if .ScriptPath}}
  <script>window.location.replace("{{.ScriptPath}}");</script>
{{- end}}
</body>
</html>
`

var tmpl = template.Must(template.New("preview").Parse(documentTemplate))

// document holds already-escaped values.
type document struct {
	Lang        string
	Title       string
	Heading     string
	Description string
	Image       string
	ImageWidth  int
	ImageHeight int
	URL         string
	SiteName    string
	Audio       string
	TwitterSite string
	LinkText    string
	// ScriptPath is a percent-encoded path, safe inside a JS string literal.
	ScriptPath string
}

func (d document) render() ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, d); err != nil {
		return nil, fmt.Errorf("execute preview template: %w", err)
	}
	return buf.Bytes(), nil
}

func errorPage(siteName, siteURL string) []byte {
	name := Escape(siteName)
	link := Escape(siteURL)
	return []byte(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>` + name + `</title>
  <meta property="og:title" content="` + name + `" />
  <meta property="og:type" content="website" />
  <meta property="og:url" content="` + link + `" />
</head>
<body>
  <h1>Something went wrong</h1>
  <p><a href="` + link + `">Continue to ` + name + `</a></p>
</body>
</html>
`)
}
