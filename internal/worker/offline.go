package worker

import (
	"bytes"
	"html/template"
	"log/slog"

	"github.com/yuin/goldmark"
)

var offlineLayout = template.Must(template.New("offline").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Offline</title>
<style>body{font-family:system-ui,sans-serif;max-width:36rem;margin:4rem auto;padding:0 1rem;color:#333}</style>
</head>
<body>
<main>{{.}}</main>
</body>
</html>
`))

// renderOfflinePage converts the configured markdown into the HTML page
// served for navigations that cannot be answered.
func renderOfflinePage(md string, logger *slog.Logger) []byte {
	var body bytes.Buffer
	var content template.HTML
	if err := goldmark.Convert([]byte(md), &body); err != nil {
		logger.Warn("offline page markdown failed to render", "error", err)
		content = template.HTML(template.HTMLEscapeString(md))
	} else {
		content = template.HTML(body.String())
	}

	var page bytes.Buffer
	if err := offlineLayout.Execute(&page, content); err != nil {
		return []byte("<!DOCTYPE html><title>Offline</title><p>You are offline.</p>")
	}
	return page.Bytes()
}
