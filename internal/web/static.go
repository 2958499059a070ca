package web

import (
	"embed"
	"io/fs"
)

// staticFiles holds the UI: index.html, app.js and style.css.
//
//go:embed static
var staticFiles embed.FS

// staticRoot returns the embedded UI with the static/ prefix removed.
func staticRoot() fs.FS {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err) // static/ is embedded at build time
	}
	return sub
}
