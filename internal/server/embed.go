package server

import (
	"embed"
	"html/template"
)

//go:embed web/index.html
var embedFS embed.FS

// indexTemplate はルートページのテンプレート
var indexTemplate = template.Must(template.ParseFS(embedFS, "web/index.html"))

// indexData はルートページに埋め込む値
type indexData struct {
	Title  string
	Width  int
	Height int
	Relay  bool
}
