// Package site serves the embedded landing page with links to the API docs
// and the reference capture script.
package site

import (
	"context"
	"net/http"
)

// Register attaches the landing page and its static assets to mux.
func Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}

	files := http.FileServer(FS())
	mux.Handle("GET /{$}", files)
	mux.Handle("GET /static/", http.StripPrefix("/static", files))
}
