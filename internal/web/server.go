// Package web serves the browser chat page.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFiles embed.FS

// Handler returns an http.Handler serving the chat page and its assets.
// Requests for "/" get index.html.
func Handler() http.Handler {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" || r.URL.Path == "" {
			// FileServer would redirect an explicit /index.html.
			http.ServeFileFS(w, r, subFS, "index.html")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// RegisterRoutes mounts the chat page at / and its assets under /static/.
func RegisterRoutes(mux *http.ServeMux) {
	handler := Handler()
	mux.HandleFunc("GET /{$}", handler.ServeHTTP)
	mux.Handle("GET /static/", http.StripPrefix("/static", handler))
}
