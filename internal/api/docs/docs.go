// Package docs serves the embedded OpenAPI description of the management API
// together with a viewer page.
package docs

import (
	"embed"
	"net/http"
)

//go:embed index.html openapi.yaml
var assets embed.FS

// Handler serves the viewer at "/" and the description at "/openapi.yaml".
// Mount it with the route prefix stripped.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", asset("index.html", "text/html; charset=utf-8"))
	mux.Handle("GET /openapi.yaml", asset("openapi.yaml", "application/yaml"))
	return mux
}

func asset(name, contentType string) http.HandlerFunc {
	data, err := assets.ReadFile(name)
	return func(w http.ResponseWriter, _ *http.Request) {
		if err != nil {
			http.Error(w, "docs asset not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}
