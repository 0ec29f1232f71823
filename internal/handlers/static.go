package handlers

import (
	"net/http"
	"path/filepath"
	"strings"
)

// staticCacheControl maps a file extension to its Cache-Control policy.
// HTML revalidates every load; hashed assets are immutable.
func staticCacheControl(ext string) string {
	switch ext {
	case ".html", "":
		return "no-cache, must-revalidate"
	case ".js", ".css", ".woff", ".woff2", ".ttf", ".otf":
		return "public, max-age=31536000, immutable"
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico":
		return "public, max-age=2592000"
	case ".mp4", ".webm", ".mov":
		return "public, max-age=86400"
	default:
		return "public, max-age=3600"
	}
}

// Static serves the web UI from dir with per-extension cache policies.
func Static(dir string) http.Handler {
	fileServer := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ext := strings.ToLower(filepath.Ext(r.URL.Path))
		w.Header().Set("Cache-Control", staticCacheControl(ext))
		fileServer.ServeHTTP(w, r)
	})
}
