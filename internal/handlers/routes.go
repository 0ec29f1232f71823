package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes attaches every API and serving route to the router.
// Static assets and /metrics are wired by the caller.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/resources", h.Resources).Methods(http.MethodGet)
	r.HandleFunc("/api/authors", h.Authors).Methods(http.MethodGet)
	r.HandleFunc("/api/tags", h.Tags).Methods(http.MethodGet)

	r.HandleFunc("/api/reindex", h.Reindex).Methods(http.MethodGet, http.MethodPost)

	r.HandleFunc("/api/config", h.GetConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/config", h.UpdateConfig).Methods(http.MethodPost)

	r.HandleFunc("/api/delete", h.Delete).Methods(http.MethodPost)
	r.HandleFunc("/api/inspect", h.InspectFile).Methods(http.MethodGet)

	r.HandleFunc("/api/cache/stats", h.CacheStats).Methods(http.MethodGet)
	r.HandleFunc("/api/cache/clear/thumbs", h.CacheClear).Methods(http.MethodPost)
	r.HandleFunc("/api/cache/cleanup", h.CacheCleanup).Methods(http.MethodPost)

	r.HandleFunc("/media/{dirId}/{path:.*}", h.Media).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/thumb/{dirId}/{path:.*}", h.Thumb).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/vthumb/{dirId}/{path:.*}", h.VThumb).Methods(http.MethodGet, http.MethodHead)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.Ready).Methods(http.MethodGet)
}
