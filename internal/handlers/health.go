package handlers

import (
	"net/http"
)

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"status": "ok"})
}

// Ready reports whether the database answers queries. A running scan does
// not make the server unready; readers stay concurrent under WAL.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if _, _, err := h.db.GetMeta(r.Context(), "last_scan"); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]interface{}{"status": "unavailable"})
		return
	}
	writeJSON(w, map[string]interface{}{
		"status":   "ok",
		"indexing": h.indexer.IsRunning(),
	})
}
