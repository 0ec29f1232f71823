package handlers

import (
	"net/http"
	"os"

	"media-library/internal/inspect"
	"media-library/internal/logging"
)

// InspectFile is the read-only container probe behind `GET
// /api/inspect?dir=<dirId>&name=<relPath>`.
func (h *Handlers) InspectFile(w http.ResponseWriter, r *http.Request) {
	dirID := r.URL.Query().Get("dir")
	name := r.URL.Query().Get("name")
	if dirID == "" || name == "" {
		writeError(w, http.StatusBadRequest, "dir and name are required")
		return
	}

	full, err := h.resolveMediaPath(dirID, name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}

	info, err := os.Stat(full)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	result, err := inspect.Inspect(r.Context(), full)
	if err != nil {
		logging.Warn("inspect failed for %s: %v", full, err)
		writeError(w, http.StatusInternalServerError, "inspect failed")
		return
	}

	writeJSON(w, map[string]interface{}{
		"ok":      true,
		"name":    name,
		"size":    info.Size(),
		"mtimeMs": info.ModTime().UnixMilli(),
		"probe":   result,
	})
}
