package handlers

import (
	"encoding/json"
	"net/http"
	"os"

	"media-library/internal/logging"
)

const maxDeleteItems = 2000

type deleteItem struct {
	DirID    string `json:"dirId"`
	Filename string `json:"filename"`
}

type deleteResult struct {
	DirID    string `json:"dirId"`
	Filename string `json:"filename"`
	Status   string `json:"status"` // "deleted", "not found", "error"
	OK       bool   `json:"ok"`     // true for "deleted" and "not found"
	Error    string `json:"error,omitempty"`
}

// Delete unlinks the named source files and their thumbnail artifacts.
// Already-missing files count as success so retries are idempotent. A
// forced rescan afterwards removes the index rows.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Items []deleteItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(body.Items) == 0 {
		writeError(w, http.StatusBadRequest, "no items to delete")
		return
	}
	if len(body.Items) > maxDeleteItems {
		writeError(w, http.StatusBadRequest, "too many items")
		return
	}

	results := make([]deleteResult, 0, len(body.Items))
	deleted := 0
	failed := 0

	for _, item := range body.Items {
		result := deleteResult{DirID: item.DirID, Filename: item.Filename}

		full, err := h.resolveMediaPath(item.DirID, item.Filename)
		if err != nil {
			result.Status = "error"
			result.Error = "invalid path"
			failed++
			results = append(results, result)
			continue
		}

		switch err := os.Remove(full); {
		case err == nil:
			result.Status = "deleted"
			result.OK = true
			deleted++
		case os.IsNotExist(err):
			result.Status = "not found"
			result.OK = true
		default:
			logging.Warn("delete failed for %s: %v", full, err)
			result.Status = "error"
			result.Error = "delete failed"
			failed++
			results = append(results, result)
			continue
		}

		// Thumbnail artifacts are best effort; the index row goes with
		// the rescan below.
		if h.thumbs != nil {
			h.thumbs.Remove(item.DirID, item.Filename)
		}
		if h.vthumbs != nil {
			h.vthumbs.Remove(item.DirID, item.Filename)
		}
		results = append(results, result)
	}

	h.backgroundReindex("delete")

	writeJSON(w, map[string]interface{}{
		"ok":      true,
		"deleted": deleted,
		"failed":  failed,
		"results": results,
	})
}
