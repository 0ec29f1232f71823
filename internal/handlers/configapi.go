package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"media-library/internal/config"
	"media-library/internal/indexer"
	"media-library/internal/logging"
)

const configTTL = 3600 * time.Second

func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	h.respondCached(w, r, "/api/config", configTTL, map[string]interface{}{
		"ok":               true,
		"mediaDirs":        h.cfg.MediaDirs(),
		"defaultMediaDirs": config.DefaultMediaDirs,
		"fromEnv":          h.cfg.FromEnv,
	})
}

// UpdateConfig replaces the media-directory list. Paths must be absolute;
// the list is persisted unless it came from the environment. A forced
// rescan is kicked off in the background so the index converges on the new
// set of directories.
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MediaDirs []string `json:"mediaDirs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.cfg.SetMediaDirs(body.MediaDirs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.backgroundReindex("config update")

	writeJSON(w, map[string]interface{}{
		"ok":               true,
		"mediaDirs":        h.cfg.MediaDirs(),
		"defaultMediaDirs": config.DefaultMediaDirs,
		"fromEnv":          h.cfg.FromEnv,
	})
}

// backgroundReindex starts a forced scan without blocking the caller.
// An already-running scan is fine: it picks up the state it sees.
func (h *Handlers) backgroundReindex(reason string) {
	go func() {
		if _, err := h.indexer.UpdateCheck(context.Background(), indexer.Options{Force: true}); err != nil {
			if !errors.Is(err, indexer.ErrRunning) {
				logging.Error("background reindex after %s failed: %v", reason, err)
			}
		}
	}()
}
