package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"media-library/internal/logging"
	"media-library/internal/thumbs"
)

const cacheStatsTTL = 30 * time.Second

func (h *Handlers) statsFor(s *thumbs.Store) thumbs.Stats {
	if s == nil {
		return thumbs.Stats{}
	}
	stats, err := s.Stats()
	if err != nil {
		logging.Warn("failed to read cache stats: %v", err)
	}
	return stats
}

func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.respondCached(w, r, "/api/cache/stats", cacheStatsTTL, map[string]interface{}{
		"ok":          true,
		"thumbs":      h.statsFor(h.thumbs),
		"vthumbs":     h.statsFor(h.vthumbs),
		"dbSizeBytes": h.db.FileSize(),
	})
}

// CacheClear empties both thumbnail stores. Artifacts only; sources and
// the index are untouched.
func (h *Handlers) CacheClear(w http.ResponseWriter, r *http.Request) {
	removed := 0
	for _, s := range []*thumbs.Store{h.thumbs, h.vthumbs} {
		if s == nil {
			continue
		}
		n, err := s.ClearAll()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "cache clear failed")
			return
		}
		removed += n
	}
	writeJSON(w, map[string]interface{}{"ok": true, "removed": removed})
}

// CacheCleanup evicts thumbnails by age and total size. The age pass only
// runs when maxAgeMs is present; an explicit zero removes every entry
// accessed before now. Zero maxBytes disables the size pass.
func (h *Handlers) CacheCleanup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MaxAgeMs *int64 `json:"maxAgeMs"`
		MaxBytes int64  `json:"maxBytes"`
	}
	// An empty body means no limits at all.
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	maxAge := time.Duration(-1)
	if body.MaxAgeMs != nil {
		maxAge = time.Duration(*body.MaxAgeMs) * time.Millisecond
	}
	removed := 0
	for _, s := range []*thumbs.Store{h.thumbs, h.vthumbs} {
		if s == nil {
			continue
		}
		n, err := s.Cleanup(maxAge, body.MaxBytes)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "cache cleanup failed")
			return
		}
		removed += n
	}
	writeJSON(w, map[string]interface{}{"ok": true, "removed": removed})
}
