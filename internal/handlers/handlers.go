// Package handlers implements the HTTP API: grouped resource queries,
// author/tag aggregates, reindex control with SSE progress, configuration,
// deletion, cache management, and media/thumbnail serving.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-library/internal/config"
	"media-library/internal/database"
	"media-library/internal/httpcache"
	"media-library/internal/indexer"
	"media-library/internal/logging"
	"media-library/internal/metrics"
	"media-library/internal/thumbs"
)

type Handlers struct {
	db        *database.Store
	cfg       *config.Config
	indexer   *indexer.Indexer
	thumbs    *thumbs.Store
	vthumbs   *thumbs.Store
	startedAt time.Time
}

func New(db *database.Store, cfg *config.Config, idx *indexer.Indexer, imageThumbs, videoThumbs *thumbs.Store) *Handlers {
	return &Handlers{
		db:        db,
		cfg:       cfg,
		indexer:   idx,
		thumbs:    imageThumbs,
		vthumbs:   videoThumbs,
		startedAt: time.Now(),
	}
}

// writeJSON encodes v and writes it. Encoding errors are logged; there is
// nothing to recover at this point in a handler.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeError writes the {ok:false, error} envelope with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]interface{}{"ok": false, "error": message})
}

// lastModified is the validator timestamp for cacheable JSON responses:
// the end of the last scan, or process start before the first scan.
func (h *Handlers) lastModified() time.Time {
	if status := h.indexer.GetStatus(); !status.LastRun.IsZero() {
		return status.LastRun
	}
	return h.startedAt
}

// respondCached writes payload with ETag/Cache-Control headers, answering
// conditional requests with 304. metricPath labels the conditional-hit
// counter.
func (h *Handlers) respondCached(w http.ResponseWriter, r *http.Request, metricPath string, maxAge time.Duration, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		logging.Error("failed to marshal response for %s: %v", r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	etag := httpcache.ETagFor(body)
	lastModified := h.lastModified()
	policy := httpcache.Policy{MaxAge: maxAge}

	if httpcache.NotModified(r, etag, lastModified) {
		metrics.HTTPConditionalHits.WithLabelValues(metricPath).Inc()
		httpcache.WriteNotModified(w, policy, etag, lastModified)
		return
	}

	httpcache.SetHeaders(w, policy, etag, lastModified)
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		logging.Debug("response write failed for %s: %v", r.URL.Path, err)
	}
}

// dirEntry describes one configured media directory for API responses.
type dirEntry struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Label  string `json:"label"`
	Exists bool   `json:"exists"`
}

// dirList returns the configured directories and whether any exists on disk.
func (h *Handlers) dirList() ([]dirEntry, bool) {
	dirs := h.cfg.MediaDirs()
	entries := make([]dirEntry, 0, len(dirs))
	anyExists := false
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		exists := err == nil && info.IsDir()
		if exists {
			anyExists = true
		}
		entries = append(entries, dirEntry{
			ID:     config.DirID(dir),
			Path:   dir,
			Label:  filepath.Base(dir),
			Exists: exists,
		})
	}
	return entries, anyExists
}

var errUnknownDir = errors.New("unknown directory id")

// resolveMediaPath maps (dirId, relPath) to an absolute path inside the
// matching media directory. Traversal sequences, NUL bytes, and paths
// resolving outside the base directory are rejected.
func (h *Handlers) resolveMediaPath(dirID, relPath string) (string, error) {
	if strings.ContainsRune(relPath, 0) {
		return "", fmt.Errorf("invalid path")
	}
	for _, segment := range strings.Split(relPath, "/") {
		if segment == ".." {
			return "", fmt.Errorf("invalid path")
		}
	}

	var base string
	for _, dir := range h.cfg.MediaDirs() {
		if config.DirID(dir) == dirID {
			base = dir
			break
		}
	}
	if base == "" {
		return "", errUnknownDir
	}

	full := filepath.Join(base, filepath.FromSlash(relPath))
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if absFull != absBase && !strings.HasPrefix(absFull, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path")
	}
	return absFull, nil
}
