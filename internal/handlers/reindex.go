package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"media-library/internal/indexer"
	"media-library/internal/logging"
)

// authorized checks the optional shared-secret hook token, accepted either
// as ?token= or as the x-hook-token header. Comparison is constant time.
func (h *Handlers) authorized(r *http.Request) bool {
	if h.cfg.HookToken == "" {
		return true
	}
	supplied := r.URL.Query().Get("token")
	if supplied == "" {
		supplied = r.Header.Get("x-hook-token")
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(h.cfg.HookToken)) == 1
}

func boolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "1" || v == "true"
}

// Reindex triggers a scan. Without ?stream=1 it blocks and returns the scan
// report; with it the response becomes an SSE stream of progress events.
// Only one scan runs at a time; concurrent triggers get {ok:false,
// running:true} without queueing.
func (h *Handlers) Reindex(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	force := boolParam(r, "force")
	if boolParam(r, "stream") {
		h.reindexStream(w, r, force)
		return
	}

	report, err := h.indexer.UpdateCheck(r.Context(), indexer.Options{Force: force})
	if err != nil {
		if errors.Is(err, indexer.ErrRunning) {
			writeJSON(w, map[string]interface{}{"ok": false, "running": true})
			return
		}
		writeError(w, http.StatusInternalServerError, "scan failed")
		return
	}
	writeJSON(w, report)
}

// sseEvent is the envelope for one stream frame.
type sseEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// sseWriter pushes `data: <json>\n\n` frames. After the first write error
// the client is considered gone and further frames are dropped; the scan
// itself keeps running.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	dead    bool
}

func (s *sseWriter) send(event sseEvent) {
	if s.dead {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logging.Error("failed to marshal SSE event: %v", err)
		return
	}
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		s.dead = true
		return
	}
	if _, err := s.w.Write(payload); err != nil {
		s.dead = true
		return
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		s.dead = true
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (h *Handlers) reindexStream(w http.ResponseWriter, r *http.Request, force bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := &sseWriter{w: w, flusher: flusher}

	report, err := h.indexer.UpdateCheck(r.Context(), indexer.Options{
		Force: force,
		OnProgress: func(p indexer.Progress) {
			stream.send(sseEvent{Type: "progress", Data: p})
		},
	})
	if err != nil {
		message := "scan failed"
		if errors.Is(err, indexer.ErrRunning) {
			message = "scan already running"
		}
		stream.send(sseEvent{Type: "error", Data: map[string]string{"error": message}})
		return
	}
	stream.send(sseEvent{Type: "complete", Data: report})
}
