package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"media-library/internal/logging"
	"media-library/internal/mediatypes"
)

// Media serves a source file with explicit byte-range support.
func (h *Handlers) Media(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	full, err := h.resolveMediaPath(vars["dirId"], vars["path"])
	if err != nil {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	serveFileRange(w, r, full)
}

// Thumb serves the image thumbnail, generating it on demand when the cached
// artifact is missing or stale. On generation failure the original image is
// served instead so the client still gets pixels.
func (h *Handlers) Thumb(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	dirID, relPath := vars["dirId"], vars["path"]

	full, err := h.resolveMediaPath(dirID, relPath)
	if err != nil {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(full); err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	thumbPath := h.thumbs.Path(dirID, relPath)
	if !h.thumbs.Fresh(thumbPath, full) {
		if thumbPath, err = h.thumbs.Ensure(full, dirID, relPath); err != nil {
			logging.Warn("thumbnail generation failed for %s, serving source: %v", relPath, err)
			serveArtifact(w, r, full)
			return
		}
	}
	serveArtifact(w, r, thumbPath)
}

// VThumb serves the video poster frame. Unlike images there is no sensible
// fallback, so generation failure is a 404.
func (h *Handlers) VThumb(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	dirID, relPath := vars["dirId"], vars["path"]

	full, err := h.resolveMediaPath(dirID, relPath)
	if err != nil {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(full); err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	thumbPath := h.vthumbs.Path(dirID, relPath)
	if !h.vthumbs.Fresh(thumbPath, full) {
		if thumbPath, err = h.vthumbs.Ensure(full, dirID, relPath); err != nil {
			logging.Warn("video thumbnail failed for %s: %v", relPath, err)
			http.Error(w, "Thumbnail unavailable", http.StatusNotFound)
			return
		}
	}
	serveArtifact(w, r, thumbPath)
}

// serveArtifact streams a generated thumbnail with a long client TTL;
// artifacts are content addressed so staleness is handled by the key.
func serveArtifact(w http.ResponseWriter, r *http.Request, path string) {
	w.Header().Set("Cache-Control", "public, max-age=2592000")
	serveFileRange(w, r, path)
}

// parseRange parses a single `bytes=start-end` range against size.
// Suffix ranges (`bytes=-N`) and open ends (`bytes=N-`) are accepted.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	if !strings.HasPrefix(header, "bytes=") {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(spec, ",") {
		// Multipart ranges are not supported; serve the whole file.
		return 0, 0, false
	}
	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, false
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	if startStr == "" {
		// Suffix form: last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	if endStr == "" {
		return start, size - 1, true
	}
	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	if end >= size {
		end = size - 1
	}
	return start, end, true
}

// serveFileRange streams a file, honoring a single bytes range with 206 +
// Content-Range. Invalid or absent ranges get the full file.
func serveFileRange(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Failed to open file", http.StatusInternalServerError)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	size := info.Size()

	w.Header().Set("Content-Type", mediatypes.MimeForExt(strings.ToLower(filepath.Ext(path))))
	w.Header().Set("Accept-Ranges", "bytes")

	if start, end, ok := parseRange(r.Header.Get("Range"), size); ok {
		length := end - start + 1
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return
		}
		if _, err := io.CopyN(w, f, length); err != nil {
			logging.Debug("range stream aborted for %s: %v", path, err)
		}
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, f); err != nil {
		logging.Debug("stream aborted for %s: %v", path, err)
	}
}
