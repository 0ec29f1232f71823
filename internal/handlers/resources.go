package handlers

import (
	"net/http"
	"strconv"
	"time"

	"media-library/internal/config"
	"media-library/internal/database"
)

// Cache TTLs for the JSON query endpoints. Filtered resource pages change
// more often than the unfiltered landing page.
const (
	resourcesFilteredTTL   = 60 * time.Second
	resourcesUnfilteredTTL = 300 * time.Second
	authorsTTL             = 600 * time.Second
	tagsTTL                = 600 * time.Second
)

// parseFilter reads the shared query parameters. The author parameter is
// tri-state: absent means no filter, present-but-empty selects the
// unknown-publisher bucket.
func parseFilter(r *http.Request) database.Filter {
	q := r.URL.Query()

	f := database.Filter{
		Type:  q.Get("type"),
		DirID: q.Get("dirId"),
		Query: q.Get("q"),
		Tag:   q.Get("tag"),
		Sort:  q.Get("sort"),
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		f.Page = page
	}
	if pageSize, err := strconv.Atoi(q.Get("pageSize")); err == nil {
		f.PageSize = pageSize
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = limit
	}
	if vals, ok := q["author"]; ok && len(vals) > 0 {
		author := vals[0]
		f.Author = &author
	}
	return f
}

func isFiltered(f database.Filter) bool {
	return f.Type != "" || f.DirID != "" || f.Query != "" || f.Tag != "" || f.Author != nil
}

// noMediaDir is the setup-mode response: HTTP 200 so the client can render
// a configuration UI instead of an error page.
func (h *Handlers) noMediaDir(w http.ResponseWriter) {
	writeJSON(w, map[string]interface{}{
		"ok":               false,
		"code":             "NO_MEDIA_DIR",
		"mediaDirs":        h.cfg.MediaDirs(),
		"defaultMediaDirs": config.DefaultMediaDirs,
		"error":            "no media directory exists on disk",
	})
}

func (h *Handlers) Resources(w http.ResponseWriter, r *http.Request) {
	dirs, anyExists := h.dirList()
	if !anyExists {
		h.noMediaDir(w)
		return
	}

	f := parseFilter(r)
	result, err := h.db.QueryResources(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	ttl := resourcesUnfilteredTTL
	if isFiltered(f) {
		ttl = resourcesFilteredTTL
	}
	h.respondCached(w, r, "/api/resources", ttl, map[string]interface{}{
		"ok":         true,
		"dirs":       dirs,
		"groups":     result.Groups,
		"pagination": result.Pagination,
	})
}

func (h *Handlers) Authors(w http.ResponseWriter, r *http.Request) {
	dirs, anyExists := h.dirList()
	if !anyExists {
		h.noMediaDir(w)
		return
	}

	result, err := h.db.QueryAuthors(r.Context(), parseFilter(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	h.respondCached(w, r, "/api/authors", authorsTTL, map[string]interface{}{
		"ok":         true,
		"dirs":       dirs,
		"authors":    result.Authors,
		"pagination": result.Pagination,
	})
}

func (h *Handlers) Tags(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.QueryTags(r.Context(), parseFilter(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	h.respondCached(w, r, "/api/tags", tagsTTL, map[string]interface{}{
		"ok":   true,
		"tags": stats,
	})
}
