// Package httpcache implements the HTTP caching contract of the API: strong
// ETags derived from response payloads, conditional-request evaluation, and
// per-endpoint Cache-Control policies.
package httpcache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Policy describes the cache headers of one endpoint class.
type Policy struct {
	// MaxAge is the freshness lifetime; zero with NoCache unset still emits
	// "max-age=0".
	MaxAge time.Duration

	// NoCache forces revalidation on every use ("no-cache, must-revalidate").
	NoCache bool

	// Immutable marks content that never changes under its URL.
	Immutable bool

	// Private restricts caching to the browser.
	Private bool
}

// ETagFor returns the strong entity tag of a response payload: the quoted
// MD5 of its bytes. The same payload always yields the same tag, so the tag
// changes exactly when the response does.
func ETagFor(payload []byte) string {
	sum := md5.Sum(payload)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// NotModified reports whether the request's conditional headers match the
// current entity, i.e. whether a 304 response is warranted.
//
// If-None-Match takes precedence over If-Modified-Since per RFC 9110.
// Weak-comparison prefixes ("W/") are ignored when matching and "*" matches
// any entity.
func NotModified(r *http.Request, etag string, lastModified time.Time) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		return etagMatches(inm, etag)
	}

	if ims := r.Header.Get("If-Modified-Since"); ims != "" && !lastModified.IsZero() {
		t, err := http.ParseTime(ims)
		if err != nil {
			return false
		}
		// HTTP dates carry second precision.
		return !lastModified.Truncate(time.Second).After(t)
	}

	return false
}

func etagMatches(headerValue, etag string) bool {
	if strings.TrimSpace(headerValue) == "*" {
		return true
	}
	for _, candidate := range strings.Split(headerValue, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}

// SetHeaders writes the cache headers for an entity: Cache-Control per the
// policy, the ETag, and Last-Modified when known. Responses vary on
// Accept-Encoding because the compression middleware may transform them.
func SetHeaders(w http.ResponseWriter, p Policy, etag string, lastModified time.Time) {
	w.Header().Set("Cache-Control", p.cacheControl())
	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	if !lastModified.IsZero() {
		w.Header().Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
	}
	w.Header().Add("Vary", "Accept-Encoding")
}

func (p Policy) cacheControl() string {
	if p.NoCache {
		return "no-cache, must-revalidate"
	}

	var parts []string
	if p.Private {
		parts = append(parts, "private")
	} else {
		parts = append(parts, "public")
	}
	parts = append(parts, fmt.Sprintf("max-age=%d", int(p.MaxAge.Seconds())))
	if p.Immutable {
		parts = append(parts, "immutable")
	}
	return strings.Join(parts, ", ")
}

// WriteNotModified sends a 304 with the validator headers; no body is
// permitted on 304 responses.
func WriteNotModified(w http.ResponseWriter, p Policy, etag string, lastModified time.Time) {
	SetHeaders(w, p, etag, lastModified)
	w.WriteHeader(http.StatusNotModified)
}
