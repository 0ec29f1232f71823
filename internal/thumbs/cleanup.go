package thumbs

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"media-library/internal/logging"
	"media-library/internal/metrics"
)

// Stats describes the current cache contents.
type Stats struct {
	Count int   `json:"count"`
	Bytes int64 `json:"bytes"`

	// Access-time bounds in unix milliseconds; zero when the cache is empty.
	OldestAccessMs int64 `json:"oldestAccessMs,omitempty"`
	NewestAccessMs int64 `json:"newestAccessMs,omitempty"`
}

type cacheEntry struct {
	path     string
	size     int64
	accessed time.Time
}

// Stats walks the cache directory and updates the cache gauges.
func (s *Store) Stats() (Stats, error) {
	entries, err := s.entries()
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, e := range entries {
		stats.Count++
		stats.Bytes += e.size
		ms := e.accessed.UnixMilli()
		if stats.OldestAccessMs == 0 || ms < stats.OldestAccessMs {
			stats.OldestAccessMs = ms
		}
		if ms > stats.NewestAccessMs {
			stats.NewestAccessMs = ms
		}
	}

	metrics.ThumbnailCacheCount.Set(float64(stats.Count))
	metrics.ThumbnailCacheSize.Set(float64(stats.Bytes))
	return stats, nil
}

// Cleanup removes thumbnails not accessed within maxAge, then evicts the
// least recently accessed entries until the cache fits in 80% of maxBytes.
// A zero maxAge removes everything accessed before now; a negative maxAge
// disables the age pass. Zero maxBytes disables the size pass. Returns the
// number of files removed.
func (s *Store) Cleanup(maxAge time.Duration, maxBytes int64) (int, error) {
	entries, err := s.entries()
	if err != nil {
		return 0, err
	}

	removed := 0
	var total int64
	var live []cacheEntry

	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if maxAge >= 0 && e.accessed.Before(cutoff) {
			if err := os.Remove(e.path); err != nil {
				logging.Warn("cleanup failed to remove %s: %v", e.path, err)
				continue
			}
			removed++
			continue
		}
		total += e.size
		live = append(live, e)
	}

	if maxBytes > 0 && total > maxBytes {
		target := maxBytes * 80 / 100
		sort.Slice(live, func(i, j int) bool {
			return live[i].accessed.Before(live[j].accessed)
		})
		for _, e := range live {
			if total <= target {
				break
			}
			if err := os.Remove(e.path); err != nil {
				logging.Warn("cleanup failed to remove %s: %v", e.path, err)
				continue
			}
			total -= e.size
			removed++
		}
	}

	if removed > 0 {
		logging.Info("Thumbnail cleanup removed %d files from %s", removed, s.dir)
	}
	if _, err := s.Stats(); err != nil {
		logging.Warn("failed to refresh cache stats: %v", err)
	}
	return removed, nil
}

// ClearAll removes every cached thumbnail. Returns the number removed.
func (s *Store) ClearAll() (int, error) {
	entries, err := s.entries()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if err := os.Remove(e.path); err != nil {
			logging.Warn("failed to remove %s: %v", e.path, err)
			continue
		}
		removed++
	}

	metrics.ThumbnailCacheCount.Set(0)
	metrics.ThumbnailCacheSize.Set(0)
	return removed, nil
}

// entries lists finished thumbnails in the cache directory; .partial files
// from in-flight writes and .tmp.jpg frame extractions are skipped.
func (s *Store) entries() ([]cacheEntry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []cacheEntry
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasSuffix(de.Name(), ".partial") || strings.HasSuffix(de.Name(), ".tmp.jpg") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, cacheEntry{
			path:     filepath.Join(s.dir, de.Name()),
			size:     info.Size(),
			accessed: accessTime(info),
		})
	}
	return out, nil
}
