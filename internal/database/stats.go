package database

import (
	"context"
	"time"

	"media-library/internal/logging"
	"media-library/internal/metrics"
)

// GetStats implements metrics.StatsProvider with whole-library counts.
// Errors are logged and leave the affected count at zero; the collector
// runs on a timer and will pick up the next successful read.
func (s *Store) GetStats() metrics.Stats {
	start := time.Now()
	var firstErr error
	defer func() { recordQuery("stats", start, firstErr) }()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var stats metrics.Stats
	scanOne := func(query string, dest *int) {
		if err := s.db.QueryRowContext(ctx, query).Scan(dest); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			logging.Warn("stats query failed: %v", err)
		}
	}

	scanOne("SELECT COUNT(*) FROM media_items", &stats.TotalItems)
	scanOne("SELECT COUNT(*) FROM media_items WHERE kind = 'image'", &stats.TotalImages)
	scanOne("SELECT COUNT(*) FROM media_items WHERE kind = 'video'", &stats.TotalVideos)
	scanOne("SELECT COUNT(*) FROM media_items WHERE kind = 'file'", &stats.TotalOther)
	scanOne("SELECT COUNT(*) FROM (SELECT 1 FROM media_items GROUP BY time_text, COALESCE(author,''), COALESCE(theme,''))", &stats.TotalGroups)
	scanOne("SELECT COUNT(DISTINCT COALESCE(author,'')) FROM media_items", &stats.TotalAuthors)
	scanOne("SELECT COUNT(DISTINCT tag) FROM media_item_tags", &stats.TotalTags)

	stats.DBSizeBytes = s.FileSize()
	return stats
}
