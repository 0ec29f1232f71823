package metrics

// InitializeMetrics pre-populates the expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, op := range []string{"query_resources", "query_authors", "query_tags", "stats"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, outcome := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(outcome)
	}

	for _, op := range []string{"upsert_item", "delete_vanished"} {
		DBRowsAffected.WithLabelValues(op)
	}

	for _, t := range []string{"image", "video"} {
		for _, status := range []string{"success", "error"} {
			ThumbnailGenerationsTotal.WithLabelValues(t, status)
		}
		ThumbnailGenerationDuration.WithLabelValues(t)
	}

	for _, kind := range []string{"image", "video", "file"} {
		MediaItemsTotal.WithLabelValues(kind)
	}
}
