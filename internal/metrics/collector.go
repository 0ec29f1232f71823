package metrics

import (
	"time"

	"media-library/internal/logging"
)

// StatsProvider supplies the library-level counts exported as gauges.
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the current library statistics.
type Stats struct {
	TotalItems   int
	TotalImages  int
	TotalVideos  int
	TotalOther   int
	TotalGroups  int
	TotalAuthors int
	TotalTags    int
	DBSizeBytes  int64
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	MediaItemsTotal.WithLabelValues("image").Set(float64(stats.TotalImages))
	MediaItemsTotal.WithLabelValues("video").Set(float64(stats.TotalVideos))
	MediaItemsTotal.WithLabelValues("file").Set(float64(stats.TotalOther))
	MediaGroupsTotal.Set(float64(stats.TotalGroups))
	MediaAuthorsTotal.Set(float64(stats.TotalAuthors))
	MediaTagsTotal.Set(float64(stats.TotalTags))
	DBSizeBytes.Set(float64(stats.DBSizeBytes))

	logging.Debug("Metrics collected: items=%d, groups=%d, authors=%d, tags=%d",
		stats.TotalItems, stats.TotalGroups, stats.TotalAuthors, stats.TotalTags)
}
