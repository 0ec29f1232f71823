// Package thumbs is the thumbnail pipeline: a content-addressed on-disk
// cache of downscaled images and extracted video frames, filled either
// synchronously on request or in the background by a bounded worker pool.
package thumbs

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"media-library/internal/logging"
	"media-library/internal/mediatypes"
	"media-library/internal/metrics"
	"media-library/internal/workers"
)

// Config holds the generation parameters of one thumbnail store. The
// parameters are part of the cache key, so changing them invalidates the
// cache implicitly.
type Config struct {
	Width   int
	Format  string // "webp", "jpg" or "png"
	Quality int

	// TimeSec is the frame-extraction offset for video thumbnails.
	TimeSec float64

	Concurrency int
	QueueSize   int
}

// Job is one queued thumbnail generation.
type Job struct {
	SrcPath string
	DirID   string
	RelPath string
}

// Store manages the thumbnail cache of one media kind (image or video).
type Store struct {
	dir  string
	kind mediatypes.Kind
	cfg  Config

	queue chan Job
	stop  chan struct{}
	wg    sync.WaitGroup

	// per-thumbnail generation locks; generation of distinct thumbnails
	// runs in parallel, duplicate requests for the same one do not
	locks sync.Map
}

// New creates a thumbnail store rooted at dir. Unusable configuration is
// corrected rather than rejected: webp output without libvips downgrades to
// jpg so the cached extension always matches the encoded bytes.
func New(dir string, kind mediatypes.Kind, cfg Config) *Store {
	if cfg.Width <= 0 {
		cfg.Width = 480
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 80
	}
	if cfg.Format == "" {
		cfg.Format = "jpg"
	}
	if cfg.Format == "jpeg" {
		cfg.Format = "jpg"
	}
	if cfg.Format == "webp" && !IsVipsAvailable() {
		logging.Warn("webp thumbnails need libvips; falling back to jpg for %s", dir)
		cfg.Format = "jpg"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = workers.ForMixed(8)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	return &Store{
		dir:   dir,
		kind:  kind,
		cfg:   cfg,
		queue: make(chan Job, cfg.QueueSize),
		stop:  make(chan struct{}),
	}
}

// Format returns the output format in use, after any fallback.
func (s *Store) Format() string {
	return s.cfg.Format
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// Start launches the background workers.
func (s *Store) Start() {
	logging.Info("Thumbnail workers for %s: %d (queue %d, %dpx %s)",
		s.kind, s.cfg.Concurrency, s.cfg.QueueSize, s.cfg.Width, s.cfg.Format)
	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop shuts the workers down and waits for in-flight generations.
// Queued jobs that have not started are discarded.
func (s *Store) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Store) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case job := <-s.queue:
			metrics.ThumbnailQueueDepth.Set(float64(len(s.queue)))
			if _, err := s.Ensure(job.SrcPath, job.DirID, job.RelPath); err != nil {
				logging.Debug("background thumbnail for %s failed: %v", job.RelPath, err)
			}
		}
	}
}

// Enqueue submits a background generation without blocking. When the queue
// is full the job is dropped; the serving path regenerates on demand, so a
// drop costs latency, not correctness.
func (s *Store) Enqueue(srcPath, dirID, relPath string) bool {
	select {
	case s.queue <- Job{SrcPath: srcPath, DirID: dirID, RelPath: relPath}:
		metrics.ThumbnailQueueDepth.Set(float64(len(s.queue)))
		return true
	default:
		metrics.ThumbnailQueueDropped.Inc()
		return false
	}
}

// key is the cache identity of a thumbnail. It covers every input that
// affects the output bytes.
func (s *Store) key(dirID, relPath string) string {
	if s.kind == mediatypes.KindVideo {
		return fmt.Sprintf("%s|%s|%g|%d|%s", dirID, relPath, s.cfg.TimeSec, s.cfg.Width, s.cfg.Format)
	}
	return fmt.Sprintf("%s|%s|%d|%s", dirID, relPath, s.cfg.Width, s.cfg.Format)
}

// Path returns the on-disk location of a thumbnail, whether or not it exists.
func (s *Store) Path(dirID, relPath string) string {
	sum := sha1.Sum([]byte(s.key(dirID, relPath)))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+"."+s.cfg.Format)
}

// Fresh reports whether an existing thumbnail is at least as new as its
// source file.
func (s *Store) Fresh(thumbPath, srcPath string) bool {
	thumbInfo, err := os.Stat(thumbPath)
	if err != nil {
		return false
	}
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return false
	}
	return !thumbInfo.ModTime().Before(srcInfo.ModTime())
}

// Ensure returns the path of a fresh thumbnail, generating it synchronously
// when missing or stale.
func (s *Store) Ensure(srcPath, dirID, relPath string) (string, error) {
	thumbPath := s.Path(dirID, relPath)
	if s.Fresh(thumbPath, srcPath) {
		metrics.ThumbnailCacheHits.Inc()
		return thumbPath, nil
	}
	metrics.ThumbnailCacheMisses.Inc()

	mu := s.lockFor(thumbPath)
	mu.Lock()
	defer mu.Unlock()
	defer s.locks.Delete(thumbPath)

	// Another goroutine may have generated it while we waited.
	if s.Fresh(thumbPath, srcPath) {
		return thumbPath, nil
	}

	start := time.Now()
	var err error
	switch s.kind {
	case mediatypes.KindVideo:
		err = s.generateVideo(srcPath, thumbPath)
	default:
		err = s.generateImage(srcPath, thumbPath)
	}

	kind := string(s.kind)
	if err != nil {
		metrics.ThumbnailGenerationsTotal.WithLabelValues(kind, "error").Inc()
		return "", err
	}
	metrics.ThumbnailGenerationsTotal.WithLabelValues(kind, "success").Inc()
	metrics.ThumbnailGenerationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	logging.Debug("generated %s thumbnail for %s in %v", kind, relPath, time.Since(start))
	return thumbPath, nil
}

func (s *Store) lockFor(path string) *sync.Mutex {
	actual, _ := s.locks.LoadOrStore(path, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// writeAtomic writes via a .partial sibling and renames into place, so a
// crash mid-write never leaves a truncated thumbnail under the final name.
func (s *Store) writeAtomic(path string, data []byte) error {
	tmp := path + ".partial"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Remove deletes the cached thumbnail of one item, if present.
func (s *Store) Remove(dirID, relPath string) {
	if err := os.Remove(s.Path(dirID, relPath)); err != nil && !os.IsNotExist(err) {
		logging.Warn("failed to remove thumbnail for %s: %v", relPath, err)
	}
}
