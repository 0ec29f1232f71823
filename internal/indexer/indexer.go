// Package indexer scans the configured media directories and maintains the
// index database. Scans are incremental: unchanged files (same mtime and
// size) are only marked as seen, and rows whose files vanished are removed
// at the end of each directory pass.
package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"media-library/internal/config"
	"media-library/internal/database"
	"media-library/internal/filename"
	"media-library/internal/logging"
	"media-library/internal/mediatypes"
	"media-library/internal/metrics"
	"media-library/internal/tags"
	"media-library/internal/thumbs"
)

// Number of upserts per transaction before committing a batch
const batchSize = 500

// ErrRunning is returned when a scan is requested while one is in progress.
// Callers report it instead of waiting; there is never more than one writer.
var ErrRunning = errors.New("index scan already running")

// Indexer drives scans of the media directories.
type Indexer struct {
	db      *database.Store
	cfg     *config.Config
	thumbs  *thumbs.Store
	vthumbs *thumbs.Store

	mu         sync.Mutex
	running    bool
	lastRun    time.Time
	lastReport *Report
}

// Options controls a single scan.
type Options struct {
	// Force re-derives metadata for every file even when mtime and size
	// are unchanged. Used after parser or tag-extraction changes.
	Force bool

	// OnProgress, when set, receives progress snapshots during the scan.
	OnProgress func(Progress)
}

// Progress is one snapshot of a running scan.
type Progress struct {
	Phase          string `json:"phase"` // "init" once, then "scanning" and "processing"
	CurrentDir     int    `json:"currentDir"`
	TotalDirs      int    `json:"totalDirs"`
	CurrentDirPath string `json:"currentDirPath,omitempty"`
	ScannedFiles   int    `json:"scannedFiles"`
	Added          int    `json:"added"`
	Updated        int    `json:"updated"`
	Deleted        int    `json:"deleted"`
}

// Report summarizes a completed scan.
type Report struct {
	OK           bool   `json:"ok"`
	DBPath       string `json:"dbPath"`
	ScannedDirs  int    `json:"scannedDirs"`
	SkippedDirs  int    `json:"skippedDirs"`
	ScannedFiles int    `json:"scannedFiles"`
	Added        int    `json:"added"`
	Updated      int    `json:"updated"`
	Deleted      int    `json:"deleted"`
	DurationMs   int64  `json:"durationMs"`
}

// Status describes the indexer for health endpoints.
type Status struct {
	Running    bool      `json:"running"`
	LastRun    time.Time `json:"lastRun,omitempty"`
	LastReport *Report   `json:"lastReport,omitempty"`
}

// New creates an Indexer. The thumbnail stores may be nil; thumbnails are
// then only generated on demand by the serving path.
func New(db *database.Store, cfg *config.Config, imageThumbs, videoThumbs *thumbs.Store) *Indexer {
	return &Indexer{
		db:      db,
		cfg:     cfg,
		thumbs:  imageThumbs,
		vthumbs: videoThumbs,
	}
}

// IsRunning reports whether a scan is in progress.
func (idx *Indexer) IsRunning() bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.running
}

// GetStatus returns the current indexer status.
func (idx *Indexer) GetStatus() Status {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return Status{
		Running:    idx.running,
		LastRun:    idx.lastRun,
		LastReport: idx.lastReport,
	}
}

// UpdateCheck runs one full scan over all configured media directories.
// Exactly one scan runs at a time; a second caller gets ErrRunning
// immediately.
func (idx *Indexer) UpdateCheck(ctx context.Context, opts Options) (*Report, error) {
	idx.mu.Lock()
	if idx.running {
		idx.mu.Unlock()
		return nil, ErrRunning
	}
	idx.running = true
	idx.mu.Unlock()

	defer func() {
		idx.mu.Lock()
		idx.running = false
		idx.mu.Unlock()
	}()

	metrics.IndexerIsRunning.Set(1)
	defer metrics.IndexerIsRunning.Set(0)
	metrics.IndexerRunsTotal.Inc()

	start := time.Now()
	// The run id doubles as the ingest timestamp of rows first seen in
	// this scan.
	run := start.UnixMilli()
	dirs := idx.cfg.MediaDirs()

	logging.Info("Index scan starting: %d directories, force=%v", len(dirs), opts.Force)

	report := &Report{DBPath: idx.db.Path()}
	progress := Progress{Phase: "init", TotalDirs: len(dirs)}
	emit(opts.OnProgress, progress)

	// Directories removed from the configuration lose their rows first, so
	// queries never serve items from unconfigured roots.
	keepIDs := make([]string, len(dirs))
	for i, dir := range dirs {
		keepIDs[i] = config.DirID(dir)
	}
	if err := idx.runBatch(func(tx *sql.Tx) error {
		return idx.db.PurgeDirsExcept(tx, keepIDs)
	}); err != nil {
		metrics.IndexerErrors.Inc()
		return nil, fmt.Errorf("purge of removed directories failed: %w", err)
	}

	for i, dir := range dirs {
		if err := ctx.Err(); err != nil {
			metrics.IndexerErrors.Inc()
			return nil, err
		}

		progress.Phase = "scanning"
		progress.CurrentDir = i + 1
		progress.CurrentDirPath = dir
		emit(opts.OnProgress, progress)

		if err := idx.scanDir(ctx, dir, run, opts, report, &progress); err != nil {
			metrics.IndexerErrors.Inc()
			return nil, fmt.Errorf("scan of %s failed: %w", dir, err)
		}
	}

	progress.Phase = "processing"
	emit(opts.OnProgress, progress)
	if err := idx.runBatch(idx.db.DeleteOrphans); err != nil {
		metrics.IndexerErrors.Inc()
		return nil, fmt.Errorf("orphan cleanup failed: %w", err)
	}

	report.OK = true
	report.DurationMs = time.Since(start).Milliseconds()

	metrics.IndexerLastRunTimestamp.Set(float64(time.Now().Unix()))
	metrics.IndexerLastRunDuration.Set(time.Since(start).Seconds())
	metrics.IndexerFilesProcessed.Add(float64(report.ScannedFiles))
	metrics.IndexerDirsProcessed.Add(float64(report.ScannedDirs))

	idx.mu.Lock()
	idx.lastRun = time.Now()
	idx.lastReport = report
	idx.mu.Unlock()

	logging.Info("Index scan complete: %d dirs (%d skipped), %d files, +%d ~%d -%d in %dms",
		report.ScannedDirs, report.SkippedDirs, report.ScannedFiles,
		report.Added, report.Updated, report.Deleted, report.DurationMs)

	return report, nil
}

func emit(fn func(Progress), p Progress) {
	if fn != nil {
		fn(p)
	}
}

// runBatch executes fn inside one batch transaction.
func (idx *Indexer) runBatch(fn func(*sql.Tx) error) error {
	tx, err := idx.db.BeginBatch()
	if err != nil {
		return err
	}
	return idx.db.EndBatch(tx, fn(tx))
}

// scanDir walks one media directory and reconciles the index with its
// current contents.
func (idx *Indexer) scanDir(ctx context.Context, dir string, run int64, opts Options, report *Report, progress *Progress) error {
	dirID := config.DirID(dir)

	rootInfo, err := os.Stat(dir)
	if err != nil {
		// An unreachable root (unmounted drive, network share down) is
		// skipped whole: its rows and dir state stay until the directory
		// is removed from the configuration. Treating it as empty would
		// delete every row it has.
		logging.Warn("Media directory %s not accessible, skipping: %v", dir, err)
		report.SkippedDirs++
		return nil
	}

	rootMtimeMs := float64(rootInfo.ModTime().UnixMilli())

	if idx.cfg.DirMtimeOpt && !opts.Force {
		recorded, ok, err := idx.db.GetDirMtime(ctx, dirID)
		if err != nil {
			return err
		}
		if ok && recorded == rootMtimeMs {
			logging.Debug("Skipping %s: root mtime unchanged", dir)
			report.SkippedDirs++
			// Rows still count as seen or vanished deletion would
			// wipe the directory on the next full pass.
			return idx.runBatch(func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx,
					"UPDATE media_items SET seen_run = ? WHERE dir_id = ?", run, dirID)
				return err
			})
		}
	}

	b := &batcher{idx: idx}
	defer b.abort()

	if err := idx.walkDir(ctx, dir, dirID, run, opts, report, progress, b); err != nil {
		return err
	}

	// Vanished rows and the new dir state commit atomically with the last
	// file batch.
	if err := b.ensure(); err != nil {
		return err
	}
	deleted, err := idx.db.DeleteVanished(b.tx, dirID, run)
	if err != nil {
		return err
	}
	report.Deleted += int(deleted)
	progress.Deleted = report.Deleted

	if err := idx.db.UpsertDirState(b.tx, dirID, dir, rootMtimeMs, run); err != nil {
		return err
	}
	if err := b.commit(); err != nil {
		return err
	}

	report.ScannedDirs++
	emit(opts.OnProgress, *progress)
	return nil
}

// walkDir traverses dir depth-first without following symlinked directories
// into cycles (explicit stack, lexical order within each directory).
func (idx *Indexer) walkDir(ctx context.Context, root, dirID string, run int64, opts Options, report *Report, progress *Progress, b *batcher) error {
	progress.Phase = "processing"
	stack := []string{root}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(current)
		if err != nil {
			logging.Warn("Skipping unreadable directory %s: %v", current, err)
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}

			full := filepath.Join(current, name)
			if entry.IsDir() {
				stack = append(stack, full)
				continue
			}

			if err := idx.processFile(full, root, dirID, run, opts, b, report); err != nil {
				return err
			}
			progress.ScannedFiles = report.ScannedFiles
			progress.Added = report.Added
			progress.Updated = report.Updated
			if report.ScannedFiles%batchSize == 0 {
				emit(opts.OnProgress, *progress)
			}
		}
	}

	return nil
}

// processFile reconciles one file with the index: parse, change-detect,
// upsert, and queue thumbnail work.
func (idx *Indexer) processFile(full, root, dirID string, run int64, opts Options, b *batcher, report *Report) error {
	name := filepath.Base(full)
	parsed, ok := filename.Parse(name)
	if !ok {
		// Files outside the naming scheme are invisible to the library.
		return nil
	}

	info, err := os.Stat(full)
	if err != nil {
		logging.Warn("Skipping unreadable file %s: %v", full, err)
		return nil
	}

	rel, err := filepath.Rel(root, full)
	if err != nil {
		return err
	}
	relPath := filepath.ToSlash(rel)

	report.ScannedFiles++

	mtimeMs := float64(info.ModTime().UnixMilli())
	size := info.Size()

	// Change detection reads outside the batch transaction; each file is
	// visited once per run, so the pre-transaction snapshot is accurate.
	existing, err := idx.db.GetFileMeta(context.Background(), dirID, relPath)
	if err != nil {
		return err
	}
	changed := existing == nil || existing.MtimeMs != mtimeMs || existing.Size != size

	if err := b.ensure(); err != nil {
		return err
	}

	if !changed {
		if err := idx.db.TouchSeen(b.tx, dirID, relPath, run); err != nil {
			return err
		}
		if !opts.Force {
			return b.maybeCommit()
		}
		// Force on an unchanged file re-derives types and tags only: the
		// row keeps its timestamps, no thumbnail work is queued, and the
		// file does not count as updated.
		if err := idx.db.ReplaceDerived(b.tx, dirID, relPath, parsed.DeclaredTypes, derivedTags(parsed.Theme)); err != nil {
			return err
		}
		return b.maybeCommit()
	}

	item := &database.MediaItem{
		DirID:       dirID,
		RelPath:     relPath,
		Ext:         parsed.Ext,
		Kind:        parsed.Kind,
		TimeText:    parsed.TimeText,
		ISO:         parsed.ISO,
		TimestampMs: parsed.TimestampMs,
		Author:      parsed.Author,
		Theme:       parsed.Theme,
		TypeText:    parsed.TypeText,
		Seq:         parsed.Seq,
		MtimeMs:     mtimeMs,
		Size:        size,
		SeenRun:     run,
		CreatedAtMs: run, // preserved by the upsert for existing rows
		UpdatedAtMs: run,
	}
	if err := idx.db.UpsertItem(b.tx, item); err != nil {
		return err
	}

	if err := idx.db.ReplaceDerived(b.tx, dirID, relPath, parsed.DeclaredTypes, derivedTags(parsed.Theme)); err != nil {
		return err
	}

	if existing == nil {
		report.Added++
	} else {
		report.Updated++
	}

	switch parsed.Kind {
	case mediatypes.KindImage:
		if idx.thumbs != nil {
			idx.thumbs.Enqueue(full, dirID, relPath)
		}
	case mediatypes.KindVideo:
		if idx.vthumbs != nil {
			idx.vthumbs.Enqueue(full, dirID, relPath)
		}
	}

	return b.maybeCommit()
}

// derivedTags extracts the theme's hashtags in storage form.
func derivedTags(theme string) []string {
	list := make([]string, 0)
	for _, tag := range tags.Extract(theme, 0) {
		list = append(list, tags.Normalize(tag))
	}
	return list
}

// batcher groups writes into transactions of batchSize operations.
type batcher struct {
	idx   *Indexer
	tx    *sql.Tx
	count int
}

func (b *batcher) ensure() error {
	if b.tx != nil {
		return nil
	}
	tx, err := b.idx.db.BeginBatch()
	if err != nil {
		return err
	}
	b.tx = tx
	b.count = 0
	return nil
}

func (b *batcher) maybeCommit() error {
	b.count++
	if b.count < batchSize {
		return nil
	}
	return b.commit()
}

func (b *batcher) commit() error {
	if b.tx == nil {
		return nil
	}
	err := b.idx.db.EndBatch(b.tx, nil)
	b.tx = nil
	return err
}

// abort rolls back an open transaction after a failed scan.
func (b *batcher) abort() {
	if b.tx != nil {
		if err := b.idx.db.EndBatch(b.tx, errors.New("scan aborted")); err != nil {
			logging.Debug("scan batch rollback: %v", err)
		}
		b.tx = nil
	}
}
