package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"media-library/internal/config"
	"media-library/internal/database"
)

func newTestConfig(t *testing.T, mediaDirs ...string) *config.Config {
	t.Helper()

	for _, key := range []string{"MEDIA_DIR", "MEDIA_DIRS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() failed: %v", err)
	}
	if len(mediaDirs) > 0 {
		if err := cfg.SetMediaDirs(mediaDirs); err != nil {
			t.Fatalf("SetMediaDirs() failed: %v", err)
		}
	}
	return cfg
}

func newTestIndexer(t *testing.T, mediaDirs ...string) (*Indexer, *database.Store) {
	t.Helper()

	cfg := newTestConfig(t, mediaDirs...)
	db, err := database.New(context.Background(), cfg.DBPath)
	if err != nil {
		t.Fatalf("database.New() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return New(db, cfg, nil, nil), db
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanIndexesMatchingFiles(t *testing.T) {
	media := t.TempDir()
	writeFile(t, media, "2025-12-07 16.29.19-photo-alice-sunset #travel_1.jpg")
	writeFile(t, media, "2025-12-07 16.29.19-photo-alice-sunset #travel_2.jpg")
	writeFile(t, media, "nested/2025-12-08 10.00.00-video-bob-city.mp4")
	writeFile(t, media, "notes.txt")                                      // outside the scheme
	writeFile(t, media, ".hidden/2025-12-09 09.00.00-photo-eve-x.jpg")    // dotted dir skipped
	writeFile(t, media, ".2025-12-09 09.00.00-photo-eve-y.jpg")           // dotted file skipped
	writeFile(t, media, "2025-1-07 16.29.19-photo-alice-badtime.jpg")     // malformed timestamp
	writeFile(t, media, "2025-12-07 16.29.19-onlytwo-parts.jpg")          // too few segments

	idx, db := newTestIndexer(t, media)

	report, err := idx.UpdateCheck(context.Background(), Options{})
	if err != nil {
		t.Fatalf("UpdateCheck() failed: %v", err)
	}
	if !report.OK {
		t.Error("report.OK = false")
	}
	if report.ScannedFiles != 3 || report.Added != 3 || report.Updated != 0 || report.Deleted != 0 {
		t.Errorf("report = %+v, want 3 scanned, 3 added", report)
	}
	if report.ScannedDirs != 1 {
		t.Errorf("ScannedDirs = %d, want 1", report.ScannedDirs)
	}

	res, err := db.QueryResources(context.Background(), database.Filter{})
	if err != nil {
		t.Fatalf("QueryResources() failed: %v", err)
	}
	if res.Pagination.TotalItems != 3 || res.Pagination.Total != 2 {
		t.Errorf("indexed %d items in %d groups, want 3 items in 2 groups",
			res.Pagination.TotalItems, res.Pagination.Total)
	}

	// Nested paths are stored POSIX-style relative to the root.
	found := false
	for _, g := range res.Groups {
		for _, item := range g.Items {
			if item.Filename == "nested/2025-12-08 10.00.00-video-bob-city.mp4" {
				found = true
			}
		}
	}
	if !found {
		t.Error("nested file missing or stored with wrong relative path")
	}
}

func TestRescanUnchangedTouchesOnly(t *testing.T) {
	media := t.TempDir()
	writeFile(t, media, "2025-12-07 16.29.19-photo-alice-sunset.jpg")

	idx, _ := newTestIndexer(t, media)
	ctx := context.Background()

	if _, err := idx.UpdateCheck(ctx, Options{}); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}

	report, err := idx.UpdateCheck(ctx, Options{})
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	if report.Added != 0 || report.Updated != 0 || report.Deleted != 0 {
		t.Errorf("unchanged rescan = %+v, want all-zero deltas", report)
	}
	if report.ScannedFiles != 1 {
		t.Errorf("ScannedFiles = %d, want 1", report.ScannedFiles)
	}
}

func TestRescanDetectsModification(t *testing.T) {
	media := t.TempDir()
	path := writeFile(t, media, "2025-12-07 16.29.19-photo-alice-sunset.jpg")

	idx, _ := newTestIndexer(t, media)
	ctx := context.Background()

	if _, err := idx.UpdateCheck(ctx, Options{}); err != nil {
		t.Fatal(err)
	}

	// Grow the file and move its mtime so change detection triggers.
	if err := os.WriteFile(path, []byte("modified content"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	report, err := idx.UpdateCheck(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Updated != 1 || report.Added != 0 {
		t.Errorf("report = %+v, want 1 updated", report)
	}
}

func TestRescanDeletesVanished(t *testing.T) {
	media := t.TempDir()
	keep := writeFile(t, media, "2025-12-07 16.29.19-photo-alice-keep.jpg")
	gone := writeFile(t, media, "2025-12-07 16.30.00-photo-alice-gone.jpg")
	_ = keep

	idx, db := newTestIndexer(t, media)
	ctx := context.Background()

	if _, err := idx.UpdateCheck(ctx, Options{}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}

	report, err := idx.UpdateCheck(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", report.Deleted)
	}

	res, err := db.QueryResources(ctx, database.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Pagination.TotalItems != 1 {
		t.Errorf("remaining items = %d, want 1", res.Pagination.TotalItems)
	}
}

func TestRemovedDirIsPurged(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeFile(t, a, "2025-12-07 16.29.19-photo-alice-in-a.jpg")
	writeFile(t, b, "2025-12-07 16.29.19-photo-bob-in-b.jpg")

	idx, db := newTestIndexer(t, a, b)
	ctx := context.Background()

	if _, err := idx.UpdateCheck(ctx, Options{}); err != nil {
		t.Fatal(err)
	}

	res, err := db.QueryResources(ctx, database.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Pagination.TotalItems != 2 {
		t.Fatalf("items after two-dir scan = %d, want 2", res.Pagination.TotalItems)
	}

	// Drop directory b from the configuration and rescan.
	if err := idx.cfg.SetMediaDirs([]string{a}); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.UpdateCheck(ctx, Options{}); err != nil {
		t.Fatal(err)
	}

	res, err = db.QueryResources(ctx, database.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Pagination.TotalItems != 1 {
		t.Errorf("items after purge = %d, want 1", res.Pagination.TotalItems)
	}
	if scoped, _ := db.QueryResources(ctx, database.Filter{DirID: config.DirID(b)}); scoped.Pagination.TotalItems != 0 {
		t.Errorf("purged dir still has %d items", scoped.Pagination.TotalItems)
	}
}

func TestSingleFlight(t *testing.T) {
	media := t.TempDir()
	writeFile(t, media, "2025-12-07 16.29.19-photo-alice-sunset.jpg")

	idx, _ := newTestIndexer(t, media)

	started := make(chan struct{})
	release := make(chan struct{})
	var once bool

	go func() {
		_, _ = idx.UpdateCheck(context.Background(), Options{
			OnProgress: func(Progress) {
				if !once {
					once = true
					close(started)
					<-release
				}
			},
		})
	}()

	<-started
	if _, err := idx.UpdateCheck(context.Background(), Options{}); !errors.Is(err, ErrRunning) {
		t.Errorf("concurrent UpdateCheck() = %v, want ErrRunning", err)
	}
	close(release)
}

func TestForceRefreshesDerived(t *testing.T) {
	media := t.TempDir()
	writeFile(t, media, "2025-12-07 16.29.19-photo-alice-sunset #travel.jpg")

	idx, db := newTestIndexer(t, media)
	ctx := context.Background()

	if _, err := idx.UpdateCheck(ctx, Options{}); err != nil {
		t.Fatal(err)
	}

	report, err := idx.UpdateCheck(ctx, Options{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	// Force on unchanged files re-derives metadata without counting them
	// as updated.
	if report.Added != 0 || report.Updated != 0 {
		t.Errorf("forced rescan = %+v, want no added or updated rows", report)
	}

	// Derived tags survive the re-derivation.
	stats, err := db.QueryTags(ctx, database.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 || stats[0].Tag != "travel" {
		t.Errorf("tags after force = %+v, want [travel]", stats)
	}
}

func TestMissingMediaDirIsSkipped(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	idx, _ := newTestIndexer(t, missing)

	report, err := idx.UpdateCheck(context.Background(), Options{})
	if err != nil {
		t.Fatalf("UpdateCheck() failed on missing dir: %v", err)
	}
	if !report.OK {
		t.Error("report.OK = false")
	}
	if report.SkippedDirs != 1 || report.ScannedDirs != 0 || report.ScannedFiles != 0 {
		t.Errorf("report = %+v, want 1 skipped, 0 scanned", report)
	}
}

func TestUnreachableDirKeepsRows(t *testing.T) {
	parent := t.TempDir()
	media := filepath.Join(parent, "library")
	if err := os.MkdirAll(media, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, media, "2025-12-07 16.29.19-photo-alice-keep.jpg")

	idx, db := newTestIndexer(t, media)
	ctx := context.Background()

	if _, err := idx.UpdateCheck(ctx, Options{}); err != nil {
		t.Fatal(err)
	}

	// The directory goes away without leaving the configuration, as when
	// an external drive is unplugged.
	away := media + ".away"
	if err := os.Rename(media, away); err != nil {
		t.Fatal(err)
	}

	report, err := idx.UpdateCheck(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Deleted != 0 || report.SkippedDirs != 1 {
		t.Errorf("report = %+v, want 0 deleted and the dir skipped", report)
	}

	res, err := db.QueryResources(ctx, database.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Pagination.TotalItems != 1 {
		t.Errorf("items while dir unreachable = %d, want 1", res.Pagination.TotalItems)
	}

	// When the directory returns, the rows are current rather than re-added.
	if err := os.Rename(away, media); err != nil {
		t.Fatal(err)
	}
	report, err = idx.UpdateCheck(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Added != 0 || report.Deleted != 0 {
		t.Errorf("report after dir returned = %+v, want no adds or deletes", report)
	}
}

func TestProgressPhases(t *testing.T) {
	media := t.TempDir()
	writeFile(t, media, "2025-12-07 16.29.19-photo-alice-sunset.jpg")

	idx, _ := newTestIndexer(t, media)

	var snapshots []Progress
	_, err := idx.UpdateCheck(context.Background(), Options{
		OnProgress: func(p Progress) { snapshots = append(snapshots, p) },
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(snapshots) == 0 {
		t.Fatal("no progress snapshots emitted")
	}
	first := snapshots[0]
	if first.Phase != "init" || first.TotalDirs != 1 {
		t.Errorf("first snapshot = %+v, want phase init with totalDirs=1", first)
	}

	seenScanning := false
	for _, p := range snapshots[1:] {
		switch p.Phase {
		case "scanning":
			seenScanning = true
		case "processing":
		case "init":
			t.Errorf("init emitted after the first snapshot: %+v", snapshots)
		default:
			t.Errorf("unexpected phase %q", p.Phase)
		}
	}
	if !seenScanning {
		t.Errorf("phases = %+v, want a scanning snapshot per directory", snapshots)
	}
}

func TestGetStatus(t *testing.T) {
	media := t.TempDir()
	idx, _ := newTestIndexer(t, media)

	if status := idx.GetStatus(); status.Running || status.LastReport != nil {
		t.Errorf("fresh status = %+v, want idle with no report", status)
	}

	if _, err := idx.UpdateCheck(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}

	status := idx.GetStatus()
	if status.Running {
		t.Error("status.Running = true after scan finished")
	}
	if status.LastReport == nil || !status.LastReport.OK {
		t.Errorf("status.LastReport = %+v, want successful report", status.LastReport)
	}
}
