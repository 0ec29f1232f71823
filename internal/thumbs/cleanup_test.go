package thumbs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"media-library/internal/mediatypes"
)

func writeCacheFile(t *testing.T, dir, name string, size int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStats(t *testing.T) {
	s := New(t.TempDir(), mediatypes.KindImage, Config{Width: 100, Format: "jpg"})

	writeCacheFile(t, s.dir, "a.jpg", 100, 0)
	writeCacheFile(t, s.dir, "b.jpg", 200, 0)
	writeCacheFile(t, s.dir, "c.jpg.partial", 50, 0) // in-flight write, not counted

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Count != 2 || stats.Bytes != 300 {
		t.Errorf("Stats() = %+v, want count=2 bytes=300", stats)
	}
}

func TestCleanupByAge(t *testing.T) {
	s := New(t.TempDir(), mediatypes.KindImage, Config{Width: 100, Format: "jpg"})

	old := writeCacheFile(t, s.dir, "old.jpg", 100, 48*time.Hour)
	fresh := writeCacheFile(t, s.dir, "fresh.jpg", 100, time.Minute)

	removed, err := s.Cleanup(24*time.Hour, 0)
	if err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("stale entry survived cleanup")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh entry was removed")
	}
}

func TestCleanupBySize(t *testing.T) {
	s := New(t.TempDir(), mediatypes.KindImage, Config{Width: 100, Format: "jpg"})

	// Oldest first in eviction order.
	oldest := writeCacheFile(t, s.dir, "oldest.jpg", 400, 3*time.Hour)
	middle := writeCacheFile(t, s.dir, "middle.jpg", 400, 2*time.Hour)
	newest := writeCacheFile(t, s.dir, "newest.jpg", 400, time.Hour)

	// 1200 bytes total, cap 1000: evict down to 800 (80% of cap).
	removed, err := s.Cleanup(-1, 1000)
	if err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Error("oldest entry should have been evicted first")
	}
	for _, path := range []string{middle, newest} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s should have survived eviction", filepath.Base(path))
		}
	}
}

func TestCleanupZeroAgeRemovesAll(t *testing.T) {
	s := New(t.TempDir(), mediatypes.KindImage, Config{Width: 100, Format: "jpg"})

	a := writeCacheFile(t, s.dir, "a.jpg", 100, time.Minute)
	b := writeCacheFile(t, s.dir, "b.jpg", 100, time.Second)

	removed, err := s.Cleanup(0, 0)
	if err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Cleanup(0, 0) removed %d, want 2", removed)
	}
	for _, path := range []string{a, b} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s survived a zero-age cleanup", filepath.Base(path))
		}
	}
}

func TestCleanupNegativeAgeDisablesAgePass(t *testing.T) {
	s := New(t.TempDir(), mediatypes.KindImage, Config{Width: 100, Format: "jpg"})

	old := writeCacheFile(t, s.dir, "old.jpg", 100, 240*time.Hour)

	removed, err := s.Cleanup(-1, 0)
	if err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("Cleanup(-1, 0) removed %d, want 0", removed)
	}
	if _, err := os.Stat(old); err != nil {
		t.Error("entry removed with the age pass disabled")
	}
}

func TestClearAll(t *testing.T) {
	s := New(t.TempDir(), mediatypes.KindImage, Config{Width: 100, Format: "jpg"})

	writeCacheFile(t, s.dir, "a.jpg", 10, 0)
	writeCacheFile(t, s.dir, "b.jpg", 10, 0)

	removed, err := s.ClearAll()
	if err != nil {
		t.Fatalf("ClearAll() failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("ClearAll() removed %d, want 2", removed)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Count != 0 {
		t.Errorf("cache not empty after ClearAll: %+v", stats)
	}
}
