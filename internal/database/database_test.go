package database

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(context.Background(), filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	})
	return s
}

func mustInsert(t *testing.T, s *Store, item *MediaItem, types, tagList []string) {
	t.Helper()

	tx, err := s.BeginBatch()
	if err != nil {
		t.Fatalf("BeginBatch() failed: %v", err)
	}
	err = s.UpsertItem(tx, item)
	if err == nil {
		err = s.ReplaceDerived(tx, item.DirID, item.RelPath, types, tagList)
	}
	if endErr := s.EndBatch(tx, err); endErr != nil {
		t.Fatalf("insert failed: %v", endErr)
	}
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func testItem(dirID, relPath string) *MediaItem {
	return &MediaItem{
		DirID:       dirID,
		RelPath:     relPath,
		Ext:         "jpg",
		Kind:        "image",
		TimeText:    "2025-12-07 16.29.19",
		ISO:         "2025-12-07T16:29:19",
		TimestampMs: int64Ptr(1765124959000),
		Author:      "alice",
		Theme:       "sunset #travel",
		TypeText:    "photo",
		Seq:         intPtr(1),
		MtimeMs:     1000,
		Size:        2048,
		SeenRun:     1,
		CreatedAtMs: 1,
		UpdatedAtMs: 1,
	}
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("d1", "a/photo.jpg")
	mustInsert(t, s, item, []string{"photo"}, nil)

	// A later run re-upserts the same identity with new run timestamps.
	item.SeenRun = 2
	item.CreatedAtMs = 2
	item.UpdatedAtMs = 2
	item.Size = 4096
	mustInsert(t, s, item, []string{"photo"}, nil)

	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		"SELECT created_at_ms, updated_at_ms FROM media_items WHERE dir_id = ? AND rel_path = ?",
		"d1", "a/photo.jpg").Scan(&created, &updated)
	if err != nil {
		t.Fatalf("row query failed: %v", err)
	}
	if created != 1 {
		t.Errorf("created_at_ms = %d, want 1 (preserved)", created)
	}
	if updated != 2 {
		t.Errorf("updated_at_ms = %d, want 2", updated)
	}

	meta, err := s.GetFileMeta(ctx, "d1", "a/photo.jpg")
	if err != nil {
		t.Fatalf("GetFileMeta() failed: %v", err)
	}
	if meta == nil || meta.Size != 4096 {
		t.Errorf("GetFileMeta() = %+v, want size 4096", meta)
	}
}

func TestGetFileMetaMissing(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.GetFileMeta(context.Background(), "d1", "nope.jpg")
	if err != nil {
		t.Fatalf("GetFileMeta() failed: %v", err)
	}
	if meta != nil {
		t.Errorf("GetFileMeta() = %+v, want nil for unknown item", meta)
	}
}

func TestDeleteVanished(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := testItem("d1", "a.jpg")
	b := testItem("d1", "b.jpg")
	other := testItem("d2", "c.jpg")
	mustInsert(t, s, a, []string{"photo"}, []string{"travel"})
	mustInsert(t, s, b, nil, nil)
	mustInsert(t, s, other, nil, nil)

	// Run 2 only observes a.jpg.
	tx, err := s.BeginBatch()
	if err != nil {
		t.Fatalf("BeginBatch() failed: %v", err)
	}
	if err := s.TouchSeen(tx, "d1", "a.jpg", 2); err != nil {
		t.Fatalf("TouchSeen() failed: %v", err)
	}
	deleted, err := s.DeleteVanished(tx, "d1", 2)
	if err == nil {
		err = s.DeleteOrphans(tx)
	}
	if endErr := s.EndBatch(tx, err); endErr != nil {
		t.Fatalf("batch failed: %v", endErr)
	}
	if deleted != 1 {
		t.Errorf("DeleteVanished() = %d, want 1", deleted)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM media_items").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	// a.jpg survives its own dir, c.jpg belongs to an untouched dir.
	if count != 2 {
		t.Errorf("remaining items = %d, want 2", count)
	}
}

func TestReplaceDerivedReplacesSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := testItem("d1", "a.jpg")
	mustInsert(t, s, item, []string{"photo", "raw"}, []string{"travel", "sunset"})
	mustInsert(t, s, item, []string{"photo"}, []string{"beach"})

	rows, err := s.db.QueryContext(ctx,
		"SELECT tag FROM media_item_tags WHERE dir_id = ? AND rel_path = ? ORDER BY tag", "d1", "a.jpg")
	if err != nil {
		t.Fatalf("tag query failed: %v", err)
	}
	defer rows.Close()

	var got []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		got = append(got, tag)
	}
	if len(got) != 1 || got[0] != "beach" {
		t.Errorf("tags after replace = %v, want [beach]", got)
	}

	var typeCount int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media_item_types WHERE dir_id = ? AND rel_path = ?", "d1", "a.jpg").Scan(&typeCount); err != nil {
		t.Fatalf("type count failed: %v", err)
	}
	if typeCount != 1 {
		t.Errorf("types after replace = %d, want 1", typeCount)
	}
}

func TestPurgeDirsExcept(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, s, testItem("keep", "a.jpg"), []string{"photo"}, []string{"travel"})
	mustInsert(t, s, testItem("drop", "b.jpg"), []string{"photo"}, []string{"travel"})

	tx, err := s.BeginBatch()
	if err != nil {
		t.Fatalf("BeginBatch() failed: %v", err)
	}
	err = s.PurgeDirsExcept(tx, []string{"keep"})
	if endErr := s.EndBatch(tx, err); endErr != nil {
		t.Fatalf("purge failed: %v", endErr)
	}

	for _, table := range []string{"media_items", "media_item_types", "media_item_tags"} {
		var count int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+table+" WHERE dir_id = 'drop'").Scan(&count); err != nil {
			t.Fatalf("count %s failed: %v", table, err)
		}
		if count != 0 {
			t.Errorf("%s still has %d rows for purged dir", table, count)
		}
	}

	var kept int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media_items WHERE dir_id = 'keep'").Scan(&kept); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if kept != 1 {
		t.Errorf("kept dir has %d rows, want 1", kept)
	}
}

func TestPurgeDirsExceptEmptyKeepsNothing(t *testing.T) {
	s := newTestStore(t)

	mustInsert(t, s, testItem("d1", "a.jpg"), nil, nil)

	tx, err := s.BeginBatch()
	if err != nil {
		t.Fatalf("BeginBatch() failed: %v", err)
	}
	err = s.PurgeDirsExcept(tx, nil)
	if endErr := s.EndBatch(tx, err); endErr != nil {
		t.Fatalf("purge failed: %v", endErr)
	}

	var count int
	if err := s.db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM media_items").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("items remaining = %d, want 0 when no dirs are kept", count)
	}
}

func TestDirState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetDirMtime(ctx, "d1"); err != nil || ok {
		t.Fatalf("GetDirMtime() on fresh db = ok=%v err=%v, want ok=false", ok, err)
	}

	tx, err := s.BeginBatch()
	if err != nil {
		t.Fatalf("BeginBatch() failed: %v", err)
	}
	err = s.UpsertDirState(tx, "d1", "/media/photos", 1234.5, 99)
	if endErr := s.EndBatch(tx, err); endErr != nil {
		t.Fatalf("UpsertDirState failed: %v", endErr)
	}

	mtime, ok, err := s.GetDirMtime(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDirMtime() failed: %v", err)
	}
	if !ok || mtime != 1234.5 {
		t.Errorf("GetDirMtime() = (%v, %v), want (1234.5, true)", mtime, ok)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetMeta(ctx, "k"); err != nil || ok {
		t.Fatalf("GetMeta() on fresh db = ok=%v err=%v, want ok=false", ok, err)
	}
	if err := s.SetMeta(ctx, "k", "v1"); err != nil {
		t.Fatalf("SetMeta() failed: %v", err)
	}
	if err := s.SetMeta(ctx, "k", "v2"); err != nil {
		t.Fatalf("SetMeta() overwrite failed: %v", err)
	}
	value, ok, err := s.GetMeta(ctx, "k")
	if err != nil || !ok || value != "v2" {
		t.Errorf("GetMeta() = (%q, %v, %v), want (v2, true, nil)", value, ok, err)
	}
}

func TestGroupIDStable(t *testing.T) {
	a := GroupID("2025-12-07 16.29.19", "alice", "sunset")
	b := GroupID("2025-12-07 16.29.19", "alice", "sunset")
	c := GroupID("2025-12-07 16.29.19", "alice", "sunrise")
	if a != b {
		t.Errorf("GroupID not stable: %s vs %s", a, b)
	}
	if a == c {
		t.Errorf("GroupID collision across themes")
	}
	if len(a) != 40 {
		t.Errorf("GroupID length = %d, want 40 hex chars", len(a))
	}
}
