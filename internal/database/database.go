// Package database is the persistent index store: an embedded SQLite
// database holding one row per parsed media file plus the denormalized
// type and tag sets used for filtering. Writes go through the indexer's
// batch transactions; queries run concurrently against the WAL snapshot.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-library/internal/logging"
	"media-library/internal/metrics"
)

// Default timeout for single database operations
const defaultTimeout = 5 * time.Second

// Store manages all index database operations.
type Store struct {
	db      *sql.DB
	dbPath  string
	txStart time.Time
}

// New opens (creating if necessary) the index database at dbPath. The parent
// directory must already exist and be writable.
func New(ctx context.Context, dbPath string) (*Store, error) {
	logging.Info("Index database path: %s", dbPath)

	// WAL lets the query engine read while a scan writes; busy_timeout
	// prevents "database is locked" errors under contention.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Multiple readers; the indexer is the single logical writer.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Index database initialized at %s", dbPath)
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS media_items (
		dir_id        TEXT NOT NULL,
		rel_path      TEXT NOT NULL,
		ext           TEXT,
		kind          TEXT,
		time_text     TEXT,
		iso           TEXT,
		timestamp_ms  INTEGER,
		author        TEXT,
		theme         TEXT,
		type_text     TEXT,
		seq           INTEGER,
		mtime_ms      REAL,
		size          INTEGER,
		seen_run      INTEGER,
		created_at_ms INTEGER,
		updated_at_ms INTEGER,
		PRIMARY KEY (dir_id, rel_path)
	);

	CREATE INDEX IF NOT EXISTS idx_items_ts ON media_items(timestamp_ms DESC, time_text, author, theme);
	CREATE INDEX IF NOT EXISTS idx_items_author ON media_items(author);
	CREATE INDEX IF NOT EXISTS idx_items_theme ON media_items(theme);
	CREATE INDEX IF NOT EXISTS idx_items_time_text ON media_items(time_text);

	CREATE TABLE IF NOT EXISTS media_item_types (
		dir_id   TEXT NOT NULL,
		rel_path TEXT NOT NULL,
		type     TEXT NOT NULL,
		PRIMARY KEY (dir_id, rel_path, type)
	);

	CREATE INDEX IF NOT EXISTS idx_item_types_type ON media_item_types(type);

	CREATE TABLE IF NOT EXISTS media_item_tags (
		dir_id   TEXT NOT NULL,
		rel_path TEXT NOT NULL,
		tag      TEXT NOT NULL,
		PRIMARY KEY (dir_id, rel_path, tag)
	);

	CREATE INDEX IF NOT EXISTS idx_item_tags_tag ON media_item_tags(tag);

	CREATE TABLE IF NOT EXISTS dir_state (
		dir_id        TEXT PRIMARY KEY,
		dir_path      TEXT,
		dir_mtime_ms  REAL,
		scanned_at_ms INTEGER
	);

	-- Reserved for schema-evolution bookkeeping
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	return s.runMigrations(ctx)
}

// runMigrations applies database schema migrations. The created_at_ms and
// updated_at_ms columns arrived after the first release, so databases from
// older versions may lack them.
func (s *Store) runMigrations(ctx context.Context) error {
	for _, col := range []string{"created_at_ms", "updated_at_ms"} {
		var exists bool
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) > 0
			FROM pragma_table_info('media_items')
			WHERE name = ?
		`, col).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check for %s column: %w", col, err)
		}

		if !exists {
			logging.Info("Migrating database: adding %s column to media_items", col)
			if _, err := s.db.ExecContext(ctx,
				fmt.Sprintf("ALTER TABLE media_items ADD COLUMN %s INTEGER", col)); err != nil {
				// Another process may have added the column between the
				// check and the ALTER; treat that as already migrated.
				logging.Warn("ALTER TABLE for %s failed (ignored): %v", col, err)
			}
		}
	}

	// Indexes only after the columns are guaranteed present.
	if _, err := s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_items_created ON media_items(created_at_ms DESC);
		CREATE INDEX IF NOT EXISTS idx_items_updated ON media_items(updated_at_ms DESC);
	`); err != nil {
		return fmt.Errorf("failed to create timestamp indexes: %w", err)
	}

	// Back-fill rows from before the migration with a baseline.
	now := time.Now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, `
		UPDATE media_items SET created_at_ms = ? WHERE created_at_ms IS NULL
	`, now); err != nil {
		return fmt.Errorf("failed to backfill created_at_ms: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE media_items SET updated_at_ms = ? WHERE updated_at_ms IS NULL
	`, now); err != nil {
		return fmt.Errorf("failed to backfill updated_at_ms: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// FileSize returns the size of the database file in bytes, including the WAL.
func (s *Store) FileSize() int64 {
	var total int64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if info, err := os.Stat(s.dbPath + suffix); err == nil {
			total += info.Size()
		}
	}
	return total
}

// BeginBatch starts a transaction for batch operations. The caller is
// responsible for calling EndBatch when done.
func (s *Store) BeginBatch() (*sql.Tx, error) {
	s.txStart = time.Now()

	// Transaction lifetime is managed by EndBatch, not a timeout context.
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// EndBatch commits or rolls back a transaction.
func (s *Store) EndBatch(tx *sql.Tx, err error) error {
	duration := time.Since(s.txStart).Seconds()

	if err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		rbErr := tx.Rollback()
		if rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
	return tx.Commit()
}

// UpsertItem inserts or updates a media item within a transaction.
// created_at_ms is preserved across updates: once set it is never
// overwritten. updated_at_ms always takes the new value (the scan run id).
func (s *Store) UpsertItem(tx *sql.Tx, item *MediaItem) error {
	query := `
	INSERT INTO media_items (
		dir_id, rel_path, ext, kind, time_text, iso, timestamp_ms,
		author, theme, type_text, seq, mtime_ms, size, seen_run,
		created_at_ms, updated_at_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(dir_id, rel_path) DO UPDATE SET
		ext = excluded.ext,
		kind = excluded.kind,
		time_text = excluded.time_text,
		iso = excluded.iso,
		timestamp_ms = excluded.timestamp_ms,
		author = excluded.author,
		theme = excluded.theme,
		type_text = excluded.type_text,
		seq = excluded.seq,
		mtime_ms = excluded.mtime_ms,
		size = excluded.size,
		seen_run = excluded.seen_run,
		created_at_ms = COALESCE(media_items.created_at_ms, excluded.created_at_ms),
		updated_at_ms = excluded.updated_at_ms
	`

	result, err := tx.ExecContext(context.Background(), query,
		item.DirID,
		item.RelPath,
		item.Ext,
		string(item.Kind),
		item.TimeText,
		item.ISO,
		nullableInt64(item.TimestampMs),
		item.Author,
		item.Theme,
		item.TypeText,
		nullableInt(item.Seq),
		item.MtimeMs,
		item.Size,
		item.SeenRun,
		item.CreatedAtMs,
		item.UpdatedAtMs,
	)
	if err == nil {
		if rows, _ := result.RowsAffected(); rows > 0 {
			metrics.DBRowsAffected.WithLabelValues("upsert_item").Observe(float64(rows))
		}
	}
	return err
}

// TouchSeen marks an unchanged item as observed by the current scan run.
func (s *Store) TouchSeen(tx *sql.Tx, dirID, relPath string, run int64) error {
	_, err := tx.ExecContext(context.Background(),
		"UPDATE media_items SET seen_run = ? WHERE dir_id = ? AND rel_path = ?",
		run, dirID, relPath)
	return err
}

// ReplaceDerived rewrites the denormalized type and tag sets for one item.
// The existing rows are deleted and re-inserted from the parsed data;
// this is the replace-the-set contract of the schema.
func (s *Store) ReplaceDerived(tx *sql.Tx, dirID, relPath string, types, tagList []string) error {
	ctx := context.Background()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM media_item_types WHERE dir_id = ? AND rel_path = ?", dirID, relPath); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM media_item_tags WHERE dir_id = ? AND rel_path = ?", dirID, relPath); err != nil {
		return err
	}

	for _, typ := range types {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO media_item_types (dir_id, rel_path, type) VALUES (?, ?, ?)",
			dirID, relPath, typ); err != nil {
			return err
		}
	}
	for _, tag := range tagList {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO media_item_tags (dir_id, rel_path, tag) VALUES (?, ?, ?)",
			dirID, relPath, tag); err != nil {
			return err
		}
	}
	return nil
}

// GetFileMeta returns the recorded filesystem metadata for change detection,
// or nil when the item is not indexed.
func (s *Store) GetFileMeta(ctx context.Context, dirID, relPath string) (*FileMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var meta FileMeta
	err := s.db.QueryRowContext(ctx,
		"SELECT mtime_ms, size FROM media_items WHERE dir_id = ? AND rel_path = ?",
		dirID, relPath).Scan(&meta.MtimeMs, &meta.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// DeleteVanished removes items of a directory that the given scan run did
// not observe. Returns the number of rows deleted.
func (s *Store) DeleteVanished(tx *sql.Tx, dirID string, run int64) (int64, error) {
	result, err := tx.ExecContext(context.Background(),
		"DELETE FROM media_items WHERE dir_id = ? AND seen_run != ?",
		dirID, run)
	if err != nil {
		return 0, err
	}
	deleted, err := result.RowsAffected()
	if err == nil && deleted > 0 {
		metrics.DBRowsAffected.WithLabelValues("delete_vanished").Observe(float64(deleted))
	}
	return deleted, err
}

// DeleteOrphans removes type and tag rows whose parent media item no longer
// exists. Runs globally; the row count is small enough in practice.
func (s *Store) DeleteOrphans(tx *sql.Tx) error {
	ctx := context.Background()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM media_item_types WHERE NOT EXISTS (
			SELECT 1 FROM media_items m
			WHERE m.dir_id = media_item_types.dir_id AND m.rel_path = media_item_types.rel_path
		)`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM media_item_tags WHERE NOT EXISTS (
			SELECT 1 FROM media_items m
			WHERE m.dir_id = media_item_tags.dir_id AND m.rel_path = media_item_tags.rel_path
		)`); err != nil {
		return err
	}
	return nil
}

// PurgeDirsExcept deletes all rows belonging to directories that are no
// longer configured, across every table that carries a dir_id.
func (s *Store) PurgeDirsExcept(tx *sql.Tx, keepIDs []string) error {
	ctx := context.Background()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keepIDs)), ",")
	args := make([]interface{}, len(keepIDs))
	for i, id := range keepIDs {
		args[i] = id
	}

	for _, table := range []string{"media_items", "media_item_types", "media_item_tags", "dir_state"} {
		query := fmt.Sprintf("DELETE FROM %s", table)
		if len(keepIDs) > 0 {
			query += fmt.Sprintf(" WHERE dir_id NOT IN (%s)", placeholders)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	return nil
}

// UpsertDirState records the last-scan state of a directory root.
func (s *Store) UpsertDirState(tx *sql.Tx, dirID, dirPath string, dirMtimeMs float64, scannedAtMs int64) error {
	_, err := tx.ExecContext(context.Background(), `
		INSERT INTO dir_state (dir_id, dir_path, dir_mtime_ms, scanned_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(dir_id) DO UPDATE SET
			dir_path = excluded.dir_path,
			dir_mtime_ms = excluded.dir_mtime_ms,
			scanned_at_ms = excluded.scanned_at_ms
	`, dirID, dirPath, dirMtimeMs, scannedAtMs)
	return err
}

// GetDirMtime returns the recorded root mtime for a directory, with ok=false
// when the directory has never been scanned.
func (s *Store) GetDirMtime(ctx context.Context, dirID string) (float64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var mtimeMs float64
	err := s.db.QueryRowContext(ctx,
		"SELECT dir_mtime_ms FROM dir_state WHERE dir_id = ?", dirID).Scan(&mtimeMs)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return mtimeMs, true, nil
}

// SetMeta stores a key/value pair in the bookkeeping table.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetMeta reads a bookkeeping value; ok=false when the key is absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
