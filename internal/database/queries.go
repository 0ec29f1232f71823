package database

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"media-library/internal/logging"
	"media-library/internal/mediatypes"
	"media-library/internal/tags"
)

// Filter is the shared parameter set of the read-only query operations.
// Author is tri-state: nil means no filter; a pointer to "" selects the
// unknown-publisher bucket.
type Filter struct {
	Page     int
	PageSize int
	Limit    int
	Type     string
	DirID    string
	Query    string
	Tag      string
	Author   *string
	Sort     string
}

// ResourcesResult is a page of groups plus the pagination envelope.
type ResourcesResult struct {
	Groups     []Group
	Pagination Pagination
}

// AuthorsResult is a page of author aggregates plus pagination.
type AuthorsResult struct {
	Authors    []AuthorStat
	Pagination Pagination
}

const noSeq = 1000000000 // sorts items without a sequence number last

// groupKeyExpr is the SQL expression for the (timeText, author, theme)
// grouping tuple used by distinct-group counts.
const groupKeyExpr = "m.time_text || '|' || COALESCE(m.author,'') || '|' || COALESCE(m.theme,'')"

// escapeLike escapes LIKE wildcards in user-derived patterns; every LIKE
// built here carries an ESCAPE '\' clause.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// itemFilter builds the WHERE clauses for the media_items alias m.
// When authorOnlyQuery is set the free-text filter matches the author field
// alone instead of the concatenated metadata text.
func itemFilter(f Filter, authorOnlyQuery bool) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.DirID != "" {
		clauses = append(clauses, "m.dir_id = ?")
		args = append(args, f.DirID)
	}
	if f.Type != "" {
		clauses = append(clauses, `EXISTS (
			SELECT 1 FROM media_item_types ty
			WHERE ty.dir_id = m.dir_id AND ty.rel_path = m.rel_path AND ty.type = ?)`)
		args = append(args, f.Type)
	}
	if f.Tag != "" {
		clauses = append(clauses, `EXISTS (
			SELECT 1 FROM media_item_tags tg
			WHERE tg.dir_id = m.dir_id AND tg.rel_path = m.rel_path AND tg.tag = ?)`)
		args = append(args, tags.Normalize(f.Tag))
	}
	if f.Author != nil {
		clauses = append(clauses, "COALESCE(m.author,'') = ?")
		args = append(args, *f.Author)
	}
	if f.Query != "" {
		pattern := "%" + escapeLike(strings.ToLower(f.Query)) + "%"
		if authorOnlyQuery {
			clauses = append(clauses, `LOWER(COALESCE(m.author,'')) LIKE ? ESCAPE '\'`)
		} else {
			clauses = append(clauses, `LOWER(COALESCE(m.author,'') || ' ' || COALESCE(m.theme,'') || ' ' ||
				m.time_text || ' ' || COALESCE(m.type_text,'')) LIKE ? ESCAPE '\'`)
		}
		args = append(args, pattern)
	}

	if len(clauses) == 0 {
		return "1=1", nil
	}
	return strings.Join(clauses, " AND "), args
}

// MediaURL returns the serving URL for an item, with each path segment
// escaped individually so slashes survive.
func MediaURL(prefix, dirID, relPath string) string {
	segments := strings.Split(relPath, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return prefix + "/" + url.PathEscape(dirID) + "/" + strings.Join(segments, "/")
}

func thumbURLFor(kind mediatypes.Kind, dirID, relPath string) string {
	switch kind {
	case mediatypes.KindImage:
		return MediaURL("/thumb", dirID, relPath)
	case mediatypes.KindVideo:
		return MediaURL("/vthumb", dirID, relPath)
	default:
		return ""
	}
}

func clampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func clampPageSize(size, def, max int) int {
	if size < 1 {
		return def
	}
	if size > max {
		return max
	}
	return size
}

func totalPagesFor(total, pageSize int) int {
	pages := int(math.Ceil(float64(total) / float64(pageSize)))
	if pages < 1 {
		pages = 1
	}
	return pages
}

// QueryResources returns one page of groups matching the filter.
// Groups are distinct (timeText, author, theme) tuples; ordering is by
// publish time or ingest time depending on f.Sort.
func (s *Store) QueryResources(ctx context.Context, f Filter) (*ResourcesResult, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("query_resources", start, err) }()

	page := clampPage(f.Page)
	pageSize := clampPageSize(f.PageSize, 50, 200)

	where, args := itemFilter(f, false)

	var totalItems int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media_items m WHERE "+where, args...).Scan(&totalItems)
	if err != nil {
		return nil, fmt.Errorf("resources item count failed: %w", err)
	}

	var total int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT 1 FROM media_items m WHERE `+where+`
			GROUP BY m.time_text, COALESCE(m.author,''), COALESCE(m.theme,'')
		)`, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("resources group count failed: %w", err)
	}

	totalPages := totalPagesFor(total, pageSize)
	if page > totalPages {
		page = totalPages
	}
	offset := (page - 1) * pageSize

	orderBy := "MAX(COALESCE(m.timestamp_ms,0)) DESC, m.time_text DESC"
	if f.Sort == SortIngest {
		orderBy = "MAX(COALESCE(m.created_at_ms,0)) DESC, " + orderBy
	}

	groupArgs := append(append([]interface{}{}, args...), pageSize, offset)
	rows, qerr := s.db.QueryContext(ctx, `
		SELECT m.time_text, COALESCE(m.author,''), COALESCE(m.theme,''),
		       MAX(COALESCE(m.timestamp_ms,0))
		FROM media_items m
		WHERE `+where+`
		GROUP BY m.time_text, COALESCE(m.author,''), COALESCE(m.theme,'')
		ORDER BY `+orderBy+`
		LIMIT ? OFFSET ?`, groupArgs...)
	if qerr != nil {
		err = qerr
		return nil, fmt.Errorf("resources group query failed: %w", err)
	}
	defer rows.Close()

	type groupKey struct {
		timeText, author, theme string
		timestampMs             int64
	}
	var keys []groupKey
	for rows.Next() {
		var k groupKey
		if err = rows.Scan(&k.timeText, &k.author, &k.theme, &k.timestampMs); err != nil {
			return nil, fmt.Errorf("resources group scan failed: %w", err)
		}
		keys = append(keys, k)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("resources group rows failed: %w", err)
	}

	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		g, gerr := s.buildGroup(ctx, k.timeText, k.author, k.theme, k.timestampMs, f.DirID)
		if gerr != nil {
			err = gerr
			return nil, err
		}
		groups = append(groups, *g)
	}

	return &ResourcesResult{
		Groups: groups,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasMore:    page < totalPages,
			TotalItems: totalItems,
		},
	}, nil
}

// buildGroup assembles one output group: its items in sequence order, the
// deduplicated declared types, the joined tag set and the display theme.
func (s *Store) buildGroup(ctx context.Context, timeText, author, theme string, timestampMs int64, dirID string) (*Group, error) {
	itemQuery := `
		SELECT m.rel_path, m.dir_id, m.ext, m.kind, m.seq, m.type_text
		FROM media_items m
		WHERE m.time_text = ? AND COALESCE(m.author,'') = ? AND COALESCE(m.theme,'') = ?`
	itemArgs := []interface{}{timeText, author, theme}
	if dirID != "" {
		itemQuery += " AND m.dir_id = ?"
		itemArgs = append(itemArgs, dirID)
	}
	itemQuery += fmt.Sprintf(" ORDER BY COALESCE(m.seq, %d) ASC, m.rel_path ASC", noSeq)

	rows, err := s.db.QueryContext(ctx, itemQuery, itemArgs...)
	if err != nil {
		return nil, fmt.Errorf("group item query failed: %w", err)
	}
	defer rows.Close()

	var items []GroupItem
	var types []string
	typeSeen := make(map[string]bool)
	for rows.Next() {
		var it GroupItem
		var kind, typeText string
		var seq *int
		if err := rows.Scan(&it.Filename, &it.DirID, &it.Ext, &kind, &seq, &typeText); err != nil {
			return nil, fmt.Errorf("group item scan failed: %w", err)
		}
		it.Kind = mediatypes.Kind(kind)
		it.Seq = seq
		it.URL = MediaURL("/media", it.DirID, it.Filename)
		it.ThumbURL = thumbURLFor(it.Kind, it.DirID, it.Filename)
		items = append(items, it)

		for _, tok := range strings.Split(typeText, "+") {
			if tok != "" && !typeSeen[tok] {
				typeSeen[tok] = true
				types = append(types, tok)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("group item rows failed: %w", err)
	}

	groupType := "unknown"
	if len(types) == 1 {
		groupType = types[0]
	} else if len(types) > 1 {
		groupType = "mixed"
	}

	tagQuery := `
		SELECT DISTINCT t.tag
		FROM media_items m
		JOIN media_item_tags t ON t.dir_id = m.dir_id AND t.rel_path = m.rel_path
		WHERE m.time_text = ? AND COALESCE(m.author,'') = ? AND COALESCE(m.theme,'') = ?`
	tagArgs := []interface{}{timeText, author, theme}
	if dirID != "" {
		tagQuery += " AND m.dir_id = ?"
		tagArgs = append(tagArgs, dirID)
	}
	tagQuery += " ORDER BY t.tag"

	tagRows, err := s.db.QueryContext(ctx, tagQuery, tagArgs...)
	if err != nil {
		return nil, fmt.Errorf("group tag query failed: %w", err)
	}
	defer tagRows.Close()

	var tagList []string
	for tagRows.Next() {
		var tag string
		if err := tagRows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("group tag scan failed: %w", err)
		}
		tagList = append(tagList, tag)
	}
	if err := tagRows.Err(); err != nil {
		return nil, fmt.Errorf("group tag rows failed: %w", err)
	}

	return &Group{
		ID:          GroupID(timeText, author, theme),
		TimeText:    timeText,
		Author:      author,
		Theme:       theme,
		ThemeText:   tags.Strip(theme),
		Types:       types,
		GroupType:   groupType,
		Tags:        tagList,
		TimestampMs: timestampMs,
		Items:       items,
	}, nil
}

// QueryAuthors returns one page of per-author aggregates. The latest-item
// lookup uses a window function and degrades gracefully (latestItem omitted)
// when the SQLite build does not support them.
func (s *Store) QueryAuthors(ctx context.Context, f Filter) (*AuthorsResult, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("query_authors", start, err) }()

	page := clampPage(f.Page)
	pageSize := clampPageSize(f.PageSize, 100, 500)

	where, args := itemFilter(f, true)

	var totalItems int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM media_items m WHERE "+where, args...).Scan(&totalItems)
	if err != nil {
		return nil, fmt.Errorf("authors item count failed: %w", err)
	}

	var total int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT COALESCE(m.author,'')) FROM media_items m WHERE "+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("authors count failed: %w", err)
	}

	totalPages := totalPagesFor(total, pageSize)
	if page > totalPages {
		page = totalPages
	}
	offset := (page - 1) * pageSize

	statArgs := append(append([]interface{}{}, args...), pageSize, offset)
	rows, qerr := s.db.QueryContext(ctx, `
		SELECT COALESCE(m.author,'') AS a,
		       COUNT(DISTINCT `+groupKeyExpr+`) AS gc,
		       COUNT(*) AS ic,
		       MAX(COALESCE(m.timestamp_ms,0)) AS ts
		FROM media_items m
		WHERE `+where+`
		GROUP BY COALESCE(m.author,'')
		ORDER BY gc DESC, ic DESC, ts DESC, a ASC
		LIMIT ? OFFSET ?`, statArgs...)
	if qerr != nil {
		err = qerr
		return nil, fmt.Errorf("authors stats query failed: %w", err)
	}
	defer rows.Close()

	var authors []AuthorStat
	for rows.Next() {
		var a AuthorStat
		if err = rows.Scan(&a.Author, &a.GroupCount, &a.ItemCount, &a.LatestTimestampMs); err != nil {
			return nil, fmt.Errorf("authors stats scan failed: %w", err)
		}
		authors = append(authors, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("authors stats rows failed: %w", err)
	}

	s.attachLatestItems(ctx, authors, where, args)

	return &AuthorsResult{
		Authors: authors,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasMore:    page < totalPages,
			TotalItems: totalItems,
		},
	}, nil
}

// attachLatestItems fills AuthorStat.LatestItem for the given page via a
// ROW_NUMBER window query. A failure leaves the stats intact; older SQLite
// builds without window-function support simply omit latestItem.
func (s *Store) attachLatestItems(ctx context.Context, authors []AuthorStat, where string, args []interface{}) {
	if len(authors) == 0 {
		return
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(authors)), ",")
	allArgs := append([]interface{}{}, args...)
	for _, a := range authors {
		allArgs = append(allArgs, a.Author)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a, rel_path, dir_id, ext, kind, seq FROM (
			SELECT COALESCE(m.author,'') AS a, m.rel_path, m.dir_id, m.ext, m.kind, m.seq,
			       ROW_NUMBER() OVER (
			           PARTITION BY COALESCE(m.author,'')
			           ORDER BY COALESCE(m.timestamp_ms,0) DESC, m.time_text DESC, m.rel_path DESC
			       ) AS rn
			FROM media_items m
			WHERE `+where+`
		) WHERE rn = 1 AND a IN (`+placeholders+`)`, allArgs...)
	if err != nil {
		logging.Debug("window-function latest-item query unavailable: %v", err)
		return
	}
	defer rows.Close()

	latest := make(map[string]*GroupItem, len(authors))
	for rows.Next() {
		var author, kind string
		var it GroupItem
		if err := rows.Scan(&author, &it.Filename, &it.DirID, &it.Ext, &kind, &it.Seq); err != nil {
			logging.Debug("latest-item scan failed: %v", err)
			return
		}
		it.Kind = mediatypes.Kind(kind)
		it.URL = MediaURL("/media", it.DirID, it.Filename)
		it.ThumbURL = thumbURLFor(it.Kind, it.DirID, it.Filename)
		item := it
		latest[author] = &item
	}
	if err := rows.Err(); err != nil {
		logging.Debug("latest-item rows failed: %v", err)
		return
	}

	for i := range authors {
		authors[i].LatestItem = latest[authors[i].Author]
	}
}

// QueryTags returns tag aggregates ordered by usage, limited by f.Limit.
// f.Query is a substring match against the normalized tag; f.DirID scopes
// the aggregation to one directory.
func (s *Store) QueryTags(ctx context.Context, f Filter) ([]TagStat, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("query_tags", start, err) }()

	limit := f.Limit
	if limit < 1 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT t.tag,
		       COUNT(DISTINCT ` + groupKeyExpr + `) AS gc,
		       COUNT(*) AS ic,
		       MAX(COALESCE(m.timestamp_ms,0)) AS ts
		FROM media_item_tags t
		JOIN media_items m ON m.dir_id = t.dir_id AND m.rel_path = t.rel_path
		WHERE 1=1`
	var args []interface{}

	if f.Query != "" {
		// Stored tags are in normalized form; fold the query the same way
		// so full-width input matches its half-width storage form.
		query += ` AND t.tag LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(tags.Normalize(f.Query))+"%")
	}
	if f.DirID != "" {
		query += " AND m.dir_id = ?"
		args = append(args, f.DirID)
	}

	query += `
		GROUP BY t.tag
		ORDER BY gc DESC, ic DESC, t.tag ASC
		LIMIT ?`
	args = append(args, limit)

	rows, qerr := s.db.QueryContext(ctx, query, args...)
	if qerr != nil {
		err = qerr
		return nil, fmt.Errorf("tags query failed: %w", err)
	}
	defer rows.Close()

	var stats []TagStat
	for rows.Next() {
		var t TagStat
		if err = rows.Scan(&t.Tag, &t.GroupCount, &t.ItemCount, &t.LatestTimestampMs); err != nil {
			return nil, fmt.Errorf("tags scan failed: %w", err)
		}
		stats = append(stats, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("tags rows failed: %w", err)
	}
	return stats, nil
}
