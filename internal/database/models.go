package database

import (
	"crypto/sha1"
	"encoding/hex"

	"media-library/internal/mediatypes"
)

// MediaItem is one indexed file. Identity is (DirID, RelPath) where RelPath
// is a POSIX-style path relative to the owning media directory.
type MediaItem struct {
	DirID       string
	RelPath     string
	Ext         string
	Kind        mediatypes.Kind
	TimeText    string
	ISO         string
	TimestampMs *int64
	Author      string
	Theme       string
	TypeText    string
	Seq         *int
	MtimeMs     float64
	Size        int64
	SeenRun     int64
	CreatedAtMs int64
	UpdatedAtMs int64
}

// FileMeta is the filesystem metadata recorded for change detection.
type FileMeta struct {
	MtimeMs float64
	Size    int64
}

// GroupItem is the per-file view emitted inside a group.
type GroupItem struct {
	Filename string          `json:"filename"`
	DirID    string          `json:"dirId"`
	URL      string          `json:"url"`
	Ext      string          `json:"ext"`
	Kind     mediatypes.Kind `json:"kind"`
	Seq      *int            `json:"seq"`
	ThumbURL string          `json:"thumbUrl,omitempty"`
}

// Group is the equivalence class of items sharing (timeText, author, theme).
// It is derived at query time, never stored.
type Group struct {
	ID          string      `json:"id"`
	TimeText    string      `json:"timeText"`
	Author      string      `json:"author"`
	Theme       string      `json:"theme"`
	ThemeText   string      `json:"themeText"`
	Types       []string    `json:"types"`
	GroupType   string      `json:"groupType"`
	Tags        []string    `json:"tags"`
	TimestampMs int64       `json:"timestampMs"`
	Items       []GroupItem `json:"items"`
}

// Pagination is the envelope shared by the resources and authors queries.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"pageSize"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
	TotalItems int  `json:"totalItems"`
}

// AuthorStat aggregates the groups and items published by one author.
// LatestItem is nil when the window-function query form is unavailable.
type AuthorStat struct {
	Author            string     `json:"author"`
	GroupCount        int        `json:"groupCount"`
	ItemCount         int        `json:"itemCount"`
	LatestTimestampMs int64      `json:"latestTimestampMs"`
	LatestItem        *GroupItem `json:"latestItem,omitempty"`
}

// TagStat aggregates usage of one normalized tag.
type TagStat struct {
	Tag               string `json:"tag"`
	GroupCount        int    `json:"groupCount"`
	ItemCount         int    `json:"itemCount"`
	LatestTimestampMs int64  `json:"latestTimestampMs"`
}

// Sort modes for the resources query.
const (
	SortPublish = "publish"
	SortIngest  = "ingest"
)

// GroupID returns the stable group identifier, a pure function of the
// grouping tuple.
func GroupID(timeText, author, theme string) string {
	sum := sha1.Sum([]byte(timeText + "|" + author + "|" + theme))
	return hex.EncodeToString(sum[:])
}
