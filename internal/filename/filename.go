// Package filename decodes the structured naming scheme used by the media
// library. A trackable file is named
//
//	YYYY-MM-DD HH.MM.SS-TYPE-AUTHOR-THEME[_SEQ].ext
//
// where TYPE may carry multiple tokens joined by '+' and THEME may itself
// contain '-' characters. Files that do not follow the scheme are not media
// files as far as the indexer is concerned.
package filename

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"media-library/internal/mediatypes"
)

// timestampLen is the fixed length of the leading timestamp segment.
const timestampLen = 19

var (
	timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}\.\d{2}\.\d{2}$`)
	seqSuffixPattern = regexp.MustCompile(`_(\d+)$`)
)

// Parsed holds the metadata decoded from a media filename.
type Parsed struct {
	TimeText      string          // original 19-char timestamp text
	ISO           string          // ISO-8601 local form, e.g. "2025-12-07T16:29:19"
	TimestampMs   *int64          // epoch milliseconds, nil if the timestamp text is unparseable
	TypeText      string          // raw type token, may be "A+B"
	DeclaredTypes []string        // non-empty tokens of TypeText split on '+'
	Author        string          // publisher name, never empty in a parsed name
	Theme         string          // free text, may contain #hashtags
	Seq           *int            // positional index within a group, nil when absent
	Ext           string          // lowercased extension including the dot
	Kind          mediatypes.Kind // derived from Ext
}

// Parse decodes a basename (with extension) into its metadata fields.
// It returns ok=false when the name does not follow the naming scheme;
// such files are ignored by the indexer entirely.
func Parse(name string) (*Parsed, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))

	// The timestamp is exactly 19 characters and must be followed by '-'.
	if len(base) < timestampLen+1 || base[timestampLen] != '-' {
		return nil, false
	}

	timeText := base[:timestampLen]
	if !timestampPattern.MatchString(timeText) {
		return nil, false
	}

	rest := base[timestampLen+1:]
	parts := strings.Split(rest, "-")
	if len(parts) < 3 {
		return nil, false
	}

	typeText := parts[0]
	author := parts[1]
	if typeText == "" || author == "" {
		return nil, false
	}
	themeSeq := strings.Join(parts[2:], "-")

	theme := themeSeq
	var seq *int
	if m := seqSuffixPattern.FindStringSubmatch(themeSeq); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			seq = &n
			theme = themeSeq[:len(themeSeq)-len(m[0])]
		}
	}

	iso := isoFromTimeText(timeText)

	var tsMs *int64
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", iso, time.Local); err == nil {
		ms := t.UnixMilli()
		tsMs = &ms
	}

	var declared []string
	for _, tok := range strings.Split(typeText, "+") {
		if tok != "" {
			declared = append(declared, tok)
		}
	}

	return &Parsed{
		TimeText:      timeText,
		ISO:           iso,
		TimestampMs:   tsMs,
		TypeText:      typeText,
		DeclaredTypes: declared,
		Author:        author,
		Theme:         theme,
		Seq:           seq,
		Ext:           ext,
		Kind:          mediatypes.KindForExt(ext),
	}, true
}

// isoFromTimeText converts "2025-12-07 16.29.19" to "2025-12-07T16:29:19".
func isoFromTimeText(timeText string) string {
	datePart := timeText[:10]
	timePart := strings.ReplaceAll(timeText[11:], ".", ":")
	return datePart + "T" + timePart
}
