// Package tags extracts and normalizes #hashtag tokens from theme text.
// Tags are stored lowercased in NFKC form with the leading '#' stripped,
// so the same normalization must be applied to user-supplied tag filters.
package tags

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultMax caps hashtag extraction when the caller passes max <= 0.
const DefaultMax = 80

var hashtagPattern = regexp.MustCompile(`#([^\s#]+)`)

// stripPattern matches whole hashtag tokens preceded by start-of-string or
// whitespace, for removal from display text.
var stripPattern = regexp.MustCompile(`(^|\s)#[^\s#]+`)

const (
	trailingPunct = ",.!?:;、。，．！？：；）】」』”’\"')]}》〉"
	leadingPunct  = "（【「『“‘\"'([{《〈"
)

// Extract returns the hashtags found in text, normalized and deduplicated
// case-insensitively, in order of first occurrence. At most max tags are
// captured; max <= 0 means DefaultMax.
func Extract(text string, max int) []string {
	if max <= 0 {
		max = DefaultMax
	}

	matches := hashtagPattern.FindAllStringSubmatch(normalize(text), max)
	if matches == nil {
		return nil
	}

	var out []string
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		tag := trimPunct(m[1])
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

// Strip removes whole hashtag tokens from text and collapses whitespace.
// Used to derive the display theme shown alongside the tag list.
func Strip(text string) string {
	cleaned := stripPattern.ReplaceAllString(normalize(text), "$1")
	return strings.Join(strings.Fields(cleaned), " ")
}

// Normalize converts a user-supplied tag to its storage form: NFKC,
// a single leading '#' dropped, trailing punctuation trimmed, lowercased.
// Normalize is idempotent.
func Normalize(tag string) string {
	t := normalize(tag)
	t = strings.TrimPrefix(t, "#")
	t = trimPunct(t)
	return strings.ToLower(t)
}

// normalize folds the full-width number sign and applies NFKC.
func normalize(s string) string {
	return norm.NFKC.String(strings.ReplaceAll(s, "＃", "#"))
}

// trimPunct strips trailing punctuation, then a leading bracket or quote,
// then surrounding whitespace.
func trimPunct(s string) string {
	s = strings.TrimRight(s, trailingPunct)
	s = strings.TrimLeft(s, leadingPunct)
	return strings.TrimSpace(s)
}
