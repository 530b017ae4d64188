package generate

import (
	"strings"
	"unicode/utf8"
)

// SafeSplit computes the earliest safe split point in buf given a set
// of configured stop strings, per spec.md §4.3's stop-string matching
// rule: the longest buffer prefix that cannot be extended by any
// pending bytes to complete any stop string, further clamped to a
// valid UTF-8 boundary. If some stop string is fully matched inside
// buf, matched is true and split is the exact match start (nothing of
// the match, or after it, is ever emitted).
func SafeSplit(buf []byte, stops []string) (split int, matched bool) {
	split = len(buf)
	matchAt := -1
	for _, s := range stops {
		if s == "" {
			continue
		}
		sp, m := safeSplitForStop(buf, s)
		if m {
			if matchAt < 0 || sp < matchAt {
				matchAt = sp
			}
			continue
		}
		if sp < split {
			split = sp
		}
	}
	if matchAt >= 0 {
		return matchAt, true
	}
	return longestValidUTF8Prefix(buf[:split]), false
}

// safeSplitForStop returns the longest prefix of buf that cannot be
// extended into s by bytes appended after buf, for a single stop
// string. If s already occurs fully in buf, matched is true and split
// is the match's start index.
func safeSplitForStop(buf []byte, s string) (split int, matched bool) {
	if idx := strings.Index(string(buf), s); idx >= 0 {
		return idx, true
	}
	maxLen := len(s) - 1
	if maxLen > len(buf) {
		maxLen = len(buf)
	}
	for l := maxLen; l > 0; l-- {
		suffix := buf[len(buf)-l:]
		if strings.HasPrefix(s, string(suffix)) {
			return len(buf) - l, false
		}
	}
	return len(buf), false
}

// longestValidUTF8Prefix trims an in-progress multi-byte rune off the
// tail of b, returning the length of the remaining valid prefix.
func longestValidUTF8Prefix(b []byte) int {
	n := len(b)
	limit := n - 4
	if limit < 0 {
		limit = 0
	}
	for i := n - 1; i >= limit; i-- {
		c := b[i]
		if c < 0x80 {
			break
		}
		if c >= 0xC0 {
			if !utf8.FullRune(b[i:n]) {
				return i
			}
			break
		}
	}
	return n
}
