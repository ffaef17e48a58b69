package amounts

import (
	"regexp"
	"strconv"
	"strings"
)

// segmentMatcher reports whether a rendering of an amount occurs in a segment
type segmentMatcher struct {
	name  string
	match func(segment, rendering string) bool
}

// segmentMatchers are tried in precedence order for every segment
var segmentMatchers = []segmentMatcher{
	{"space-delimited", func(seg, r string) bool { return strings.Contains(seg, " "+r+" ") }},
	{"colon-prefixed", func(seg, r string) bool { return strings.Contains(seg, ":"+r) }},
	{"comma-suffixed", func(seg, r string) bool { return strings.Contains(seg, " "+r+",") }},
	{"period-suffixed", func(seg, r string) bool { return strings.Contains(seg, " "+r+".") }},
	{"segment-ending", func(seg, r string) bool { return strings.HasSuffix(seg, " "+r) }},
	{"exact", func(seg, r string) bool { return seg == r }},
}

// segmentMatch records where and how an amount was located
type segmentMatch struct {
	segment   string
	rendering string
	matcher   string
}

// splitSegments lowercases text and splits it on commas, periods and line breaks
func splitSegments(text string) []string {
	pieces := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r == ',' || r == '.' || r == '\n'
	})
	segments := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if p = strings.TrimSpace(p); p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// renderings lists the literal forms an amount may take in text, most specific first
func renderings(value float64) []string {
	plain := formatValue(value)
	fixed := strconv.FormatFloat(value, 'f', 2, 64)
	return []string{plain, fixed, " " + plain + " ", ":" + plain, plain + ",", plain + "."}
}

// locate finds the first segment containing value, trying every rendering against every
// segment before falling back to a whole-word match on the plain rendering
func locate(value float64, segments []string) (segmentMatch, bool) {
	for _, r := range renderings(value) {
		for _, seg := range segments {
			for _, m := range segmentMatchers {
				if m.match(seg, r) {
					return segmentMatch{segment: seg, rendering: r, matcher: m.name}, true
				}
			}
		}
	}

	plain := formatValue(value)
	wholeWord := regexp.MustCompile(`\b` + regexp.QuoteMeta(plain) + `\b`)
	for _, seg := range segments {
		if wholeWord.MatchString(seg) {
			return segmentMatch{segment: seg, rendering: plain, matcher: "whole-word"}, true
		}
	}
	return segmentMatch{}, false
}
