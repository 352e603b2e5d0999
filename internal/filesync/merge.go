package filesync

import (
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// hunk is a contiguous run of base lines replaced by a new set of lines.
// A zero-width hunk (start == end) is a pure insertion at that point.
type hunk struct {
	start, end int
	lines      []string
}

// threeWayMerge attempts a line-oriented merge of ours and theirs against
// their common ancestor base. It succeeds only if every changed hunk on
// one side is disjoint from every changed hunk on the other.
func threeWayMerge(base, ours, theirs string) (string, bool) {
	baseLines := splitLines(base)

	oursHunks := lineHunks(base, ours)
	theirsHunks := lineHunks(base, theirs)

	for _, a := range oursHunks {
		for _, b := range theirsHunks {
			if hunksOverlap(a, b) {
				return "", false
			}
		}
	}

	merged := append(append([]hunk(nil), oursHunks...), theirsHunks...)
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].start != merged[j].start {
			return merged[i].start < merged[j].start
		}
		return merged[i].end < merged[j].end
	})

	return strings.Join(applyHunks(baseLines, merged), ""), true
}

// lineHunks returns the line-granularity hunks that turn base into other.
func lineHunks(base, other string) []hunk {
	dmp := diffmatchpatch.New()
	c1, c2, lines := dmp.DiffLinesToChars(base, other)
	diffs := dmp.DiffMain(c1, c2, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var hunks []hunk
	baseLine := 0
	i := 0
	for i < len(diffs) {
		d := diffs[i]
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			baseLine += len(splitLines(d.Text))
			i++
		case diffmatchpatch.DiffDelete:
			start := baseLine
			delLines := len(splitLines(d.Text))
			var insText string
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffInsert {
				insText = diffs[i+1].Text
				i += 2
			} else {
				i++
			}
			baseLine += delLines
			hunks = append(hunks, hunk{start: start, end: start + delLines, lines: splitLines(insText)})
		case diffmatchpatch.DiffInsert:
			hunks = append(hunks, hunk{start: baseLine, end: baseLine, lines: splitLines(d.Text)})
			i++
		}
	}
	return hunks
}

// hunksOverlap reports whether a and b touch any common base line.
// Zero-width (pure insertion) hunks only conflict with another insertion
// at the exact same point.
func hunksOverlap(a, b hunk) bool {
	if a.end > a.start && b.end > b.start {
		return a.start < b.end && b.start < a.end
	}
	return a.start == b.start && a.end == b.end
}

// applyHunks replaces base's hunk ranges with their new content, in
// order. Callers must have already verified the hunks are disjoint and
// sorted by start.
func applyHunks(base []string, hunks []hunk) []string {
	var out []string
	idx := 0
	for _, h := range hunks {
		if h.start < idx {
			continue // defensive: overlapping/out-of-order hunk, skip
		}
		out = append(out, base[idx:h.start]...)
		out = append(out, h.lines...)
		idx = h.end
	}
	out = append(out, base[idx:]...)
	return out
}

// splitLines splits s into lines, each retaining its trailing newline
// (except possibly the last), matching diffmatchpatch's line-mode
// convention.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
