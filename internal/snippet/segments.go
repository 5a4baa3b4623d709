package snippet

import (
	"fmt"
	"sort"
	"strings"
)

var importantCommentTags = []string{"todo", "fixme", "note", "warn", "warning", "important", "hack", "bug"}

// stripComments drops standalone `#` comment lines (keeping ones that
// carry an important tag) and blank lines, while never touching
// triple-quoted string/docstring bodies. Grounded on _strip_comments_py.
func stripComments(lines []string) []string {
	var out []string
	inTriple := false
	for _, s := range lines {
		trimmedLeft := strings.TrimLeft(s, " \t")
		if hasTripleQuoteOpen(trimmedLeft) {
			inTriple = !inTriple
			out = append(out, s)
			continue
		}
		if inTriple {
			out = append(out, s)
			continue
		}
		st := strings.TrimSpace(s)
		if st == "" {
			continue
		}
		if strings.HasPrefix(st, "#") {
			low := strings.ToLower(strings.TrimSpace(st[1:]))
			for _, tag := range importantCommentTags {
				if strings.Contains(low, tag) {
					out = append(out, s)
					break
				}
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

func hasTripleQuoteOpen(s string) bool {
	for _, prefix := range []string{"'''", "\"\"\""} {
		if strings.Contains(s, prefix) {
			return true
		}
		for _, q := range []string{"r", "R", "u", "U", "f", "F", "rf", "Rf", "rF", "RF"} {
			if strings.HasPrefix(s, q+prefix) {
				return true
			}
		}
	}
	return false
}

func collectAnchorLines(lines []string, anchors []string, maxWindows int) []int {
	if len(anchors) == 0 {
		return nil
	}
	var lowLines []string
	for _, l := range lines {
		lowLines = append(lowLines, strings.ToLower(l))
	}
	var found []int
	limit := maxWindows * 2
	for _, a := range anchors {
		tok := strings.ToLower(strings.TrimSpace(a))
		if len(tok) < 2 {
			continue
		}
		for i, l := range lowLines {
			if strings.Contains(l, tok) {
				found = append(found, i+1)
				if len(found) >= limit {
					break
				}
			}
		}
		if len(found) >= limit {
			break
		}
	}
	seen := make(map[int]bool)
	var uniq []int
	for _, x := range found {
		if !seen[x] {
			seen[x] = true
			uniq = append(uniq, x)
		}
	}
	if len(uniq) == 0 {
		ctrl := []string{"return", "raise", "yield", "assert", "except", "finally"}
		for i, l := range lowLines {
			for _, t := range ctrl {
				if strings.Contains(l, t) {
					uniq = append(uniq, i+1)
					break
				}
			}
			if len(uniq) >= maxWindows {
				break
			}
		}
	}
	sort.Ints(uniq)
	if len(uniq) > limit {
		uniq = uniq[:limit]
	}
	return uniq
}

type window struct {
	a, b, center int
}

func mergeWindows(points []int, around, nlines, limit int) []window {
	sorted := append([]int{}, points...)
	sort.Ints(sorted)
	var out []window
	for _, c := range sorted {
		a := c - around
		if a < 1 {
			a = 1
		}
		b := c + around
		if b > nlines {
			b = nlines
		}
		if len(out) > 0 && a <= out[len(out)-1].b+2 {
			last := &out[len(out)-1]
			if b > last.b {
				last.b = b
			}
		} else {
			out = append(out, window{a, b, c})
		}
		if len(out) >= limit {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func overlaps(a1, b1, a2, b2 int) bool {
	return !(b1 < a2 || b2 < a1)
}

// AnchorSource is the callback used to derive query anchor tokens
// (identifiers + strong tokens + codeish tokens) without importing
// the retrieval package, avoiding a dependency cycle.
type AnchorSource func(query string) []string

// BuildMultiSegmentPython composes a head/mid/tail snippet for a
// Python scope too large to include whole, grounded on
// build_multi_segment_python in snippet_segments.py.
func BuildMultiSegmentPython(
	fileLines []string,
	scopeStart, scopeEnd int,
	query string,
	anchorsOf AnchorSource,
	perHitChars, headLines, tailLines, midWindows, midAround int,
	stripCommentsFlag bool,
	extraCenters []int,
) string {
	sIdx := scopeStart - 1
	if sIdx < 0 {
		sIdx = 0
	}
	eIdx := scopeEnd - 1
	if eIdx > len(fileLines)-1 {
		eIdx = len(fileLines) - 1
	}
	if eIdx < sIdx {
		eIdx = sIdx
	}
	scope := append([]string{}, fileLines[sIdx:eIdx+1]...)

	workScope := scope
	if stripCommentsFlag {
		stripped := stripComments(scope)
		if len(stripped) > 0 {
			workScope = stripped
		}
	}

	var segments []string
	headN := headLines
	if headN < 0 {
		headN = 0
	}
	if headN > len(workScope) {
		headN = len(workScope)
	}
	head := workScope[:headN]
	if len(head) > 0 {
		segments = append(segments, "# segment: head\n"+strings.TrimRight(strings.Join(head, "\n"), " \t\n"))
	}

	var anchors []string
	if anchorsOf != nil {
		anchors = anchorsOf(query)
	}
	centers := collectAnchorLines(workScope, anchors, maxInt(1, midWindows))
	for _, c := range extraCenters {
		if scopeStart <= c && c <= scopeEnd {
			centers = append(centers, c-scopeStart+1)
		}
	}
	windows := mergeWindows(centers, maxInt(1, midAround), len(workScope), maxInt(1, midWindows))

	headSpanB := headN
	tailSpanA, tailSpanB := 0, 0
	hasTail := tailLines > 0
	if hasTail {
		tailSpanA = len(workScope) - tailLines + 1
		if tailSpanA < 1 {
			tailSpanA = 1
		}
		tailSpanB = len(workScope)
	}
	var filtered []window
	for _, w := range windows {
		if headSpanB > 0 && overlaps(w.a, w.b, 1, headSpanB) {
			continue
		}
		if hasTail && overlaps(w.a, w.b, tailSpanA, tailSpanB) {
			continue
		}
		filtered = append(filtered, w)
	}
	for _, w := range filtered {
		seg := workScope[w.a-1 : w.b]
		segments = append(segments, fmt.Sprintf("# segment: mid @L%d\n%s", w.center, strings.TrimRight(strings.Join(seg, "\n"), " \t\n")))
	}

	if hasTail {
		start := len(workScope) - tailLines
		if start < 0 {
			start = 0
		}
		tail := workScope[start:]
		if len(tail) > 0 {
			segments = append(segments, "# segment: tail\n"+strings.TrimRight(strings.Join(tail, "\n"), " \t\n"))
		}
	}

	const sep = "\n\n# ---- \n\n"
	var out strings.Builder
	total := 0
	budget := perHitChars
	if budget < 1 {
		budget = 1
	}
	for i, seg := range segments {
		prefix := ""
		if i > 0 {
			prefix = sep
		}
		add := len(seg) + len(prefix)
		if total+add > budget {
			remain := budget - total - len(prefix)
			if remain > 40 {
				out.WriteString(prefix)
				out.WriteString(seg[:remain])
				total += len(prefix) + remain
			}
			break
		}
		out.WriteString(prefix)
		out.WriteString(seg)
		total += add
	}
	if out.Len() == 0 {
		joined := strings.Join(scope, "\n")
		if len(joined) > perHitChars {
			joined = joined[:perHitChars]
		}
		return joined
	}
	return out.String()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
