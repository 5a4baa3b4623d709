package retrieval

import (
	"regexp"
	"strings"
	"time"
)

// timeUp reports whether a stage's per-call wall-clock budget has been
// exceeded relative to the shared deadline.
func timeUp(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}

// windowAround returns a 1-based, inclusive [a,b] line window padded
// `around` lines on each side of [lineStart, lineEnd], clamped to the
// file's line count, plus the joined preview text.
func windowAround(lines []string, lineStart, lineEnd, around int) (int, int, string) {
	n := len(lines)
	if n == 0 {
		return 0, 0, ""
	}
	a := lineStart - around
	if a < 1 {
		a = 1
	}
	b := lineEnd + around
	if b > n {
		b = n
	}
	if a > b {
		a, b = b, a
	}
	return a, b, strings.TrimSpace(strings.Join(lines[a-1:b], "\n"))
}

// snippetFromPos derives a 1-based line window from a byte offset span
// within txt, mirroring _snippet_from_pos.
func snippetFromPos(txt string, pos0, length, around int) (int, int, string) {
	if pos0 < 0 {
		return 0, 0, ""
	}
	pos1 := pos0 + length
	if length < 1 {
		pos1 = pos0 + 1
	}
	if pos1 > len(txt) {
		pos1 = len(txt)
	}
	ls := strings.Count(txt[:pos0], "\n") + 1
	spanLines := strings.Count(txt[pos0:pos1], "\n")
	if spanLines < 1 {
		spanLines = 1
	}
	le := ls + spanLines
	lines := strings.Split(txt, "\n")
	return windowAround(lines, ls, le, around)
}

// flexPattern builds a whitespace-insensitive regex from a code-like
// query fragment: runs of whitespace in the query become `\s+`, and
// regex metacharacters in the rest are escaped. Grounded on
// flex_pattern.make_flex_code_pattern_from_query — prefers the
// query's code-core fragment over the raw text when present.
func flexPattern(q Query, preferCore, ignoreCase bool) *regexp.Regexp {
	text := q.Raw
	if preferCore && q.CodeCore != "" {
		text = q.CodeCore
	} else if q.CodeCore != "" {
		text = q.CodeCore
	}
	text = strings.TrimSpace(text)
	if len(text) < 3 {
		return nil
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	var b strings.Builder
	if ignoreCase {
		b.WriteString("(?i)")
	}
	for i, f := range fields {
		if i > 0 {
			b.WriteString(`\s+`)
		}
		b.WriteString(regexp.QuoteMeta(f))
	}
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil
	}
	return re
}

// codeCoreOrRaw returns the query's code-core when present, else the
// raw query text.
func codeCoreOrRaw(q Query) string {
	if q.CodeCore != "" {
		return q.CodeCore
	}
	return q.Raw
}

func lowerContainsAny(hay string, needles []string) bool {
	for _, n := range needles {
		if n == "" {
			continue
		}
		if strings.Contains(hay, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func hitFromChunk(score float64, stage string, m ChunkMeta) Hit {
	return Hit{Score: score, FileRel: m.FileRel, Meta: m, Stage: stage}
}
