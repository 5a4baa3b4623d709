package store

import (
	"context"

	"github.com/jinxlabs/retrieval-core/internal/retrieval"
)

// Span is the wire shape cmd/jinxcore prints for one ranked hit: a
// file/line span plus the stage that surfaced it and why.
type Span struct {
	Path    string  `json:"path"`
	Start   int     `json:"start"`
	End     int     `json:"end"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Stage   string  `json:"stage"`
	Reason  string  `json:"reason"`
}

// SpansFromHits converts an orchestrator's ranked hit list into the
// span shape the CLI reports, preserving rank order.
func SpansFromHits(hits []retrieval.Hit) []Span {
	out := make([]Span, 0, len(hits))
	for _, h := range hits {
		out = append(out, Span{
			Path:    h.FileRel,
			Start:   h.Meta.LineStart,
			End:     h.Meta.LineEnd,
			Snippet: h.Meta.TextPreview,
			Score:   h.Score,
			Stage:   h.Stage,
			Reason:  h.Reason,
		})
	}
	return out
}

// ReadSpan reads the text of path from start to end (1-indexed,
// inclusive) under repoRoot, for rendering a Span's full body on demand.
func ReadSpan(ctx context.Context, repoRoot, path string, start, end int) (string, error) {
	r := &Reader{m: &Manager{repoRoot: repoRoot}}
	data, err := r.ReadFile(path)
	if err != nil {
		return "", err
	}
	return sliceLines(string(data), start, end), nil
}

func sliceLines(content string, start, end int) string {
	if start < 1 {
		start = 1
	}
	lines := splitLinesKeep(content)
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	out := lines[start-1 : end]
	joined := ""
	for i, l := range out {
		if i > 0 {
			joined += "\n"
		}
		joined += l
	}
	return joined
}

func splitLinesKeep(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

