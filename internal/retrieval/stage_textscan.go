package retrieval

import (
	"context"
	"strings"
	"time"
)

// TextScanStage is the no-embeddings-required baseline: a flexible
// phrase match over every included file, falling back to scoring by
// how many expanded tokens appear, grounded on project_stage_textscan.py.
type TextScanStage struct{ Env Env }

func (s *TextScanStage) Name() string          { return "textscan" }
func (s *TextScanStage) Activate(q Query) bool { return strings.TrimSpace(q.Raw) != "" }

func expandTextscanTokens(q Query, maxItems int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range append(append([]string{}, q.Tokens...), q.Codeish...) {
		tl := strings.ToLower(t)
		if tl == "" || seen[tl] {
			continue
		}
		seen[tl] = true
		out = append(out, t)
		if len(out) >= maxItems {
			break
		}
	}
	return out
}

func (s *TextScanStage) Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit {
	raw := strings.TrimSpace(q.Raw)
	if raw == "" {
		return nil
	}
	toks := expandTextscanTokens(q, 32)
	flexPat := flexPattern(q, true, false)

	var hits []Hit
	process := func(rel string) bool {
		if timeUp(deadline) {
			return true
		}
		txt, ok := readFile(s.Env, rel)
		if !ok || txt == "" {
			return false
		}
		if flexPat != nil {
			if loc := flexPat.FindStringIndex(txt); loc != nil {
				a, b, snip := snippetFromPos(txt, loc[0], loc[1]-loc[0], 12)
				hits = append(hits, hitFromChunk(0.99, s.Name(), ChunkMeta{
					FileRel: rel, LineStart: a, LineEnd: b, TextPreview: snip,
				}))
				return len(hits) >= k
			}
		}
		if len(toks) == 0 {
			return false
		}
		low := strings.ToLower(txt)
		matched := 0
		var firstIdx = -1
		for _, t := range toks {
			if idx := strings.Index(low, strings.ToLower(t)); idx >= 0 {
				matched++
				if firstIdx < 0 || idx < firstIdx {
					firstIdx = idx
				}
			}
		}
		if matched == 0 {
			return false
		}
		score := 0.98 + minFloat(0.01*float64(matched), 0.01)
		a, b, snip := snippetFromPos(txt, firstIdx, 1, 12)
		hits = append(hits, hitFromChunk(score, s.Name(), ChunkMeta{
			FileRel: rel, LineStart: a, LineEnd: b, TextPreview: snip,
		}))
		return len(hits) >= k
	}
	for _, rel := range collectRelFiles(ctx, s.Env) {
		if process(rel) {
			return hits
		}
	}
	if s.Env.Files != nil {
		files, _ := s.Env.Files.Walk(ctx, "")
		for _, rel := range files {
			if process(rel) {
				return hits
			}
		}
	}
	return hits
}
