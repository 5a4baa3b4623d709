package retrieval

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ExactStage matches expanded strong query tokens against chunk
// preview/terms/path, falling back to a single read of the file text,
// grounded on project_stage_exact.py.
type ExactStage struct{ Env Env }

func (s *ExactStage) Name() string          { return "exact" }
func (s *ExactStage) Activate(q Query) bool { return len(q.Tokens) > 0 }

func (s *ExactStage) Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit {
	codeToks := q.Tokens
	if len(codeToks) > 8 {
		codeToks = codeToks[:8]
	}
	if len(codeToks) == 0 || s.Env.Chunks == nil {
		return nil
	}
	var hits []Hit
	seenFiles := make(map[string]bool)
	_ = s.Env.Chunks.Iterate(ctx, func(m ChunkMeta) bool {
		if timeUp(deadline) {
			return true
		}
		hay := strings.ToLower(m.TextPreview + " " + strings.Join(m.Terms, " ") + " " + m.FileRel)
		ok := false
		for _, t := range codeToks {
			if strings.Contains(hay, strings.ToLower(t)) {
				ok = true
				break
			}
		}
		if !ok && m.FileRel != "" && !seenFiles[m.FileRel] {
			seenFiles[m.FileRel] = true
			if txt, readOK := readFile(s.Env, m.FileRel); readOK {
				low := strings.ToLower(txt)
				for _, t := range codeToks {
					if strings.Contains(low, strings.ToLower(t)) {
						ok = true
						break
					}
				}
			}
		}
		if !ok {
			return false
		}
		hits = append(hits, hitFromChunk(0.95, s.Name(), m))
		return false
	})
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// KeywordStage is the lightweight last-resort fallback: substring
// scoring proportional to how many query tokens appear, grounded on
// project_stage_keyword.py.
type KeywordStage struct{ Env Env }

var keywordTokenRe = regexp.MustCompile(`[\w\.]+`)

func (s *KeywordStage) Name() string          { return "keyword" }
func (s *KeywordStage) Activate(q Query) bool { return strings.TrimSpace(q.Raw) != "" }

func (s *KeywordStage) Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit {
	var toks []string
	for _, t := range keywordTokenRe.FindAllString(q.Raw, -1) {
		if len(t) >= 2 {
			toks = append(toks, strings.ToLower(t))
		}
	}
	if len(toks) == 0 || s.Env.Chunks == nil {
		return nil
	}
	var hits []Hit
	_ = s.Env.Chunks.Iterate(ctx, func(m ChunkMeta) bool {
		if timeUp(deadline) {
			return true
		}
		hay := strings.ToLower(m.TextPreview + " " + m.FileRel + " " + strings.Join(m.Terms, " "))
		n := 0
		for _, t := range toks {
			if strings.Contains(hay, t) {
				n++
			}
		}
		if n <= 0 {
			return false
		}
		score := 0.18 + minFloat(0.04*float64(n), 0.20)
		hits = append(hits, hitFromChunk(score, s.Name(), m))
		return false
	})
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
