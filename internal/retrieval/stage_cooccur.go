package retrieval

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
)

// cooccurMaxDist is the max line distance between two query tokens to
// count as a co-occurrence window (PROJ_COOCCUR_MAX_DIST).
const cooccurMaxDist = 18

var cooccurTokenRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_\.]*`)

var cooccurStop = map[string]bool{
	"and": true, "or": true, "not": true, "if": true, "else": true, "elif": true, "for": true,
	"in": true, "while": true, "return": true, "true": true, "false": true, "none": true,
	"class": true, "def": true, "with": true, "as": true, "try": true, "except": true,
	"finally": true, "from": true, "import": true, "pass": true,
}

func cooccurTokens(q string, limit int) []string {
	s := strings.TrimSpace(q)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "&&", " and ")
	s = strings.ReplaceAll(s, "||", " or ")
	seen := make(map[string]bool)
	var out []string
	for _, m := range cooccurTokenRe.FindAllString(s, -1) {
		if len(m) < 3 {
			continue
		}
		ml := strings.ToLower(m)
		if cooccurStop[ml] || seen[ml] {
			continue
		}
		seen[ml] = true
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func findLines(lines []string, token string) []int {
	tCS := token
	tCI := strings.ToLower(token)
	var out []int
	for i, ln := range lines {
		if strings.Contains(ln, tCS) || strings.Contains(strings.ToLower(ln), tCI) {
			out = append(out, i+1)
		}
	}
	return out
}

// CooccurStage finds Python windows where at least two query tokens
// appear within a small line distance, grounded on project_stage_cooccur.py.
type CooccurStage struct{ Env Env }

func (s *CooccurStage) Name() string          { return "cooccur" }
func (s *CooccurStage) Activate(q Query) bool { return len(cooccurTokens(q.Raw, 4)) >= 2 }

func (s *CooccurStage) Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit {
	tokens := cooccurTokens(q.Raw, 4)
	if len(tokens) < 2 {
		return nil
	}
	var hits []Hit
	process := func(rel string) bool {
		if timeUp(deadline) {
			return true
		}
		txt, ok := readFile(s.Env, rel)
		if !ok || txt == "" {
			return false
		}
		lines := strings.Split(txt, "\n")
		locs := make([][]int, len(tokens))
		present := 0
		for i, t := range tokens {
			locs[i] = findLines(lines, t)
			if len(locs[i]) > 0 {
				present++
			}
		}
		if present < 2 {
			return false
		}
		bestScore := 0.0
		bestA, bestB := 0, 0
		for i := 0; i < len(tokens); i++ {
			li := locs[i]
			if len(li) == 0 {
				continue
			}
			for j := i + 1; j < len(tokens); j++ {
				lj := locs[j]
				if len(lj) == 0 {
					continue
				}
				p, qi := 0, 0
				for p < len(li) && qi < len(lj) {
					l1, l2 := li[p], lj[qi]
					d := l1 - l2
					if d < 0 {
						d = -d
					}
					if d <= cooccurMaxDist {
						a, b := l1, l2
						if a > b {
							a, b = b, a
						}
						score := 0.992 + 0.006*(1.0-float64(d)/float64(cooccurMaxDist+1))
						if score > bestScore {
							bestScore = score
							bestA, bestB = a, b
						}
						if l1 <= l2 {
							p++
						} else {
							qi++
						}
					} else if l1 < l2 {
						p++
					} else {
						qi++
					}
				}
			}
		}
		if bestScore <= 0 || bestA <= 0 {
			return false
		}
		a, b, snip := windowAround(lines, bestA, bestB, 12)
		hits = append(hits, hitFromChunk(bestScore, s.Name(), ChunkMeta{
			FileRel: rel, LineStart: a, LineEnd: b, TextPreview: snip,
		}))
		return len(hits) >= k
	}
	for _, rel := range collectRelFiles(ctx, s.Env) {
		if strings.HasSuffix(rel, ".py") && process(rel) {
			return hits
		}
	}
	if s.Env.Files != nil {
		files, _ := s.Env.Files.Walk(ctx, "py")
		for _, rel := range files {
			if process(rel) {
				return hits
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits
}
