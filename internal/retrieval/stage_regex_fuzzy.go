package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/hbollon/go-edlib"
)

// RegexFuzzyStage approximates the original's optional `regex` package
// fuzzy phrase matching ({e<=N} bounded-edit regex): RE2 has no fuzzy
// quantifier, so a literal flex pattern locates the match region and
// an edit-distance check (go-edlib) tolerates a small number of
// errors proportional to query length, grounded on
// project_stage_regex.py.
type RegexFuzzyStage struct{ Env Env }

func (s *RegexFuzzyStage) Name() string          { return "regex-fuzzy" }
func (s *RegexFuzzyStage) Activate(q Query) bool { return len(strings.TrimSpace(codeCoreOrRaw(q))) >= 3 }

func (s *RegexFuzzyStage) Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit {
	qEff := strings.TrimSpace(codeCoreOrRaw(q))
	if len(qEff) < 3 {
		return nil
	}
	pat := flexPattern(q, true, true)
	if pat == nil {
		return nil
	}
	maxErr := len(qEff) / 10
	if maxErr < 1 {
		maxErr = 1
	}
	if maxErr > 4 {
		maxErr = 4
	}

	codey := q.CodeCore != ""
	var hits []Hit
	process := func(rel string) bool {
		if timeUp(deadline) {
			return true
		}
		if codey && !strings.HasSuffix(rel, ".py") {
			return false
		}
		txt, ok := readFile(s.Env, rel)
		if !ok || txt == "" {
			return false
		}
		loc := pat.FindStringIndex(txt)
		if loc == nil {
			return false
		}
		window := txt[loc[0]:loc[1]]
		dist := edlib.LevenshteinDistance(strings.ToLower(window), strings.ToLower(qEff))
		if dist > maxErr {
			return false
		}
		a, b, snip := snippetFromPos(txt, loc[0], loc[1]-loc[0], 12)
		hits = append(hits, hitFromChunk(0.993, s.Name(), ChunkMeta{
			FileRel: rel, LineStart: a, LineEnd: b, TextPreview: snip,
		}))
		return len(hits) >= k
	}
	lang := ""
	if codey {
		lang = "py"
	}
	for _, rel := range collectRelFiles(ctx, s.Env) {
		if process(rel) {
			return hits
		}
	}
	if s.Env.Files != nil {
		files, _ := s.Env.Files.Walk(ctx, lang)
		for _, rel := range files {
			if process(rel) {
				return hits
			}
		}
	}
	return hits
}

// RapidFuzzStage is the approximate-matching fallback: anchor tokens
// prefilter candidate files, then overlapping line windows near an
// anchor are scored by normalized edit-distance similarity, capped
// below the precise stages' score floor, grounded on
// project_stage_rapidfuzz.py.
type RapidFuzzStage struct{ Env Env }

func (s *RapidFuzzStage) Name() string          { return "rapidfuzz" }
func (s *RapidFuzzStage) Activate(q Query) bool { return strings.TrimSpace(q.Raw) != "" }

func rapidfuzzAnchors(q Query, limit int) []string {
	pool := append([]string{}, q.Tokens...)
	seen := make(map[string]bool)
	for _, t := range pool {
		seen[strings.ToLower(t)] = true
	}
	for _, t := range q.Codeish {
		if !seen[strings.ToLower(t)] {
			pool = append(pool, t)
			seen[strings.ToLower(t)] = true
		}
	}
	bad := map[string]bool{"for": true, "in": true, "def": true, "class": true, "return": true, "async": true, "await": true}
	var filtered []string
	for _, t := range pool {
		if len(t) >= 3 && !bad[strings.ToLower(t)] {
			filtered = append(filtered, t)
		}
	}
	sortByLenDesc(filtered)
	seen2 := make(map[string]bool)
	var out []string
	for _, t := range filtered {
		tl := strings.ToLower(t)
		if seen2[tl] {
			continue
		}
		seen2[tl] = true
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// partialRatio approximates RapidFuzz's partial_ratio: the best
// edit-distance similarity between the shorter string and any
// same-length window of the longer one.
func partialRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) >= len(long) {
		dist, err := edlib.StringsSimilarity(short, long, edlib.Levenshtein)
		if err != nil {
			return 0
		}
		return float64(dist)
	}
	best := 0.0
	step := 1
	if len(long) > 4000 {
		step = len(long) / 2000
	}
	for i := 0; i+len(short) <= len(long); i += step {
		window := long[i : i+len(short)]
		sim, err := edlib.StringsSimilarity(short, window, edlib.Levenshtein)
		if err != nil {
			continue
		}
		if float64(sim) > best {
			best = float64(sim)
		}
	}
	return best
}

func (s *RapidFuzzStage) Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit {
	raw := strings.TrimSpace(q.Raw)
	if raw == "" {
		return nil
	}
	anchors := rapidfuzzAnchors(q, 5)
	if len(anchors) == 0 {
		return nil
	}
	qlen := len(raw)
	if qlen < 20 {
		qlen = 20
	}
	if qlen > 800 {
		qlen = 800
	}
	winChars := qlen * 2
	if winChars < 60 {
		winChars = 60
	}
	if winChars > 1500 {
		winChars = 1500
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
		lowTxt := strings.ToLower(txt)
		anchorHit := false
		for _, a := range anchors {
			if strings.Contains(lowTxt, strings.ToLower(a)) {
				anchorHit = true
				break
			}
		}
		if !anchorHit {
			return false
		}
		lines := strings.Split(txt, "\n")
		avgLineLen := 40
		if len(lines) > 0 {
			avgLineLen = len(txt) / len(lines)
			if avgLineLen < 1 {
				avgLineLen = 1
			}
		}
		winLines := winChars / avgLineLen
		if winLines < 3 {
			winLines = 3
		}
		step := 6
		best := 0.0
		bestA, bestB := 0, 0
		for start := 1; start <= len(lines); start += step {
			end := start + winLines
			if end > len(lines) {
				end = len(lines)
			}
			snippet := strings.TrimSpace(strings.Join(lines[start-1:end], "\n"))
			if snippet == "" {
				continue
			}
			score := partialRatio(raw, snippet)
			if score > best {
				best = score
				bestA, bestB = start, end
			}
			if timeUp(deadline) {
				break
			}
		}
		if best < 0.90 {
			return false
		}
		if best > 0.986 {
			best = 0.986
		}
		_, _, snip := windowAround(lines, bestA, bestB, 0)
		hits = append(hits, hitFromChunk(best, s.Name(), ChunkMeta{
			FileRel: rel, LineStart: bestA, LineEnd: bestB, TextPreview: snip,
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
