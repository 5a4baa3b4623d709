package retrieval

import (
	"sort"
	"strings"
)

// rerankTokenRe mirrors _TOK_RE = r"(?u)[\w\.]{3,}": lowercased,
// order-preserving, deduped query tokens of length >= 3.
var rerankTokenRe = codeishRe

const proximityWindow = 24

// RerankHits boosts and re-sorts hits by how strongly the query's
// tokens appear in each hit's file path or preview text, grounded on
// project_rerank.py:
//
//   - +0.3 if a token appears in the lowercased file_rel.
//   - else (mutually exclusive with the path bonus) +0.15 if it
//     appears in the lowercased text_preview; only tokens that
//     matched via this branch contribute a position (first
//     occurrence only) to the proximity check.
//   - if at least two such positions were recorded and the span
//     between their min and max is <= 24 chars, a further +0.2
//     proximity bonus applies.
//
// codeTokens (from the query's code-core, when present) are preferred
// over rawTokens; rawTokens are appended for any additional coverage.
func RerankHits(hits []Hit, codeTokens, rawTokens []string) []Hit {
	tokens := mergeTokensLower(codeTokens, rawTokens)
	if len(tokens) == 0 {
		return hits
	}

	boosted := make([]Hit, len(hits))
	copy(boosted, hits)

	for i := range boosted {
		h := &boosted[i]
		pathLower := strings.ToLower(h.FileRel)
		previewLower := strings.ToLower(h.Meta.TextPreview)

		var bonus float64
		var positions []int
		for _, t := range tokens {
			if strings.Contains(pathLower, t) {
				bonus += 0.3
			} else if idx := strings.Index(previewLower, t); idx >= 0 {
				bonus += 0.15
				positions = append(positions, idx)
			}
		}

		if len(positions) >= 2 {
			sort.Ints(positions)
			span := positions[len(positions)-1] - positions[0]
			if span <= proximityWindow {
				bonus += 0.2
			}
		}

		h.Score += bonus
	}

	sort.SliceStable(boosted, func(i, j int) bool {
		return boosted[i].Score > boosted[j].Score
	})
	return boosted
}

func mergeTokensLower(preferred, rest []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(tokens []string) {
		for _, t := range tokens {
			tl := strings.ToLower(t)
			if len(tl) < 3 || seen[tl] {
				continue
			}
			seen[tl] = true
			out = append(out, tl)
		}
	}
	add(preferred)
	add(rest)
	return out
}

// DedupHits collapses hits sharing the same (file_rel, line_start,
// line_end) identity, keeping the highest-scoring instance and
// preferring the first stage to report it on ties so stage order
// stays a deterministic tiebreaker.
func DedupHits(hits []Hit) []Hit {
	best := make(map[string]int, len(hits))
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		k := h.Key()
		if idx, ok := best[k]; ok {
			if h.Score > out[idx].Score {
				out[idx] = h
			}
			continue
		}
		best[k] = len(out)
		out = append(out, h)
	}
	return out
}
