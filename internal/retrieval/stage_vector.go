package retrieval

import (
	"context"
	"sort"
	"time"
)

// VectorStage ranks previously embedded chunks by cosine similarity
// to the query embedding, grounded on project_stage_vector.py. It is
// the lowest-precision, broadest-recall stage kernel and is skipped
// entirely when no vector searcher is configured (no embedding key).
type VectorStage struct {
	Env            Env
	ScoreThreshold float64
	MinPreviewLen  int
}

func (s *VectorStage) Name() string          { return "vector" }
func (s *VectorStage) Activate(q Query) bool { return s.Env.Vector != nil }

func (s *VectorStage) Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit {
	if s.Env.Vector == nil {
		return nil
	}
	threshold := s.ScoreThreshold
	if threshold == 0 {
		threshold = 0.35
	}
	minPreview := s.MinPreviewLen
	if minPreview == 0 {
		minPreview = 8
	}

	vec, err := s.Env.Vector.Embed(ctx, q.Raw)
	if err != nil {
		return nil
	}
	scored, err := s.Env.Vector.TopChunks(ctx, vec, k*4+16)
	if err != nil {
		return nil
	}

	var hits []Hit
	for _, sc := range scored {
		if timeUp(deadline) {
			break
		}
		if sc.Score < threshold {
			continue
		}
		if len(sc.Meta.TextPreview) < minPreview {
			continue
		}
		score := sc.Score
		if score > 0.9 {
			score = 0.9
		}
		hits = append(hits, hitFromChunk(score, s.Name(), sc.Meta))
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
