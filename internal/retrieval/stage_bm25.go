package retrieval

import (
	"context"
	"strings"
	"time"
)

// BM25Stage runs the external lexical index (internal/store's bleve
// index) as one more stage kernel, alongside the brute-force scans
// every other stage kernel runs over Env.Chunks. Inactive whenever no
// KeywordSearcher is wired, e.g. in tests that construct a bare Env.
type BM25Stage struct{ Env Env }

func (s *BM25Stage) Name() string { return "bm25" }

func (s *BM25Stage) Activate(q Query) bool {
	return s.Env.Keyword != nil && strings.TrimSpace(q.Raw) != ""
}

func (s *BM25Stage) Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit {
	if s.Env.Keyword == nil || timeUp(deadline) {
		return nil
	}
	hits, err := s.Env.Keyword.Search(ctx, q.Raw, k)
	if err != nil {
		return nil
	}
	for i := range hits {
		hits[i].Stage = "bm25"
		if hits[i].Reason == "" {
			hits[i].Reason = "bm25"
		}
	}
	return hits
}
