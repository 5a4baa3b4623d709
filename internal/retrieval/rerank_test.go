package retrieval

import "testing"

func TestRerankHits_PathBonusOutranksPreviewBonus(t *testing.T) {
	hits := []Hit{
		{Score: 1.0, FileRel: "internal/widget/handler.go", Meta: ChunkMeta{TextPreview: "nothing relevant"}},
		{Score: 1.0, FileRel: "internal/other/thing.go", Meta: ChunkMeta{TextPreview: "the widget lives here"}},
	}
	out := RerankHits(hits, nil, []string{"widget"})

	if out[0].FileRel != "internal/widget/handler.go" {
		t.Fatalf("expected path-matching hit to rank first, got %s first", out[0].FileRel)
	}
	if out[0].Score <= out[1].Score {
		t.Errorf("path bonus (0.3) should outscore preview bonus (0.15): %f vs %f", out[0].Score, out[1].Score)
	}
}

func TestRerankHits_ProximityBonusForClusteredTokens(t *testing.T) {
	// "alpha" and "beta" land 6 chars apart in the near hit, far apart in the other.
	near := Hit{Score: 1.0, FileRel: "a.go", Meta: ChunkMeta{TextPreview: "alpha beta gap filler text that goes on"}}
	far := Hit{Score: 1.0, FileRel: "b.go", Meta: ChunkMeta{TextPreview: "alpha " + makeFiller(40) + " beta"}}

	out := RerankHits([]Hit{far, near}, nil, []string{"alpha", "beta"})

	if out[0].FileRel != "a.go" {
		t.Fatalf("expected clustered-token hit to rank first via proximity bonus, got %s", out[0].FileRel)
	}
}

func TestRerankHits_NoTokensIsNoop(t *testing.T) {
	hits := []Hit{{Score: 1.0, FileRel: "a.go"}, {Score: 2.0, FileRel: "b.go"}}
	out := RerankHits(hits, nil, nil)
	if out[0].Score != 1.0 || out[1].Score != 2.0 {
		t.Errorf("expected scores untouched when no tokens given, got %v", out)
	}
}

func TestDedupHits_KeepsHighestScorePerIdentity(t *testing.T) {
	hits := []Hit{
		{Score: 0.5, FileRel: "a.go", Meta: ChunkMeta{LineStart: 1, LineEnd: 10}, Stage: "lineexact"},
		{Score: 0.9, FileRel: "a.go", Meta: ChunkMeta{LineStart: 1, LineEnd: 10}, Stage: "vector"},
		{Score: 0.7, FileRel: "b.go", Meta: ChunkMeta{LineStart: 1, LineEnd: 5}, Stage: "tokenmatch"},
	}
	out := DedupHits(hits)

	if len(out) != 2 {
		t.Fatalf("expected 2 deduped hits, got %d", len(out))
	}
	if out[0].Score != 0.9 || out[0].Stage != "vector" {
		t.Errorf("expected the higher-scoring duplicate to survive, got score=%f stage=%s", out[0].Score, out[0].Stage)
	}
}

func TestDedupHits_PreservesFirstOccurrenceOrderOnTie(t *testing.T) {
	hits := []Hit{
		{Score: 0.5, FileRel: "a.go", Meta: ChunkMeta{LineStart: 1, LineEnd: 10}, Stage: "lineexact"},
		{Score: 0.5, FileRel: "a.go", Meta: ChunkMeta{LineStart: 1, LineEnd: 10}, Stage: "vector"},
	}
	out := DedupHits(hits)
	if len(out) != 1 || out[0].Stage != "lineexact" {
		t.Errorf("expected the first-seen stage to win a tie, got %+v", out)
	}
}

func makeFiller(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
