package retrieval

import (
	"context"
	"testing"
	"time"
)

// fakeFiles is a minimal in-memory FileOpener + ChunkReader used to
// drive stage kernels end to end without a real store.Reader.
type fakeFiles struct {
	files map[string]string
}

func (f *fakeFiles) ReadFile(rel string) ([]byte, error) {
	return []byte(f.files[rel]), nil
}

func (f *fakeFiles) Walk(ctx context.Context, lang string) ([]string, error) {
	out := make([]string, 0, len(f.files))
	for rel := range f.files {
		out = append(out, rel)
	}
	return out, nil
}

func (f *fakeFiles) Iterate(ctx context.Context, fn func(ChunkMeta) bool) error {
	for rel := range f.files {
		if fn(ChunkMeta{FileRel: rel}) {
			break
		}
	}
	return nil
}

func TestLineExactStage_FindsVerbatimSubstring(t *testing.T) {
	env := Env{}
	ff := &fakeFiles{files: map[string]string{
		"handler.py": "def dispatch(request):\n    return process(request)\n",
		"other.py":   "def unrelated():\n    pass\n",
	}}
	env.Chunks, env.Files = ff, ff

	stage := &LineExactStage{Env: env}
	q := NewQuery("def dispatch(request):")
	if !stage.Activate(q) {
		t.Fatal("expected lineexact to activate on a non-empty query")
	}
	hits := stage.Run(context.Background(), q, 5, time.Now().Add(time.Second))

	if len(hits) == 0 {
		t.Fatal("expected at least one exact-line hit")
	}
	if hits[0].FileRel != "handler.py" {
		t.Errorf("expected the match to come from handler.py, got %s", hits[0].FileRel)
	}
}

func TestLineExactStage_NoMatchReturnsNoHits(t *testing.T) {
	env := Env{}
	ff := &fakeFiles{files: map[string]string{
		"handler.py": "def dispatch(request):\n    return None\n",
	}}
	env.Chunks, env.Files = ff, ff

	stage := &LineExactStage{Env: env}
	q := NewQuery("this exact phrase is nowhere in the repo")
	hits := stage.Run(context.Background(), q, 5, time.Now().Add(time.Second))
	if len(hits) != 0 {
		t.Errorf("expected no hits for a phrase absent from every file, got %v", hits)
	}
}

func TestMatchOrderedSubsequence_MatchesOutOfLineTokenOrder(t *testing.T) {
	lines := []string{
		"def handler(request):",
		"    value = compute(request)",
		"    emit(value)",
	}
	start, end, ok := matchOrderedSubsequence(lines, []string{"handler", "compute", "emit"})
	if !ok {
		t.Fatal("expected the ordered subsequence to be found across lines")
	}
	if start != 1 || end != 3 {
		t.Errorf("expected span [1,3], got [%d,%d]", start, end)
	}
}

func TestMatchOrderedSubsequence_FailsWhenOrderIsWrong(t *testing.T) {
	lines := []string{"emit(value)", "def handler(request):"}
	_, _, ok := matchOrderedSubsequence(lines, []string{"handler", "emit"})
	if ok {
		t.Error("expected no match when needle tokens appear in reverse order")
	}
}

func TestTokenMatchStage_Activate_RequiresNonEmptyQuery(t *testing.T) {
	stage := &TokenMatchStage{}
	if stage.Activate(NewQuery("   ")) {
		t.Error("tokenmatch should not activate on a blank query")
	}
	if !stage.Activate(NewQuery("handler")) {
		t.Error("tokenmatch should activate on a non-blank query")
	}
}
