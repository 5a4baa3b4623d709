package retrieval

import (
	"context"
	"testing"
)

func TestOrchestrator_RetrieveFindsExactLineAcrossStages(t *testing.T) {
	ff := &fakeFiles{files: map[string]string{
		"store/reader.py": "def read_chunk(chunk_id):\n    return db.fetch(chunk_id)\n",
		"store/other.py":  "def unrelated():\n    pass\n",
	}}
	env := Env{Chunks: ff, Files: ff}
	cfg := DefaultOrchestratorConfig()
	cfg.ExhaustiveMode = true

	orch := NewOrchestrator(env, cfg, nil)
	hits := orch.Retrieve(context.Background(), "def read_chunk(chunk_id):", 5)

	if len(hits) == 0 {
		t.Fatal("expected at least one hit for a verbatim query")
	}
	if hits[0].FileRel != "store/reader.py" {
		t.Errorf("expected top hit from store/reader.py, got %s", hits[0].FileRel)
	}
}

func TestOrchestrator_RetrieveDedupesAcrossStages(t *testing.T) {
	ff := &fakeFiles{files: map[string]string{
		"a.py": "def widget_handler(x):\n    return x\n",
	}}
	env := Env{Chunks: ff, Files: ff}
	cfg := DefaultOrchestratorConfig()
	cfg.ExhaustiveMode = true

	orch := NewOrchestrator(env, cfg, nil)
	hits := orch.Retrieve(context.Background(), "widget_handler", 10)

	seen := map[string]bool{}
	for _, h := range hits {
		key := h.Key()
		if seen[key] {
			t.Fatalf("expected Retrieve to dedup identical (file,line) hits, saw %s twice", key)
		}
		seen[key] = true
	}
}

func TestOrchestrator_RetrieveRespectsK(t *testing.T) {
	ff := &fakeFiles{files: map[string]string{
		"a.py": "def widget_one():\n    pass\n",
		"b.py": "def widget_two():\n    pass\n",
		"c.py": "def widget_three():\n    pass\n",
	}}
	env := Env{Chunks: ff, Files: ff}
	cfg := DefaultOrchestratorConfig()
	cfg.ExhaustiveMode = true

	orch := NewOrchestrator(env, cfg, nil)
	hits := orch.Retrieve(context.Background(), "widget", 2)
	if len(hits) > 2 {
		t.Errorf("expected Retrieve to cap results at k=2, got %d", len(hits))
	}
}
