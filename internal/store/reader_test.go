package store

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestCosine_IdenticalVectorsScoreOne(t *testing.T) {
	v := []float32{1, 2, 3}
	got := cosine(v, v)
	if math.Abs(got-1.0) > 1e-6 {
		t.Errorf("expected cosine(v,v)=1.0, got %f", got)
	}
}

func TestCosine_OrthogonalVectorsScoreZero(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	got := cosine(a, b)
	if math.Abs(got) > 1e-6 {
		t.Errorf("expected cosine of orthogonal vectors to be 0, got %f", got)
	}
}

func TestCosine_MismatchedLengthsReturnZero(t *testing.T) {
	if got := cosine([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Errorf("expected mismatched-length vectors to score 0, got %f", got)
	}
}

func TestCosine_ZeroVectorReturnsZero(t *testing.T) {
	if got := cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("expected a zero vector to score 0, got %f", got)
	}
}

func TestChunkToMeta_TruncatesLongPreview(t *testing.T) {
	longText := make([]byte, 500)
	for i := range longText {
		longText[i] = 'x'
	}
	c := Chunk{FilePath: "a.go", StartLine: 1, EndLine: 10, Text: string(longText)}
	m := chunkToMeta(c)
	if len(m.TextPreview) != 400 {
		t.Errorf("expected preview truncated to 400 chars, got %d", len(m.TextPreview))
	}
	if m.FileRel != "a.go" || m.LineStart != 1 || m.LineEnd != 10 {
		t.Errorf("unexpected meta fields: %+v", m)
	}
}

func TestTermsOf_IncludesSymbolNameAndKind(t *testing.T) {
	terms := termsOf(Chunk{SymbolName: "Dispatch", Kind: "function"})
	found := map[string]bool{}
	for _, term := range terms {
		found[term] = true
	}
	if !found["Dispatch"] || !found["function"] {
		t.Errorf("expected terms to include symbol name and kind, got %v", terms)
	}
}

func TestTermsOf_EmptyWhenChunkHasNoSymbol(t *testing.T) {
	if terms := termsOf(Chunk{}); len(terms) != 0 {
		t.Errorf("expected no terms for a chunk with no symbol/kind, got %v", terms)
	}
}

func TestReader_ReadFile_ConfinesPathEscapeToRepoRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "inside.txt"), []byte("ok"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	outside := filepath.Join(filepath.Dir(root), "outside.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer os.Remove(outside)

	r := &Reader{m: &Manager{repoRoot: root}}

	data, err := r.ReadFile("inside.txt")
	if err != nil || string(data) != "ok" {
		t.Fatalf("expected inside.txt to read cleanly, got %q err=%v", data, err)
	}

	data, err = r.ReadFile("../outside.txt")
	if err == nil && string(data) == "secret" {
		t.Error("expected a '../' escape attempt to be confined under repoRoot, not read the outside file")
	}
}
