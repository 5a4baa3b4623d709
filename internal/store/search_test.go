package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jinxlabs/retrieval-core/internal/retrieval"
)

func TestSpansFromHits_PreservesRankOrderAndFields(t *testing.T) {
	hits := []retrieval.Hit{
		{Score: 0.9, FileRel: "a.go", Meta: retrieval.ChunkMeta{LineStart: 1, LineEnd: 5, TextPreview: "snip a"}, Stage: "lineexact", Reason: "exact"},
		{Score: 0.5, FileRel: "b.go", Meta: retrieval.ChunkMeta{LineStart: 10, LineEnd: 20, TextPreview: "snip b"}, Stage: "vector"},
	}
	spans := SpansFromHits(hits)

	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Path != "a.go" || spans[0].Start != 1 || spans[0].End != 5 || spans[0].Stage != "lineexact" {
		t.Errorf("unexpected first span: %+v", spans[0])
	}
	if spans[1].Path != "b.go" || spans[1].Score != 0.5 {
		t.Errorf("unexpected second span: %+v", spans[1])
	}
}

func TestSliceLines_ReturnsInclusiveOneIndexedRange(t *testing.T) {
	content := "one\ntwo\nthree\nfour\n"
	got := sliceLines(content, 2, 3)
	want := "two\nthree"
	if got != want {
		t.Errorf("sliceLines(2,3) = %q, want %q", got, want)
	}
}

func TestSliceLines_ClampsEndToFileLength(t *testing.T) {
	content := "one\ntwo\n"
	got := sliceLines(content, 1, 100)
	if got != "one\ntwo\n" && got != "one\ntwo" {
		t.Errorf("expected a clamped full-file slice, got %q", got)
	}
}

func TestSliceLines_EmptyWhenStartAfterEnd(t *testing.T) {
	if got := sliceLines("a\nb\nc\n", 5, 2); got != "" {
		t.Errorf("expected empty string when start>end, got %q", got)
	}
}

func TestReadSpan_ReadsUnderRepoRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "f.go"), []byte("line1\nline2\nline3\n"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	got, err := ReadSpan(context.Background(), root, "f.go", 2, 3)
	if err != nil {
		t.Fatalf("ReadSpan failed: %v", err)
	}
	if got != "line2\nline3" && got != "line2\nline3\n" {
		t.Errorf("unexpected span content: %q", got)
	}
}
