package store

import (
	"errors"
	"strings"
	"testing"
)

func TestProcessingResult_SummaryReportsCounts(t *testing.T) {
	r := ProcessingResult{
		FileID:     7,
		Symbols:    []Symbol{{}, {}},
		Chunks:     []Chunk{{}},
		Embeddings: []Embedding{{}, {}, {}},
	}
	summary := r.Summary()
	if !strings.Contains(summary, "symbols=2") || !strings.Contains(summary, "chunks=1") || !strings.Contains(summary, "embeddings=3") {
		t.Errorf("unexpected summary: %q", summary)
	}
}

func TestProcessingResult_SummaryReportsFailure(t *testing.T) {
	r := ProcessingResult{FileID: 3, Error: errors.New("parse error")}
	summary := r.Summary()
	if !strings.Contains(summary, "failed") || !strings.Contains(summary, "parse error") {
		t.Errorf("expected the failure summary to mention the error, got %q", summary)
	}
}
