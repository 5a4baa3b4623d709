package store

import (
	"context"
	"fmt"
)

// Chunker splits a file's content into the chunk.StartLine/EndLine
// spans retrieval.ChunkMeta is built from, grounded on the chunk
// boundaries original_source/jinx/micro/search/chunker.py derives per
// symbol. Different languages may chunk differently (function-level
// for Go, one chunk per header section for Markdown).
type Chunker interface {
	Chunk(ctx context.Context, file FileInfo, content []byte) ([]Chunk, []Symbol, error)
}

// Embedder abstracts the embedding model backing the vector stage
// kernel (retrieval.VectorSearcher), so swapping OpenAI for a no-op or
// local model never touches Manager or Reader.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]byte, int, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]byte, int, error)
	Dimension() int
}

// ProcessingResult is what IndexingWorker produces for one file: the
// symbols/chunks/embeddings it wrote, or the error that stopped it.
type ProcessingResult struct {
	FileID     int64
	Symbols    []Symbol
	Chunks     []Chunk
	Embeddings []Embedding
	Error      error
}

// Summary renders a one-line status for worker logging.
func (r ProcessingResult) Summary() string {
	if r.Error != nil {
		return fmt.Sprintf("file=%d failed: %v", r.FileID, r.Error)
	}
	return fmt.Sprintf("file=%d symbols=%d chunks=%d embeddings=%d", r.FileID, len(r.Symbols), len(r.Chunks), len(r.Embeddings))
}
