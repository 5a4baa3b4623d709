package store

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/viterin/vek/vek32"

	"github.com/jinxlabs/retrieval-core/internal/retrieval"
)

// Reader adapts a Manager's database, embedder, bleve index and walker
// into retrieval's ChunkReader, FileOpener, VectorSearcher and
// KeywordSearcher interfaces, so the stage kernels never see a SQL row or a
// filesystem walk directly — grounded on EmbeddingStore / FileWalker
// in original_source/jinx/micro/search/store.py.
type Reader struct {
	m *Manager
}

// NewReader wraps m for use as a retrieval.Env source.
func NewReader(m *Manager) *Reader {
	return &Reader{m: m}
}

var _ retrieval.ChunkReader = (*Reader)(nil)
var _ retrieval.FileOpener = (*Reader)(nil)
var _ retrieval.VectorSearcher = (*Reader)(nil)
var _ retrieval.KeywordSearcher = (*Reader)(nil)

func chunkToMeta(c Chunk) retrieval.ChunkMeta {
	preview := c.Text
	if len(preview) > 400 {
		preview = preview[:400]
	}
	return retrieval.ChunkMeta{
		FileRel:     c.FilePath,
		LineStart:   c.StartLine,
		LineEnd:     c.EndLine,
		TextPreview: preview,
		Terms:       termsOf(c),
	}
}

func termsOf(c Chunk) []string {
	var terms []string
	if c.SymbolName != "" {
		terms = append(terms, c.SymbolName)
	}
	if c.Kind != "" {
		terms = append(terms, c.Kind)
	}
	return terms
}

// Iterate walks every live chunk indexed for the reader's repo,
// stopping early when fn returns false.
func (r *Reader) Iterate(ctx context.Context, fn func(retrieval.ChunkMeta) bool) error {
	return r.m.indexer.db.IterateChunks(ctx, r.m.repoID, func(c Chunk) bool {
		return fn(chunkToMeta(c))
	})
}

// ReadFile reads relPath under the repo root. The path is cleaned as if
// rooted, so a leading "../" cannot climb above the root: "../x" reads
// <root>/x.
func (r *Reader) ReadFile(relPath string) ([]byte, error) {
	full := filepath.Join(r.m.repoRoot, filepath.Clean("/"+relPath))
	return os.ReadFile(full)
}

// Walk enumerates project-relative paths via the indexer's walker,
// optionally restricted to lang (empty means every tracked language).
func (r *Reader) Walk(ctx context.Context, lang string) ([]string, error) {
	infos, err := r.m.indexer.walker.Walk()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(infos))
	for _, fi := range infos {
		if lang != "" && string(fi.Lang) != lang {
			continue
		}
		out = append(out, fi.Path)
	}
	return out, nil
}

// Embed delegates to the manager's configured embedder.
func (r *Reader) Embed(ctx context.Context, text string) ([]float32, error) {
	raw, dim, err := r.m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	vec, err := DecodeVector(raw)
	if err != nil {
		return nil, err
	}
	if len(vec) != dim {
		vec = vec[:dim]
	}
	return vec, nil
}

// TopChunks brute-force scores every embedded chunk against queryVec
// by cosine similarity and returns the top k, grounded on the
// brute-force fallback in vector_search.py (no ANN index at this scale).
func (r *Reader) TopChunks(ctx context.Context, queryVec []float32, k int) ([]retrieval.ScoredChunk, error) {
	embeddings, err := r.m.indexer.db.AllEmbeddings(ctx, r.m.repoID)
	if err != nil {
		return nil, err
	}
	scored := make([]retrieval.ScoredChunk, 0, len(embeddings))
	for _, e := range embeddings {
		vec, err := DecodeVector(e.Vector)
		if err != nil {
			continue
		}
		c, err := r.m.indexer.db.ChunkByID(ctx, e.ChunkID)
		if err != nil {
			continue
		}
		scored = append(scored, retrieval.ScoredChunk{
			Meta:  chunkToMeta(*c),
			Score: cosine(queryVec, vec),
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Search runs the manager's bleve index (bm25.go) and joins each hit
// back to its chunk for line-range metadata, backing the `bm25` stage
// kernel (retrieval.KeywordSearcher).
func (r *Reader) Search(ctx context.Context, query string, k int) ([]retrieval.Hit, error) {
	if r.m.bm25 == nil {
		return nil, nil
	}
	results, err := r.m.bm25.Search(query, r.m.repoID, nil, k)
	if err != nil {
		return nil, err
	}
	hits := make([]retrieval.Hit, 0, len(results))
	for _, res := range results {
		c, err := r.m.indexer.db.ChunkByID(ctx, res.ChunkID)
		if err != nil {
			continue
		}
		hits = append(hits, retrieval.Hit{
			Score:   res.Score,
			FileRel: c.FilePath,
			Meta:    chunkToMeta(*c),
		})
	}
	return hits, nil
}

// cosine scores a query vector against a chunk vector using vek32's
// SIMD dot product, grounded on the cosine helper in
// _examples/ihavespoons-zrok/internal/vectordb/hnsw.go.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	dot := vek32.Dot(a, b)
	normA := float32(math.Sqrt(float64(vek32.Dot(a, a))))
	normB := float32(math.Sqrt(float64(vek32.Dot(b, b))))
	if normA == 0 || normB == 0 {
		return 0
	}
	return float64(dot / (normA * normB))
}
