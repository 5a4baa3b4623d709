// Package retrieval implements the multi-stage, time-budgeted code
// search engine: ~20 stage kernels, an orchestrator that runs them
// concurrently or short-circuited under a wall-clock budget, and a
// reranker/dedupe pass over the merged hit list.
package retrieval

import (
	"context"
	"time"
)

// ChunkMeta mirrors the embedded-chunk meta shape: file, line range,
// preview text, and extracted terms. Line numbers are 1-based inclusive.
type ChunkMeta struct {
	FileRel     string
	LineStart   int
	LineEnd     int
	TextPreview string
	Terms       []string
	TsMs        int64
}

// Hit is the (score, file_rel, chunk-like-object) triple every stage
// kernel and the orchestrator operate on.
type Hit struct {
	Score   float64
	FileRel string
	Meta    ChunkMeta
	Stage   string
	Reason  string
}

// Key returns the dedup identity (file_rel, line_start, line_end).
func (h Hit) Key() string {
	return h.FileRel + "|" + itoa(h.Meta.LineStart) + "|" + itoa(h.Meta.LineEnd)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Query bundles the raw query string with its derived code-core and
// token sets so stage kernels don't each recompute them.
type Query struct {
	Raw        string
	CodeCore   string
	Tokens     []string // expand_strong_tokens-equivalent
	Codeish    []string // codeish_tokens-equivalent
	Globs      []string
}

// NewQuery derives the code-core fragment and token sets from a raw
// query string, grounded on project_query_core.py / project_query_tokens.py.
func NewQuery(raw string) Query {
	core := ExtractCodeCore(raw)
	base := core
	if base == "" {
		base = raw
	}
	return Query{
		Raw:      raw,
		CodeCore: core,
		Tokens:   ExpandStrongTokens(base, 32),
		Codeish:  CodeishTokens(raw),
	}
}

// ChunkReader is the Embedding Store Reader (§4.B): a bounded lazy
// iterator over previously embedded chunks with meta.
type ChunkReader interface {
	Iterate(ctx context.Context, fn func(ChunkMeta) bool) error
}

// FileOpener gives stage kernels read access to file content, with the
// file walker as a fallback when a file isn't in the embedding store.
type FileOpener interface {
	ReadFile(relPath string) ([]byte, error)
	// Walk enumerates project-relative paths, optionally restricted to
	// the given language.
	Walk(ctx context.Context, lang string) ([]string, error)
}

// VectorSearcher backs the `vector` stage kernel: cosine similarity
// over previously computed chunk embeddings.
type VectorSearcher interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	TopChunks(ctx context.Context, queryVec []float32, k int) ([]ScoredChunk, error)
}

// ScoredChunk pairs a chunk with a cosine similarity score.
type ScoredChunk struct {
	Meta  ChunkMeta
	Score float64
}

// KeywordSearcher backs the `bm25` stage kernel: an external inverted
// lexical index (as opposed to the brute-force in-process scan every
// other stage kernel does over ChunkReader). Nil disables the stage.
type KeywordSearcher interface {
	Search(ctx context.Context, query string, k int) ([]Hit, error)
}

// Stage is the contract every stage kernel conforms to: a pure
// function (query, k, deadline) -> hits, gated by a cheap activation
// check and a per-stage wall-clock budget.
type Stage interface {
	Name() string
	// Activate is the cheap activation gate: token presence, query
	// length, language. It never touches the filesystem.
	Activate(q Query) bool
	// Run enforces its own deadline and returns partial results on
	// timeout; it never panics or returns an error — a failed stage
	// returns an empty slice.
	Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit
}

// Env is the shared, read-only environment every stage kernel reads
// from: the embedding store, the file opener, and an optional vector
// searcher (nil disables the vector stage).
type Env struct {
	Chunks  ChunkReader
	Files   FileOpener
	Vector  VectorSearcher
	Keyword KeywordSearcher
}

func budgetRemaining(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}
