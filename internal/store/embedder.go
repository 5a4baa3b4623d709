package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// NoOpEmbedder is a placeholder embedder that returns zero vectors.
// Useful for testing or when no embedding key is configured — the
// vector stage kernel still activates but contributes no ranking
// signal beyond an all-zero cosine score.
type NoOpEmbedder struct {
	dimension int
}

// NewNoOpEmbedder creates a no-op embedder.
func NewNoOpEmbedder(dimension int) *NoOpEmbedder {
	return &NoOpEmbedder{dimension: dimension}
}

func (e *NoOpEmbedder) Embed(ctx context.Context, text string) ([]byte, int, error) {
	return encodeVector(make([]float32, e.dimension)), e.dimension, nil
}

func (e *NoOpEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]byte, int, error) {
	vectors := make([][]byte, len(texts))
	for i := range texts {
		vectors[i] = encodeVector(make([]float32, e.dimension))
	}
	return vectors, e.dimension, nil
}

func (e *NoOpEmbedder) Dimension() int { return e.dimension }

// OpenAIEmbedder generates embeddings through the real OpenAI SDK
// client, replacing a hand-rolled HTTP call with the library's
// CreateEmbeddings endpoint.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
}

// NewOpenAIEmbedder creates an OpenAI embedder. Common models:
// "text-embedding-3-small" (1536 dims), "text-embedding-3-large" (3072 dims).
func NewOpenAIEmbedder(apiKey, model string, dimension int) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dimension == 0 {
		dimension = 1536
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     openai.EmbeddingModel(model),
		dimension: dimension,
	}
}

// PrewarmTransport opens and immediately releases a connection so the
// underlying *http.Transport has a warm connection pool entry before
// the first real request — the Go equivalent of ensure_runtime()'s
// one-time OpenAI HTTP-client prewarm.
func (e *OpenAIEmbedder) PrewarmTransport(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, _ = e.client.CreateEmbeddings(cctx, openai.EmbeddingRequest{
		Input: []string{""},
		Model: e.model,
	})
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]byte, int, error) {
	vectors, dim, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	if len(vectors) == 0 {
		return nil, 0, fmt.Errorf("no embeddings returned")
	}
	return vectors[0], dim, nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]byte, int, error) {
	if len(texts) == 0 {
		return [][]byte{}, e.dimension, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("openai embeddings request failed: %w", err)
	}

	vectors := make([][]byte, len(texts))
	actualDim := 0
	for _, d := range resp.Data {
		if len(d.Embedding) > 0 {
			actualDim = len(d.Embedding)
		}
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = encodeVector(d.Embedding)
		}
	}
	if actualDim > 0 {
		e.dimension = actualDim
	}
	for i, v := range vectors {
		if v == nil {
			vectors[i] = encodeVector(make([]float32, e.dimension))
		}
	}

	return vectors, e.dimension, nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

// encodeVector encodes a float32 vector to bytes, little-endian.
func encodeVector(vector []float32) []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, vector); err != nil {
		panic(fmt.Sprintf("failed to encode vector: %v", err))
	}
	return buf.Bytes()
}

// DecodeVector decodes a byte slice back to a float32 vector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector data length: %d", len(data))
	}
	vector := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &vector); err != nil {
		return nil, fmt.Errorf("failed to decode vector: %w", err)
	}
	return vector, nil
}
