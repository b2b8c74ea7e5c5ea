// Package gemini embeds text with a gollem LLM client, normally Gemini on
// Vertex AI.
package gemini

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
)

// DefaultModelID is stamped on indexes built with Gemini embeddings.
const DefaultModelID = "gemini-embedding"

// Embedder implements embedding.Model on top of gollem.LLMClient.
type Embedder struct {
	client    gollem.LLMClient
	modelID   string
	dimension int
}

// New creates an embedder requesting vectors of the given dimension.
func New(client gollem.LLMClient, dimension int) (*Embedder, error) {
	if client == nil {
		return nil, goerr.New("llm client is required")
	}
	if dimension <= 0 {
		return nil, goerr.New("invalid dimension", goerr.V("dimension", dimension))
	}
	return &Embedder{client: client, modelID: DefaultModelID, dimension: dimension}, nil
}

func (e *Embedder) Name() string   { return e.modelID }
func (e *Embedder) Dimension() int { return e.dimension }

// EmbedBatch requests one embedding per text and converts them to float32.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	embeddings, err := e.client.GenerateEmbedding(ctx, e.dimension, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embeddings", goerr.V("count", len(texts)))
	}
	if len(embeddings) != len(texts) {
		return nil, goerr.New("embedding count mismatch",
			goerr.V("expected", len(texts)), goerr.V("got", len(embeddings)))
	}

	out := make([][]float32, len(embeddings))
	for i, emb64 := range embeddings {
		emb32 := make([]float32, len(emb64))
		for j, v := range emb64 {
			emb32[j] = float32(v)
		}
		out[i] = emb32
	}
	return out, nil
}
