// Package retrieval turns a free-text query into scored complaint matches.
package retrieval

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"trustvoice/internal/domain"
	"trustvoice/internal/logging"
)

// Engine embeds queries and searches the vector index.
type Engine struct {
	embedder domain.Embedder
	store    domain.VectorStore
}

// New creates a retrieval engine.
func New(embedder domain.Embedder, store domain.VectorStore) *Engine {
	return &Engine{embedder: embedder, store: store}
}

// Search returns up to topK complaints most similar to query, best first.
// An unavailable index yields an empty result; an unavailable embedding
// model is returned as domain.ErrModelUnavailable.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	if topK < 1 {
		return nil, goerr.Wrap(domain.ErrInvalidRequest, "top_k must be at least 1", goerr.V(domain.KeyTopK, topK))
	}
	if strings.TrimSpace(query) == "" {
		return nil, goerr.Wrap(domain.ErrInvalidRequest, "query is empty")
	}

	vec, err := e.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}

	hits, err := e.store.Query(ctx, vec, topK)
	if err != nil {
		if errors.Is(err, domain.ErrIndexUnavailable) {
			logging.From(ctx).Warn("vector index unavailable, returning no results", "error", err)
			return []domain.SearchResult{}, nil
		}
		return nil, goerr.Wrap(err, "failed to query vector index", goerr.V(domain.KeyTopK, topK))
	}

	results := make([]domain.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = domain.SearchResult{
			ID:       h.ID,
			Metadata: h.Metadata,
			Document: h.Document,
			Score:    Score(h.Distance),
		}
	}
	return results, nil
}

// Score converts a cosine distance into a similarity in [0, 1].
func Score(distance float64) float64 {
	s := 1 - distance
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
