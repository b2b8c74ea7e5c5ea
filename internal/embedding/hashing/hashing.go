// Package hashing implements an offline bag-of-words embedder. Terms are
// hashed into a fixed number of buckets, so no vocabulary has to be fitted
// and the same text always yields the same vector.
package hashing

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/m-mizutani/goerr/v2"

	"trustvoice/internal/tokenize"
)

// ModelID names the vectors produced by this package. It is stamped on
// every index built with it.
const ModelID = "hashing-bow-v1"

// Embedder implements embedding.Model with feature hashing.
type Embedder struct {
	dimension int
}

// New creates a hashing embedder producing vectors of the given dimension.
func New(dimension int) (*Embedder, error) {
	if dimension <= 0 {
		return nil, goerr.New("invalid dimension", goerr.V("dimension", dimension))
	}
	return &Embedder{dimension: dimension}, nil
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return ModelID }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// EmbedBatch embeds every text. Text without any term maps to the zero vector.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *Embedder) embed(text string) []float32 {
	counts := make(map[int]int)
	for _, term := range tokenize.Terms(text) {
		counts[e.bucket(term)]++
	}

	vec := make([]float64, e.dimension)
	for idx, c := range counts {
		// sublinear term frequency
		vec[idx] = 1 + math.Log(float64(c))
	}

	// L2 normalize
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dimension)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (e *Embedder) bucket(term string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return int(h.Sum32() % uint32(e.dimension))
}
