// Package vectorstore holds the checks and math shared by every
// domain.VectorStore backend.
package vectorstore

import (
	"math"

	"github.com/m-mizutani/goerr/v2"

	"trustvoice/internal/domain"
)

// ValidateEntries checks a batch before anything is written: ids must be
// non-empty and unique within the batch, vectors must have the collection
// dimension and metadata must hold primitives only.
func ValidateEntries(collection string, dimension int, entries []domain.Entry) error {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			return goerr.Wrap(domain.ErrDuplicateID, "entry id is empty", goerr.V(domain.KeyCollection, collection))
		}
		if _, dup := seen[e.ID]; dup {
			return goerr.Wrap(domain.ErrDuplicateID, "entry id repeated in batch",
				goerr.V(domain.KeyCollection, collection), goerr.V(domain.KeyID, e.ID))
		}
		seen[e.ID] = struct{}{}

		if len(e.Embedding) != dimension {
			return goerr.Wrap(domain.ErrModelMismatch, "embedding dimension mismatch",
				goerr.V(domain.KeyCollection, collection), goerr.V(domain.KeyID, e.ID),
				goerr.V(domain.KeyDimension, len(e.Embedding)), goerr.V("expected", dimension))
		}
		if err := e.Metadata.Validate(); err != nil {
			return goerr.Wrap(err, "invalid entry metadata", goerr.V(domain.KeyID, e.ID))
		}
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b. A zero
// vector is similar to nothing.
func CosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CosineDistance is 1 - CosineSimilarity, in [0, 2].
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}
