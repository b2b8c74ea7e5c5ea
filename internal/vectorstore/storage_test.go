package vectorstore_test

import (
	"math"
	"testing"

	"github.com/m-mizutani/gt"

	"trustvoice/internal/domain"
	"trustvoice/internal/vectorstore"
)

func TestValidateEntries(t *testing.T) {
	ok := domain.Entry{ID: "complaint_0", Embedding: []float32{1, 0}, Metadata: domain.Metadata{"company": "Bank A"}}

	gt.NoError(t, vectorstore.ValidateEntries("c", 2, []domain.Entry{ok}))

	t.Run("empty id", func(t *testing.T) {
		e := ok
		e.ID = ""
		gt.Error(t, vectorstore.ValidateEntries("c", 2, []domain.Entry{e})).Is(domain.ErrDuplicateID)
	})

	t.Run("repeated id", func(t *testing.T) {
		gt.Error(t, vectorstore.ValidateEntries("c", 2, []domain.Entry{ok, ok})).Is(domain.ErrDuplicateID)
	})

	t.Run("wrong dimension", func(t *testing.T) {
		e := ok
		e.Embedding = []float32{1, 0, 0}
		gt.Error(t, vectorstore.ValidateEntries("c", 2, []domain.Entry{e})).Is(domain.ErrModelMismatch)
	})

	t.Run("nested metadata", func(t *testing.T) {
		e := ok
		e.Metadata = domain.Metadata{"tags": []string{"x"}}
		gt.Error(t, vectorstore.ValidateEntries("c", 2, []domain.Entry{e})).Is(domain.ErrInvalidRequest)
	})
}

func TestCosine(t *testing.T) {
	gt.Bool(t, math.Abs(vectorstore.CosineSimilarity([]float32{1, 0}, []float32{2, 0})-1) < 1e-9).True()
	gt.Bool(t, math.Abs(vectorstore.CosineDistance([]float32{1, 0}, []float32{0, 1})-1) < 1e-9).True()
	gt.Value(t, vectorstore.CosineSimilarity([]float32{0, 0}, []float32{1, 0})).Equal(0.0)
}
