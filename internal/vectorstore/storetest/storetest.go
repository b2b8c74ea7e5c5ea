// Package storetest runs the behaviour every domain.VectorStore backend must
// share.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"

	"trustvoice/internal/domain"
)

// NewFunc opens a store on the location chosen by a setup function. Calls
// with the same location must see the same data.
type NewFunc func(dimension int, model string) domain.VectorStore

// Run executes the contract suite. setup is called once per subtest and must
// return a fresh, empty location.
func Run(t *testing.T, setup func(t *testing.T) NewFunc) {
	t.Run("add then query round trip", func(t *testing.T) {
		s := open(t, setup(t)(3, "m1"))
		ctx := context.Background()

		gt.NoError(t, s.Add(ctx, []domain.Entry{
			{ID: "complaint_0", Embedding: []float32{1, 0, 0}, Metadata: domain.Metadata{"company": "Bank A", "amount": 12.5}, Document: "charged twice"},
			{ID: "complaint_1", Embedding: []float32{0, 1, 0}, Metadata: domain.Metadata{"company": "Bank B"}, Document: "mortgage"},
		})).Required()

		hits, err := s.Query(ctx, []float32{1, 0, 0}, 1)
		gt.NoError(t, err).Required()
		gt.Array(t, hits).Length(1)
		gt.Value(t, hits[0].ID).Equal("complaint_0")
		gt.Value(t, hits[0].Document).Equal("charged twice")
		gt.Value(t, hits[0].Metadata.String("company")).Equal("Bank A")
		gt.Value(t, hits[0].Metadata.String("amount")).Equal("12.5")
		gt.Bool(t, hits[0].Distance < 1e-6).True()
	})

	t.Run("query orders by distance and bounds k", func(t *testing.T) {
		s := open(t, setup(t)(2, "m1"))
		ctx := context.Background()

		var entries []domain.Entry
		for i := 0; i < 5; i++ {
			entries = append(entries, domain.Entry{
				ID:        fmt.Sprintf("complaint_%d", i),
				Embedding: []float32{float32(i), 1},
			})
		}
		gt.NoError(t, s.Add(ctx, entries)).Required()

		hits, err := s.Query(ctx, []float32{0, 1}, 3)
		gt.NoError(t, err).Required()
		gt.Array(t, hits).Length(3)
		gt.Value(t, hits[0].ID).Equal("complaint_0")
		for i := 1; i < len(hits); i++ {
			gt.Bool(t, hits[i-1].Distance <= hits[i].Distance).True()
		}

		all, err := s.Query(ctx, []float32{0, 1}, 50)
		gt.NoError(t, err).Required()
		gt.Array(t, all).Length(5)

		none, err := s.Query(ctx, []float32{0, 1}, 0)
		gt.NoError(t, err).Required()
		gt.Array(t, none).Length(0)
	})

	t.Run("ties keep insertion order", func(t *testing.T) {
		s := open(t, setup(t)(2, "m1"))
		ctx := context.Background()

		gt.NoError(t, s.Add(ctx, []domain.Entry{
			{ID: "b", Embedding: []float32{1, 1}},
			{ID: "a", Embedding: []float32{1, 1}},
			{ID: "c", Embedding: []float32{1, 1}},
		})).Required()

		hits, err := s.Query(ctx, []float32{1, 1}, 3)
		gt.NoError(t, err).Required()
		gt.Array(t, hits).Length(3)
		gt.Value(t, []string{hits[0].ID, hits[1].ID, hits[2].ID}).Equal([]string{"b", "a", "c"})
	})

	t.Run("empty collection returns nothing", func(t *testing.T) {
		s := open(t, setup(t)(2, "m1"))
		hits, err := s.Query(context.Background(), []float32{1, 0}, 5)
		gt.NoError(t, err).Required()
		gt.Array(t, hits).Length(0)

		n, err := s.Count(context.Background())
		gt.NoError(t, err).Required()
		gt.Value(t, n).Equal(0)
	})

	t.Run("duplicate ids reject the whole batch", func(t *testing.T) {
		s := open(t, setup(t)(2, "m1"))
		ctx := context.Background()

		gt.NoError(t, s.Add(ctx, []domain.Entry{{ID: "complaint_0", Embedding: []float32{1, 0}}})).Required()

		err := s.Add(ctx, []domain.Entry{
			{ID: "complaint_1", Embedding: []float32{0, 1}},
			{ID: "complaint_0", Embedding: []float32{1, 1}},
		})
		gt.Error(t, err).Is(domain.ErrDuplicateID)

		err = s.Add(ctx, []domain.Entry{
			{ID: "complaint_2", Embedding: []float32{0, 1}},
			{ID: "complaint_2", Embedding: []float32{1, 1}},
		})
		gt.Error(t, err).Is(domain.ErrDuplicateID)

		n, err := s.Count(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, n).Equal(1)
	})

	t.Run("wrong dimension is a model mismatch", func(t *testing.T) {
		s := open(t, setup(t)(2, "m1"))
		err := s.Add(context.Background(), []domain.Entry{{ID: "x", Embedding: []float32{1, 0, 0}}})
		gt.Error(t, err).Is(domain.ErrModelMismatch)
	})

	t.Run("reopen keeps data and rejects another model", func(t *testing.T) {
		newStore := setup(t)
		ctx := context.Background()

		first := open(t, newStore(2, "m1"))
		gt.NoError(t, first.Add(ctx, []domain.Entry{{ID: "complaint_0", Embedding: []float32{1, 0}}})).Required()

		again := open(t, newStore(2, "m1"))
		n, err := again.Count(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, n).Equal(1)

		other := newStore(4, "m2")
		t.Cleanup(func() { _ = other.Close() })
		gt.Error(t, other.OpenOrCreate(ctx)).Is(domain.ErrModelMismatch)
		_, err = other.Query(ctx, []float32{1, 0, 0, 0}, 1)
		gt.Error(t, err).Is(domain.ErrIndexUnavailable)

		// reset rebuilds the collection for the new model
		gt.NoError(t, other.Reset(ctx)).Required()
		info, err := other.Info(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, info.Dimension).Equal(4)
		gt.Value(t, info.EmbeddingModel).Equal("m2")
		gt.Value(t, info.DocumentCount).Equal(0)
	})

	t.Run("unopened store is unavailable", func(t *testing.T) {
		s := setup(t)(2, "m1")
		t.Cleanup(func() { _ = s.Close() })
		_, err := s.Count(context.Background())
		gt.Error(t, err).Is(domain.ErrIndexUnavailable)
	})

	t.Run("open is idempotent and exists reports it", func(t *testing.T) {
		s := setup(t)(2, "m1")
		t.Cleanup(func() { _ = s.Close() })
		ctx := context.Background()

		gt.NoError(t, s.OpenOrCreate(ctx)).Required()
		gt.NoError(t, s.OpenOrCreate(ctx)).Required()

		info, err := s.Info(ctx)
		gt.NoError(t, err).Required()
		ok, err := s.Exists(ctx, info.Name)
		gt.NoError(t, err).Required()
		gt.Bool(t, ok).True()

		ok, err = s.Exists(ctx, "no_such_collection")
		gt.NoError(t, err).Required()
		gt.Bool(t, ok).False()
	})

	t.Run("reset empties the collection", func(t *testing.T) {
		s := open(t, setup(t)(2, "m1"))
		ctx := context.Background()
		gt.NoError(t, s.Add(ctx, []domain.Entry{{ID: "a", Embedding: []float32{1, 0}}})).Required()
		gt.NoError(t, s.Reset(ctx)).Required()

		n, err := s.Count(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, n).Equal(0)
		gt.NoError(t, s.Add(ctx, []domain.Entry{{ID: "a", Embedding: []float32{1, 0}}})).Required()
	})
}

func open(t *testing.T, s domain.VectorStore) domain.VectorStore {
	t.Helper()
	gt.NoError(t, s.OpenOrCreate(context.Background())).Required()
	t.Cleanup(func() { _ = s.Close() })
	return s
}
