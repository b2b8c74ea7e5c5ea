package retrieval_test

import (
	"context"
	"errors"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"

	"trustvoice/internal/domain"
	"trustvoice/internal/embedding"
	"trustvoice/internal/embedding/hashing"
	"trustvoice/internal/retrieval"
	"trustvoice/internal/vectorstore/memory"
	"trustvoice/internal/vectorstore/sqlite"
)

func newEngine(t *testing.T, docs ...string) *retrieval.Engine {
	t.Helper()
	ctx := context.Background()

	model, err := hashing.New(384)
	gt.NoError(t, err).Required()
	emb := embedding.NewAdapter(model, 384)

	store := memory.NewStorage(t.TempDir(), "financial_complaints", 384, emb.ModelID())
	gt.NoError(t, store.OpenOrCreate(ctx)).Required()

	vecs, err := emb.Embed(ctx, docs)
	gt.NoError(t, err).Required()
	entries := make([]domain.Entry, len(docs))
	for i, d := range docs {
		entries[i] = domain.Entry{
			ID:        fmt.Sprintf("complaint_%d", i),
			Embedding: vecs[i],
			Metadata:  domain.Metadata{"product": "p"},
			Document:  d,
		}
	}
	gt.NoError(t, store.Add(ctx, entries)).Required()
	return retrieval.New(emb, store)
}

func TestSearchRanksRelevantComplaintFirst(t *testing.T) {
	e := newEngine(t,
		"My card was charged twice for one purchase",
		"The mortgage payment was not applied to my loan",
	)

	results, err := e.Search(context.Background(), "card charged twice", 1)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(1)
	gt.Value(t, results[0].ID).Equal("complaint_0")
	gt.Bool(t, results[0].Score > 0 && results[0].Score <= 1).True()

	results, err = e.Search(context.Background(), "mortgage payment not applied", 2)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(2)
	gt.Value(t, results[0].ID).Equal("complaint_1")
	gt.Bool(t, results[0].Score >= results[1].Score).True()
}

func TestSearchDuplicateChargeScenario(t *testing.T) {
	e := newEngine(t, "card was charged twice", "mortgage payment not applied")

	results, err := e.Search(context.Background(), "duplicate card charge", 1)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(1)
	gt.Value(t, results[0].ID).Equal("complaint_0")

	both, err := e.Search(context.Background(), "duplicate card charge", 2)
	gt.NoError(t, err).Required()
	gt.Array(t, both).Length(2)
	gt.Value(t, both[1].ID).Equal("complaint_1")
	gt.Bool(t, both[0].Score > both[1].Score).True()
}

func TestSearchIsBoundedByTopK(t *testing.T) {
	e := newEngine(t, "late fee", "late payment fee", "fee charged late", "overdraft fee")

	results, err := e.Search(context.Background(), "late fee", 3)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(3)

	results, err = e.Search(context.Background(), "late fee", 10)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(4)
}

func TestSearchRejectsInvalidRequests(t *testing.T) {
	e := newEngine(t, "anything")

	_, err := e.Search(context.Background(), "fees", 0)
	gt.Error(t, err).Is(domain.ErrInvalidRequest)

	_, err = e.Search(context.Background(), "   ", 5)
	gt.Error(t, err).Is(domain.ErrInvalidRequest)
}

func TestSearchUnavailableIndexIsEmpty(t *testing.T) {
	model, err := hashing.New(384)
	gt.NoError(t, err).Required()
	emb := embedding.NewAdapter(model, 384)
	// never opened
	store := memory.NewStorage(t.TempDir(), "financial_complaints", 384, emb.ModelID())

	results, err := retrieval.New(emb, store).Search(context.Background(), "card charged twice", 5)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(0)
}

func TestSearchBrokenIndexIsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "complaints.db")

	model, err := hashing.New(16)
	gt.NoError(t, err).Required()
	emb := embedding.NewAdapter(model, 16)
	store := sqlite.New(path, "financial_complaints", 16, emb.ModelID())
	gt.NoError(t, store.OpenOrCreate(ctx)).Required()
	defer store.Close()

	other, err := sql.Open("sqlite", path)
	gt.NoError(t, err).Required()
	_, err = other.ExecContext(ctx, `DROP TABLE entries`)
	gt.NoError(t, err).Required()
	gt.NoError(t, other.Close()).Required()

	results, err := retrieval.New(emb, store).Search(ctx, "overdraft fees", 3)
	gt.NoError(t, err).Required()
	gt.Array(t, results).Length(0)
}

func TestSearchUnavailableModelFails(t *testing.T) {
	emb := embedding.NewDisabled("all-minilm", 384, errors.New("not installed"))
	store := memory.NewStorage(t.TempDir(), "financial_complaints", 384, "all-minilm")

	_, err := retrieval.New(emb, store).Search(context.Background(), "card charged twice", 5)
	gt.Error(t, err).Is(domain.ErrModelUnavailable)
}

func TestScoreClamps(t *testing.T) {
	gt.Value(t, retrieval.Score(0)).Equal(1.0)
	gt.Value(t, retrieval.Score(1)).Equal(0.0)
	gt.Value(t, retrieval.Score(1.7)).Equal(0.0)
	gt.Value(t, retrieval.Score(-0.2)).Equal(1.0)
}
