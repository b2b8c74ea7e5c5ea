package embedding_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"trustvoice/internal/domain"
	"trustvoice/internal/embedding"
	"trustvoice/internal/embedding/hashing"
)

type fakeModel struct {
	dim   int
	err   error
	calls atomic.Int32
}

func (m *fakeModel) Name() string   { return "fake" }
func (m *fakeModel) Dimension() int { return m.dim }
func (m *fakeModel) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, m.dim)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

// ctxAwareModel fails when the caller's context is already done.
type ctxAwareModel struct{ *fakeModel }

func (m *ctxAwareModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.fakeModel.EmbedBatch(ctx, texts)
}

func TestAdapterPreservesOrderAcrossBatches(t *testing.T) {
	model := &fakeModel{dim: 3}
	a := embedding.NewAdapter(model, 3, embedding.WithBatchSize(2), embedding.WithConcurrency(3))

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := a.Embed(context.Background(), texts)
	gt.NoError(t, err).Required()
	gt.Array(t, vecs).Length(len(texts))
	for i, v := range vecs {
		gt.Value(t, v[0]).Equal(float32(len(texts[i])))
	}
}

func TestAdapterLoadsOnce(t *testing.T) {
	model := &fakeModel{dim: 3}
	a := embedding.NewAdapter(model, 3)

	gt.NoError(t, a.Load(context.Background())).Required()
	gt.NoError(t, a.Load(context.Background())).Required()
	gt.Value(t, model.calls.Load()).Equal(int32(1))
}

func TestAdapterCancelledLoadIsRetried(t *testing.T) {
	model := &fakeModel{dim: 3}
	a := embedding.NewAdapter(&ctxAwareModel{model}, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.EmbedOne(ctx, "charged twice")
	gt.Error(t, err).Is(domain.ErrModelUnavailable)

	vec, err := a.EmbedOne(context.Background(), "charged twice")
	gt.NoError(t, err).Required()
	gt.Array(t, vec).Length(3)
}

func TestAdapterExpiredLoadIsRetried(t *testing.T) {
	a := embedding.NewAdapter(&ctxAwareModel{&fakeModel{dim: 3}}, 3)

	ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()
	gt.Error(t, a.Load(ctx)).Is(domain.ErrModelUnavailable)
	gt.NoError(t, a.Load(context.Background()))
}

func TestAdapterHashingSurvivesCancelledFirstCaller(t *testing.T) {
	model, err := hashing.New(16)
	gt.NoError(t, err).Required()
	a := embedding.NewAdapter(model, 16)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.EmbedOne(ctx, "fees")
	gt.Error(t, err)

	_, err = a.EmbedOne(context.Background(), "fees")
	gt.NoError(t, err)
}

func TestAdapterDimensionMismatchDisables(t *testing.T) {
	a := embedding.NewAdapter(&fakeModel{dim: 8}, 384)

	_, err := a.EmbedOne(context.Background(), "charged twice")
	gt.Error(t, err).Is(domain.ErrModelUnavailable)
}

func TestAdapterModelFailure(t *testing.T) {
	model := &fakeModel{dim: 3, err: errors.New("connection refused")}
	a := embedding.NewAdapter(model, 3)

	_, err := a.Embed(context.Background(), []string{"x"})
	gt.Error(t, err).Is(domain.ErrModelUnavailable)

	// a genuine failure stays memoized
	_, err = a.Embed(context.Background(), []string{"x"})
	gt.Error(t, err).Is(domain.ErrModelUnavailable)
	gt.Value(t, model.calls.Load()).Equal(int32(1))
}

func TestDisabledAdapter(t *testing.T) {
	a := embedding.NewDisabled("all-minilm", 384, errors.New("no credentials"))
	gt.Value(t, a.ModelID()).Equal("all-minilm")
	gt.Value(t, a.Dimension()).Equal(384)

	_, err := a.EmbedOne(context.Background(), "anything")
	gt.Error(t, err).Is(domain.ErrModelUnavailable)
	gt.Error(t, a.Load(context.Background())).Is(domain.ErrModelUnavailable)
}

func TestAdapterWithHashingModel(t *testing.T) {
	model, err := hashing.New(384)
	gt.NoError(t, err).Required()
	a := embedding.NewAdapter(model, 384)

	vecs, err := a.Embed(context.Background(), nil)
	gt.NoError(t, err).Required()
	gt.Array(t, vecs).Length(0)

	v, err := a.EmbedOne(context.Background(), "late fee on credit card")
	gt.NoError(t, err).Required()
	gt.Array(t, v).Length(384)
	gt.Value(t, a.ModelID()).Equal(hashing.ModelID)
}
