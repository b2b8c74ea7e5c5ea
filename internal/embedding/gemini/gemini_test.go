package gemini_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gt"

	"trustvoice/internal/embedding/gemini"
)

type mockLLMClient struct {
	embedFn func(ctx context.Context, dimension int, input []string) ([][]float64, error)
}

func (c *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	return nil, errors.New("not used")
}

func (c *mockLLMClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	return c.embedFn(ctx, dimension, input)
}

func TestEmbedBatchConvertsToFloat32(t *testing.T) {
	client := &mockLLMClient{embedFn: func(_ context.Context, dimension int, input []string) ([][]float64, error) {
		gt.Value(t, dimension).Equal(3)
		out := make([][]float64, len(input))
		for i := range input {
			out[i] = []float64{float64(i), 0.5, 1}
		}
		return out, nil
	}}

	e, err := gemini.New(client, 3)
	gt.NoError(t, err).Required()
	gt.Value(t, e.Name()).Equal(gemini.DefaultModelID)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	gt.NoError(t, err).Required()
	gt.Value(t, vecs).Equal([][]float32{{0, 0.5, 1}, {1, 0.5, 1}})
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	client := &mockLLMClient{embedFn: func(context.Context, int, []string) ([][]float64, error) {
		return [][]float64{{1}}, nil
	}}
	e, err := gemini.New(client, 1)
	gt.NoError(t, err).Required()

	_, err = e.EmbedBatch(context.Background(), []string{"a", "b"})
	gt.Error(t, err)
}

func TestNewRequiresClient(t *testing.T) {
	_, err := gemini.New(nil, 3)
	gt.Error(t, err)
}
