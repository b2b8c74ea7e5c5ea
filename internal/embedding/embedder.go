package embedding

import (
	"context"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"trustvoice/internal/domain"
	"trustvoice/internal/logging"
)

// Model converts free text into a numeric vector representation.
// Implementations are black boxes: hashing, a remote HTTP API or Gemini.
type Model interface {
	Name() string
	Dimension() int
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Adapter wraps a Model, loads it once and checks every vector it returns
// against the configured dimension. It implements domain.Embedder.
type Adapter struct {
	model       Model
	modelID     string
	dimension   int
	batchSize   int
	concurrency int

	mu      sync.Mutex
	loaded  bool
	loadErr error
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBatchSize sets how many texts are sent to the model at once.
func WithBatchSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithConcurrency sets how many batches are embedded in parallel.
func WithConcurrency(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// NewAdapter creates an adapter expecting vectors of the given dimension.
func NewAdapter(model Model, dimension int, opts ...Option) *Adapter {
	a := &Adapter{
		model:       model,
		modelID:     model.Name(),
		dimension:   dimension,
		batchSize:   32,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewDisabled creates an adapter for a model that could not be constructed.
// Every embedding call fails with domain.ErrModelUnavailable.
func NewDisabled(modelID string, dimension int, cause error) *Adapter {
	return &Adapter{
		modelID:     modelID,
		dimension:   dimension,
		batchSize:   1,
		concurrency: 1,
		loaded:      true,
		loadErr: goerr.Wrap(domain.ErrModelUnavailable, "embedding model could not be created",
			goerr.V(domain.KeyModel, modelID), goerr.V("cause", errText(cause))),
	}
}

// ModelID returns the identifier stamped on indexes built with this adapter.
func (a *Adapter) ModelID() string { return a.modelID }

// Dimension returns the configured vector length.
func (a *Adapter) Dimension() int { return a.dimension }

// Load probes the model once per adapter. A failed load disables the adapter
// for the rest of the process, unless the probe was cut short by ctx being
// cancelled or expiring; the next call probes again.
func (a *Adapter) Load(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return a.loadErr
	}

	err := a.probe(ctx)
	if err != nil && ctx.Err() != nil {
		logging.From(ctx).Warn("embedding model probe interrupted", "model", a.modelID, "error", ctx.Err())
		return goerr.Wrap(domain.ErrModelUnavailable, "embedding model probe interrupted",
			goerr.V(domain.KeyModel, a.modelID), goerr.V("cause", errText(ctx.Err())))
	}

	a.loaded, a.loadErr = true, err
	if err != nil {
		logging.From(ctx).Error("embedding model unavailable", "model", a.modelID, "error", err)
		return err
	}
	logging.From(ctx).Info("embedding model loaded", "model", a.modelID, "dimension", a.dimension)
	return nil
}

func (a *Adapter) probe(ctx context.Context) error {
	if a.model.Dimension() != 0 && a.model.Dimension() != a.dimension {
		return goerr.Wrap(domain.ErrModelUnavailable, "model dimension differs from configuration",
			goerr.V(domain.KeyModel, a.modelID), goerr.V(domain.KeyDimension, a.model.Dimension()),
			goerr.V("expected", a.dimension))
	}
	vecs, err := a.model.EmbedBatch(ctx, []string{"probe"})
	if err != nil {
		return goerr.Wrap(domain.ErrModelUnavailable, "failed to probe embedding model",
			goerr.V(domain.KeyModel, a.modelID), goerr.V("cause", errText(err)))
	}
	if len(vecs) != 1 || len(vecs[0]) != a.dimension {
		got := 0
		if len(vecs) == 1 {
			got = len(vecs[0])
		}
		return goerr.Wrap(domain.ErrModelUnavailable, "model returned unexpected dimension",
			goerr.V(domain.KeyModel, a.modelID), goerr.V(domain.KeyDimension, got), goerr.V("expected", a.dimension))
	}
	return nil
}

// EmbedOne embeds a single text.
func (a *Adapter) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := a.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Embed returns one vector per text in input order. Batches run
// concurrently.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := a.Load(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.concurrency)
	for start := 0; start < len(texts); start += a.batchSize {
		end := min(start+a.batchSize, len(texts))
		eg.Go(func() error {
			vecs, err := a.model.EmbedBatch(egCtx, texts[start:end])
			if err != nil {
				return goerr.Wrap(domain.ErrModelUnavailable, "failed to embed batch",
					goerr.V(domain.KeyModel, a.modelID), goerr.V("offset", start), goerr.V("cause", errText(err)))
			}
			if len(vecs) != end-start {
				return goerr.Wrap(domain.ErrModelUnavailable, "model returned wrong number of vectors",
					goerr.V(domain.KeyModel, a.modelID), goerr.V("expected", end-start), goerr.V("got", len(vecs)))
			}
			for i, v := range vecs {
				if len(v) != a.dimension {
					return goerr.Wrap(domain.ErrModelUnavailable, "model returned unexpected dimension",
						goerr.V(domain.KeyModel, a.modelID), goerr.V(domain.KeyDimension, len(v)))
				}
				out[start+i] = v
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
