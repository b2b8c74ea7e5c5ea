package cli

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem/llm/gemini"

	"trustvoice/internal/answer"
	"trustvoice/internal/config"
	"trustvoice/internal/domain"
	"trustvoice/internal/embedding"
	geminiemb "trustvoice/internal/embedding/gemini"
	"trustvoice/internal/embedding/hashing"
	"trustvoice/internal/embedding/remote"
	geminigen "trustvoice/internal/generation/gemini"
	"trustvoice/internal/generation/ollama"
	"trustvoice/internal/logging"
	"trustvoice/internal/normalize"
	"trustvoice/internal/service"
	"trustvoice/internal/vectorstore/memory"
	"trustvoice/internal/vectorstore/qdrant"
	"trustvoice/internal/vectorstore/sqlite"
)

// newService assembles the service described by cfg. Model clients that
// cannot be created are replaced by disabled ones so queries degrade
// instead of failing at startup.
func newService(ctx context.Context, cfg *config.AppConfig) (*service.Service, error) {
	emb, err := newEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return nil, err
	}
	store, err := newStore(cfg.VectorStore, emb.Dimension(), emb.ModelID())
	if err != nil {
		return nil, err
	}
	gen := newGenerator(ctx, cfg.Generator)

	return service.New(emb, store, gen,
		service.WithDefaultTopK(cfg.Search.DefaultTopK),
		service.WithNormalizer(normalize.New(
			normalize.WithNarrativeFields(cfg.Data.NarrativeFields...),
			normalize.WithSummaryFields(cfg.Data.SummaryFields...),
		)),
		service.WithAnswerOptions(
			answer.WithMinScore(cfg.Search.MinScore),
			answer.WithMaxPromptChars(cfg.Generator.MaxPromptChars),
			answer.WithMaxOutputTokens(cfg.Generator.MaxOutputTokens),
		),
	), nil
}

func newEmbedder(ctx context.Context, cfg config.EmbedderConfig) (*embedding.Adapter, error) {
	opts := []embedding.Option{
		embedding.WithBatchSize(cfg.BatchSize),
		embedding.WithConcurrency(cfg.Concurrency),
	}

	switch cfg.Type {
	case "hashing":
		model, err := hashing.New(cfg.Dimension)
		if err != nil {
			return nil, err
		}
		return embedding.NewAdapter(model, cfg.Dimension, opts...), nil

	case "remote":
		r := cfg.Remote
		client, err := remote.NewClient(remote.Config{
			API:               remote.API(r.API),
			BaseURL:           r.BaseURL,
			APIKeyEnv:         r.APIKeyEnv,
			Model:             r.Model,
			Dimension:         cfg.Dimension,
			Timeout:           time.Duration(r.TimeoutSecs) * time.Second,
			MaxRetries:        r.MaxRetries,
			RequestsPerSecond: r.RequestsPerSecond,
		})
		if err != nil {
			logging.From(ctx).Warn("remote embedder disabled", "error", err)
			return embedding.NewDisabled(r.Model, cfg.Dimension, err), nil
		}
		logging.From(ctx).Debug("remote embedder configured", "client", client.Settings())
		return embedding.NewAdapter(client, cfg.Dimension, opts...), nil

	case "gemini":
		client, err := gemini.New(ctx, cfg.Gemini.Project, cfg.Gemini.Location)
		if err != nil {
			logging.From(ctx).Warn("gemini embedder disabled", "error", err)
			return embedding.NewDisabled(geminiemb.DefaultModelID, cfg.Dimension, err), nil
		}
		model, err := geminiemb.New(client, cfg.Dimension)
		if err != nil {
			return nil, err
		}
		return embedding.NewAdapter(model, cfg.Dimension, opts...), nil
	}
	return nil, goerr.New("unknown embedder", goerr.V("type", cfg.Type))
}

func newStore(cfg config.VectorStoreConfig, dimension int, model string) (domain.VectorStore, error) {
	switch cfg.Type {
	case "sqlite":
		return sqlite.New(cfg.Path, cfg.Collection, dimension, model), nil
	case "memory":
		return memory.NewStorage(cfg.Path, cfg.Collection, dimension, model), nil
	case "qdrant":
		return qdrant.NewStorage(qdrant.Config{
			Addr:       cfg.Qdrant.Addr,
			Collection: cfg.Collection,
			Dimension:  dimension,
			Model:      model,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	}
	return nil, goerr.New("unknown vector store", goerr.V("type", cfg.Type))
}

// newGenerator returns nil when generation is disabled or its client cannot
// be created; answers then report a generation error.
func newGenerator(ctx context.Context, cfg config.GeneratorConfig) domain.Generator {
	switch cfg.Type {
	case "ollama":
		o := cfg.Ollama
		return ollama.New(ollama.Config{
			BaseURL:     o.BaseURL,
			Model:       o.Model,
			Timeout:     time.Duration(o.TimeoutSecs) * time.Second,
			Temperature: o.Temperature,
		})

	case "gemini":
		client, err := gemini.New(ctx, cfg.Gemini.Project, cfg.Gemini.Location)
		if err != nil {
			logging.From(ctx).Warn("gemini generator disabled", "error", err)
			return nil
		}
		gen, err := geminigen.New(client)
		if err != nil {
			logging.From(ctx).Warn("gemini generator disabled", "error", err)
			return nil
		}
		return gen
	}
	return nil
}
