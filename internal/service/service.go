// Package service wires loading, indexing, retrieval and answering into the
// operations exposed to the CLI, HTTP server and chat UI.
package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"trustvoice/internal/answer"
	"trustvoice/internal/domain"
	"trustvoice/internal/indexer"
	"trustvoice/internal/loader"
	"trustvoice/internal/logging"
	"trustvoice/internal/normalize"
	"trustvoice/internal/retrieval"
)

// DefaultTopK is used when a caller passes a top_k of zero.
const DefaultTopK = 5

type Service struct {
	// mu serializes index builds against queries on the same collection.
	mu sync.RWMutex

	embedder    domain.Embedder
	store       domain.VectorStore
	normalizer  *normalize.Normalizer
	indexer     *indexer.Indexer
	engine      *retrieval.Engine
	synthesizer *answer.Synthesizer
	defaultTopK int
}

type Option func(*options)

type options struct {
	normalizer  *normalize.Normalizer
	answerOpts  []answer.Option
	defaultTopK int
}

func WithNormalizer(n *normalize.Normalizer) Option {
	return func(o *options) { o.normalizer = n }
}

func WithAnswerOptions(opts ...answer.Option) Option {
	return func(o *options) { o.answerOpts = append(o.answerOpts, opts...) }
}

// WithDefaultTopK sets the top_k used when callers pass zero.
func WithDefaultTopK(k int) Option {
	return func(o *options) {
		if k > 0 {
			o.defaultTopK = k
		}
	}
}

// New creates a service. generator may be nil, in which case answers report
// a generation error.
func New(embedder domain.Embedder, store domain.VectorStore, generator domain.Generator, opts ...Option) *Service {
	o := options{defaultTopK: DefaultTopK}
	for _, opt := range opts {
		opt(&o)
	}
	if o.normalizer == nil {
		o.normalizer = normalize.New()
	}

	engine := retrieval.New(embedder, store)
	return &Service{
		embedder:    embedder,
		store:       store,
		normalizer:  o.normalizer,
		indexer:     indexer.New(embedder, store),
		engine:      engine,
		synthesizer: answer.New(engine, generator, o.answerOpts...),
		defaultTopK: o.defaultTopK,
	}
}

// Open opens the configured collection for queries. A failure is returned
// for reporting only; queries against an unopened index return no results.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.OpenOrCreate(ctx); err != nil {
		logging.From(ctx).Warn("vector index not available for queries", "error", err)
		return err
	}
	return nil
}

type modelLoader interface {
	Load(ctx context.Context) error
}

// Warm loads the embedding model before the first query. Embedders without
// an explicit load step are left alone.
func (s *Service) Warm(ctx context.Context) error {
	l, ok := s.embedder.(modelLoader)
	if !ok {
		return nil
	}
	return l.Load(ctx)
}

// Build loads every source, normalizes the records and rebuilds the index.
// Sources may be glob patterns.
func (s *Service) Build(ctx context.Context, sources ...string) (indexer.Report, error) {
	paths, err := expand(sources)
	if err != nil {
		return indexer.Report{}, err
	}

	table, err := loader.LoadAll(ctx, paths...)
	if err != nil {
		return indexer.Report{}, err
	}
	records := s.normalizer.Normalize(table)
	logging.From(ctx).Info("preprocessed records", "rows", len(table.Rows), "records", len(records))

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexer.Index(ctx, records)
}

// SearchSimilar returns up to topK complaints similar to query. Model and
// index failures yield an empty list.
func (s *Service) SearchSimilar(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	if topK == 0 {
		topK = s.defaultTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.engine.Search(ctx, query, topK)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			return nil, err
		}
		logging.From(ctx).Warn("search failed, returning no results", "error", err)
		return []domain.SearchResult{}, nil
	}
	return results, nil
}

// Answer produces a grounded answer with its cited sources.
func (s *Service) Answer(ctx context.Context, query string, topK int) (*domain.Answer, error) {
	if topK == 0 {
		topK = s.defaultTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synthesizer.Answer(ctx, query, topK)
}

// GenerateAnswer returns only the answer text. Invalid requests are
// returned as errors.
func (s *Service) GenerateAnswer(ctx context.Context, query string, topK int) (string, error) {
	a, err := s.Answer(ctx, query, topK)
	if err != nil {
		return "", err
	}
	return a.Text, nil
}

// Info describes the configured collection.
func (s *Service) Info(ctx context.Context) (domain.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Info(ctx)
}

func (s *Service) Close() error {
	return s.store.Close()
}

func expand(sources []string) ([]string, error) {
	if len(sources) == 0 {
		return nil, goerr.Wrap(domain.ErrInvalidRequest, "no data sources given")
	}
	var out []string
	for _, p := range sources {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, goerr.Wrap(domain.ErrInvalidRequest, "bad source pattern", goerr.V(domain.KeyPath, p))
		}
		if matches == nil {
			matches = []string{p}
		}
		out = append(out, matches...)
	}
	return out, nil
}
