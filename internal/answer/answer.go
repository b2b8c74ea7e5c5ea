// Package answer grounds generated answers in retrieved complaints.
package answer

import (
	"context"
	"errors"
	"strings"

	"trustvoice/internal/domain"
	"trustvoice/internal/excerpt"
	"trustvoice/internal/logging"
)

// Searcher finds complaints similar to a query.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]domain.SearchResult, error)
}

// Synthesizer answers questions from retrieved complaint text.
type Synthesizer struct {
	searcher        Searcher
	generator       domain.Generator
	minScore        float64
	maxPromptChars  int
	maxOutputTokens int
	excerptLen      int
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithMinScore drops results scoring below s before building the context.
func WithMinScore(s float64) Option {
	return func(a *Synthesizer) { a.minScore = s }
}

// WithMaxPromptChars bounds the prompt length in characters.
func WithMaxPromptChars(n int) Option {
	return func(a *Synthesizer) {
		if n > 0 {
			a.maxPromptChars = n
		}
	}
}

// WithMaxOutputTokens bounds the generated answer length.
func WithMaxOutputTokens(n int) Option {
	return func(a *Synthesizer) {
		if n > 0 {
			a.maxOutputTokens = n
		}
	}
}

// WithExcerptSentences sets how many sentences each cited source keeps.
func WithExcerptSentences(n int) Option {
	return func(a *Synthesizer) {
		if n > 0 {
			a.excerptLen = n
		}
	}
}

// New creates a synthesizer. A nil generator is allowed; every answer that
// needs generation then reports a generation error.
func New(searcher Searcher, generator domain.Generator, opts ...Option) *Synthesizer {
	a := &Synthesizer{
		searcher:        searcher,
		generator:       generator,
		maxPromptChars:  6000,
		maxOutputTokens: 256,
		excerptLen:      2,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Answer retrieves up to topK complaints for query and generates an answer
// grounded in them. Only invalid requests are returned as errors; retrieval
// and generation failures are reported through the answer's Outcome.
func (a *Synthesizer) Answer(ctx context.Context, query string, topK int) (*domain.Answer, error) {
	logger := logging.From(ctx)

	results, err := a.searcher.Search(ctx, query, topK)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			return nil, err
		}
		logger.Warn("retrieval failed, answering without context", "error", err)
		results = nil
	}

	var (
		docs []string
		used []domain.SearchResult
	)
	for _, r := range results {
		if r.Score < a.minScore {
			continue
		}
		doc := strings.TrimSpace(r.Document)
		if doc == "" {
			continue
		}
		docs = append(docs, doc)
		used = append(used, r)
	}

	if len(docs) == 0 {
		return &domain.Answer{
			Text:    NoContextAnswer,
			Outcome: domain.OutcomeNoContext,
			Sources: []domain.Source{},
		}, nil
	}

	prompt, err := BuildPrompt(query, docs, a.maxPromptChars)
	if err != nil {
		return a.failed(ctx, err, nil), nil
	}
	sources := a.sources(query, used[:prompt.Used])
	if prompt.Used < len(docs) {
		logger.Debug("context trimmed to prompt budget",
			"kept", prompt.Used, "retrieved", len(docs), "max_prompt_chars", a.maxPromptChars)
	}

	if a.generator == nil {
		return a.failed(ctx, errors.New("no text generator configured"), sources), nil
	}

	text, err := a.generator.Generate(ctx, prompt.Text, domain.GenerateOptions{MaxTokens: a.maxOutputTokens})
	if err != nil {
		return a.failed(ctx, err, sources), nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return a.failed(ctx, errors.New("model returned an empty answer"), sources), nil
	}

	logger.Info("answer generated", "generator", a.generator.Name(), "sources", len(sources))
	return &domain.Answer{
		Text:    text,
		Outcome: domain.OutcomeGenerated,
		Sources: sources,
	}, nil
}

func (a *Synthesizer) failed(ctx context.Context, err error, sources []domain.Source) *domain.Answer {
	logging.From(ctx).Error("answer generation failed", "error", err)
	if sources == nil {
		sources = []domain.Source{}
	}
	return &domain.Answer{
		Text:    generationErrorPrefix + err.Error(),
		Outcome: domain.OutcomeGenerationError,
		Sources: sources,
	}
}

func (a *Synthesizer) sources(query string, results []domain.SearchResult) []domain.Source {
	out := make([]domain.Source, len(results))
	for i, r := range results {
		out[i] = domain.Source{
			ID:       r.ID,
			Score:    r.Score,
			Metadata: r.Metadata,
			Excerpt:  excerpt.Excerpt(r.Document, query, a.excerptLen),
		}
	}
	return out
}
