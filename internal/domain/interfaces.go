package domain

import "context"

// RawTable is a loaded data source before normalization. Column sets may
// differ between sources; a missing key and a nil value both mean "missing".
type RawTable struct {
	Columns []string
	Rows    []map[string]any
}

// Record is a normalized complaint. Every field is text and Text holds the
// combined text used for embedding.
type Record struct {
	Fields map[string]string
	Text   string
}

// Entry is the persisted unit of the vector index.
type Entry struct {
	ID        string
	Embedding []float32
	Metadata  Metadata
	Document  string
}

// Neighbor is a raw vector index hit ordered by ascending Distance.
type Neighbor struct {
	ID       string
	Metadata Metadata
	Document string
	Distance float64
}

// SearchResult represents a matching complaint with a similarity score in [0,1].
type SearchResult struct {
	ID       string
	Metadata Metadata
	Document string
	Score    float64
}

// Outcome tells how an answer was produced.
type Outcome string

const (
	OutcomeGenerated       Outcome = "generated"
	OutcomeNoContext       Outcome = "no_context"
	OutcomeGenerationError Outcome = "generation_error"
)

// Source is a complaint cited by an answer.
type Source struct {
	ID       string
	Score    float64
	Metadata Metadata
	Excerpt  string
}

// Answer is the result of the grounded answer pipeline.
type Answer struct {
	Text    string
	Outcome Outcome
	Sources []Source
}

// CollectionInfo describes a vector index collection.
type CollectionInfo struct {
	Name           string `json:"collection_name"`
	DocumentCount  int    `json:"document_count"`
	Dimension      int    `json:"embedding_dimension"`
	EmbeddingModel string `json:"embedding_model"`
}

// Embedder converts free text into fixed-dimension vectors.
type Embedder interface {
	ModelID() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists entries of one named collection and supports
// nearest-neighbour search by cosine distance.
type VectorStore interface {
	// OpenOrCreate opens the configured collection, creating it when absent.
	// Repeated calls are no-ops once the store is open.
	OpenOrCreate(ctx context.Context) error
	Exists(ctx context.Context, name string) (bool, error)
	Add(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, embedding []float32, k int) ([]Neighbor, error)
	Count(ctx context.Context) (int, error)
	Info(ctx context.Context) (CollectionInfo, error)
	// Reset empties the collection so it can be rebuilt from scratch.
	Reset(ctx context.Context) error
	Close() error
}

// GenerateOptions bounds a single generation call.
type GenerateOptions struct {
	MaxTokens int
}

// Generator produces text from a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
