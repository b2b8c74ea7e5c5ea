// Package memory is a process-local vector store using brute-force cosine
// distance. Stores opened with the same path and collection name share data.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"trustvoice/internal/domain"
	"trustvoice/internal/vectorstore"
)

type collection struct {
	mu        sync.RWMutex
	dimension int
	model     string
	entries   []domain.Entry
	ids       map[string]struct{}
}

var registry = struct {
	mu          sync.Mutex
	collections map[string]*collection
}{collections: map[string]*collection{}}

func registryKey(path, name string) string { return path + "\x00" + name }

// Storage implements domain.VectorStore in memory.
type Storage struct {
	mu        sync.RWMutex
	path      string
	name      string
	dimension int
	model     string
	col       *collection
}

// NewStorage creates a store for one collection. Nothing is opened until
// OpenOrCreate or Reset is called.
func NewStorage(path, name string, dimension int, model string) *Storage {
	return &Storage{path: path, name: name, dimension: dimension, model: model}
}

func (s *Storage) OpenOrCreate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col != nil {
		return nil
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	key := registryKey(s.path, s.name)
	c, ok := registry.collections[key]
	if !ok {
		c = &collection{dimension: s.dimension, model: s.model, ids: map[string]struct{}{}}
		registry.collections[key] = c
	}
	if c.dimension != s.dimension || c.model != s.model {
		return goerr.Wrap(domain.ErrModelMismatch, "collection was built with another embedding model",
			goerr.V(domain.KeyCollection, s.name),
			goerr.V(domain.KeyModel, c.model), goerr.V(domain.KeyDimension, c.dimension))
	}
	s.col = c
	return nil
}

func (s *Storage) Exists(ctx context.Context, name string) (bool, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	_, ok := registry.collections[registryKey(s.path, name)]
	return ok, nil
}

func (s *Storage) open() (*collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.col == nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "collection is not open", goerr.V(domain.KeyCollection, s.name))
	}
	return s.col, nil
}

func (s *Storage) Add(ctx context.Context, entries []domain.Entry) error {
	c, err := s.open()
	if err != nil {
		return err
	}
	if err := vectorstore.ValidateEntries(s.name, s.dimension, entries); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if _, dup := c.ids[e.ID]; dup {
			return goerr.Wrap(domain.ErrDuplicateID, "entry id already stored",
				goerr.V(domain.KeyCollection, s.name), goerr.V(domain.KeyID, e.ID))
		}
	}
	for _, e := range entries {
		c.ids[e.ID] = struct{}{}
		c.entries = append(c.entries, domain.Entry{
			ID:        e.ID,
			Embedding: append([]float32(nil), e.Embedding...),
			Metadata:  e.Metadata.Clone(),
			Document:  e.Document,
		})
	}
	return nil
}

func (s *Storage) Query(ctx context.Context, embedding []float32, k int) ([]domain.Neighbor, error) {
	c, err := s.open()
	if err != nil {
		return nil, err
	}
	if k < 1 {
		return []domain.Neighbor{}, nil
	}
	if len(embedding) != s.dimension {
		return nil, goerr.Wrap(domain.ErrModelMismatch, "query dimension mismatch",
			goerr.V(domain.KeyCollection, s.name), goerr.V(domain.KeyDimension, len(embedding)))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	type scored struct {
		idx  int
		dist float64
	}
	hits := make([]scored, len(c.entries))
	for i, e := range c.entries {
		hits[i] = scored{idx: i, dist: vectorstore.CosineDistance(e.Embedding, embedding)}
	}
	// stable so that ties keep insertion order
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	if k > len(hits) {
		k = len(hits)
	}

	out := make([]domain.Neighbor, 0, k)
	for _, h := range hits[:k] {
		e := c.entries[h.idx]
		out = append(out, domain.Neighbor{
			ID:       e.ID,
			Metadata: e.Metadata.Clone(),
			Document: e.Document,
			Distance: h.dist,
		})
	}
	return out, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	c, err := s.open()
	if err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}

func (s *Storage) Info(ctx context.Context) (domain.CollectionInfo, error) {
	c, err := s.open()
	if err != nil {
		return domain.CollectionInfo{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.CollectionInfo{
		Name:           s.name,
		DocumentCount:  len(c.entries),
		Dimension:      c.dimension,
		EmbeddingModel: c.model,
	}, nil
}

func (s *Storage) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	registry.mu.Lock()
	key := registryKey(s.path, s.name)
	c, ok := registry.collections[key]
	if !ok {
		c = &collection{}
		registry.collections[key] = c
	}
	registry.mu.Unlock()

	c.mu.Lock()
	c.dimension = s.dimension
	c.model = s.model
	c.entries = nil
	c.ids = map[string]struct{}{}
	c.mu.Unlock()

	s.col = c
	return nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.col = nil
	return nil
}
