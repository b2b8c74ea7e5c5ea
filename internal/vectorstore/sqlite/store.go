// Package sqlite is the default persistent vector store. Entries live in a
// single SQLite file and are ranked with the vec_cosine SQL function.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"trustvoice/internal/domain"
	"trustvoice/internal/logging"
	"trustvoice/internal/vectorstore"
)

// Store implements domain.VectorStore for one collection of a SQLite file.
type Store struct {
	mu        sync.RWMutex
	path      string
	name      string
	dimension int
	model     string

	db     *sql.DB
	opened bool
}

// New creates a store. path is a file path or ":memory:". Nothing is opened
// until OpenOrCreate or Reset is called.
func New(path, name string, dimension int, model string) *Store {
	return &Store{path: path, name: name, dimension: dimension, model: model}
}

func (s *Store) dsn() string {
	if s.path == ":memory:" {
		return s.path
	}
	return s.path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// connect opens the database file and schema. Caller holds s.mu.
func (s *Store) connect(ctx context.Context) (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return nil, goerr.Wrap(domain.ErrIndexUnavailable, "failed to create index directory",
				goerr.V(domain.KeyPath, s.path), goerr.V("cause", err.Error()))
		}
	}

	registerFunctions()
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "failed to open index",
			goerr.V(domain.KeyPath, s.path), goerr.V("cause", err.Error()))
	}
	if s.path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "failed to prepare index schema",
			goerr.V(domain.KeyPath, s.path), goerr.V("cause", err.Error()))
	}
	s.db = db
	return db, nil
}

func (s *Store) OpenOrCreate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}

	db, err := s.connect(ctx)
	if err != nil {
		return err
	}

	exists, err := collectionExists(ctx, db, s.name)
	if err != nil {
		return err
	}
	if !exists {
		if err := stampCollection(ctx, db, s.name, s.dimension, s.model); err != nil {
			return err
		}
		logging.From(ctx).Info("created collection", "collection", s.name, "path", s.path, "model", s.model)
		s.opened = true
		return nil
	}

	var dim int
	var model string
	if err := db.QueryRowContext(ctx,
		`SELECT dimension, embedding_model FROM collections WHERE name = ?`, s.name,
	).Scan(&dim, &model); err != nil {
		return goerr.Wrap(domain.ErrIndexUnavailable, "failed to read collection",
			goerr.V(domain.KeyCollection, s.name), goerr.V("cause", err.Error()))
	}
	if dim != s.dimension || model != s.model {
		return goerr.Wrap(domain.ErrModelMismatch, "collection was built with another embedding model",
			goerr.V(domain.KeyCollection, s.name), goerr.V(domain.KeyModel, model), goerr.V(domain.KeyDimension, dim),
			goerr.V("expected_model", s.model), goerr.V("expected_dimension", s.dimension))
	}
	s.opened = true
	return nil
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.connect(ctx)
	if err != nil {
		return false, err
	}
	return collectionExists(ctx, db, name)
}

func collectionExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections WHERE name = ?`, name).Scan(&n); err != nil {
		return false, goerr.Wrap(domain.ErrIndexUnavailable, "failed to look up collection",
			goerr.V(domain.KeyCollection, name), goerr.V("cause", err.Error()))
	}
	return n > 0, nil
}

func stampCollection(ctx context.Context, db *sql.DB, name string, dimension int, model string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, embedding_model, created_at) VALUES (?, ?, ?, ?)`,
		name, dimension, model, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return goerr.Wrap(domain.ErrIndexUnavailable, "failed to create collection",
			goerr.V(domain.KeyCollection, name), goerr.V("cause", err.Error()))
	}
	return nil
}

// openDB returns the database when the collection is open. Caller holds s.mu.
func (s *Store) openDB() (*sql.DB, error) {
	if !s.opened || s.db == nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "collection is not open", goerr.V(domain.KeyCollection, s.name))
	}
	return s.db, nil
}

func (s *Store) Add(ctx context.Context, entries []domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.openDB()
	if err != nil {
		return err
	}
	if err := vectorstore.ValidateEntries(s.name, s.dimension, entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction", goerr.V(domain.KeyCollection, s.name))
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := tx.PrepareContext(ctx, `SELECT COUNT(*) FROM entries WHERE collection = ? AND id = ?`)
	if err != nil {
		return goerr.Wrap(err, "failed to prepare lookup")
	}
	defer exists.Close()
	for _, e := range entries {
		var n int
		if err := exists.QueryRowContext(ctx, s.name, e.ID).Scan(&n); err != nil {
			return goerr.Wrap(err, "failed to look up entry", goerr.V(domain.KeyID, e.ID))
		}
		if n > 0 {
			return goerr.Wrap(domain.ErrDuplicateID, "entry id already stored",
				goerr.V(domain.KeyCollection, s.name), goerr.V(domain.KeyID, e.ID))
		}
	}

	insert, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (collection, id, document, meta, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return goerr.Wrap(err, "failed to prepare insert")
	}
	defer insert.Close()
	for _, e := range entries {
		meta, err := encodeMetadata(e.Metadata)
		if err != nil {
			return goerr.Wrap(err, "invalid entry metadata", goerr.V(domain.KeyID, e.ID))
		}
		if _, err := insert.ExecContext(ctx, s.name, e.ID, e.Document, meta, encodeEmbedding(e.Embedding)); err != nil {
			return goerr.Wrap(err, "failed to insert entry", goerr.V(domain.KeyID, e.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit entries", goerr.V(domain.KeyCollection, s.name))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, embedding []float32, k int) ([]domain.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.openDB()
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

	rows, err := db.QueryContext(ctx, `
SELECT id, document, meta, vec_cosine(embedding, ?) AS sim
FROM entries
WHERE collection = ?
ORDER BY sim DESC, rowid ASC
LIMIT ?`, encodeEmbedding(embedding), s.name, k)
	if err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "failed to query entries",
			goerr.V(domain.KeyCollection, s.name), goerr.V("cause", err.Error()))
	}
	defer rows.Close()

	out := make([]domain.Neighbor, 0, k)
	for rows.Next() {
		var (
			n    domain.Neighbor
			meta string
			sim  sql.NullFloat64
		)
		if err := rows.Scan(&n.ID, &n.Document, &meta, &sim); err != nil {
			return nil, goerr.Wrap(domain.ErrIndexUnavailable, "failed to scan entry", goerr.V("cause", err.Error()))
		}
		if n.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, goerr.Wrap(domain.ErrIndexUnavailable, "corrupt entry metadata",
				goerr.V(domain.KeyID, n.ID), goerr.V("cause", err.Error()))
		}
		n.Distance = 1 - sim.Float64
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "failed to iterate entries", goerr.V("cause", err.Error()))
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.openDB()
	if err != nil {
		return 0, err
	}
	return s.count(ctx, db)
}

func (s *Store) count(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE collection = ?`, s.name).Scan(&n); err != nil {
		return 0, goerr.Wrap(domain.ErrIndexUnavailable, "failed to count entries",
			goerr.V(domain.KeyCollection, s.name), goerr.V("cause", err.Error()))
	}
	return n, nil
}

func (s *Store) Info(ctx context.Context) (domain.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.openDB()
	if err != nil {
		return domain.CollectionInfo{}, err
	}
	n, err := s.count(ctx, db)
	if err != nil {
		return domain.CollectionInfo{}, err
	}
	return domain.CollectionInfo{
		Name:           s.name,
		DocumentCount:  n,
		Dimension:      s.dimension,
		EmbeddingModel: s.model,
	}, nil
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.connect(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(domain.ErrIndexUnavailable, "failed to begin reset", goerr.V("cause", err.Error()))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE collection = ?`, s.name); err != nil {
		return goerr.Wrap(err, "failed to delete entries", goerr.V(domain.KeyCollection, s.name))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, s.name); err != nil {
		return goerr.Wrap(err, "failed to delete collection", goerr.V(domain.KeyCollection, s.name))
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, embedding_model, created_at) VALUES (?, ?, ?, ?)`,
		s.name, s.dimension, s.model, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return goerr.Wrap(err, "failed to create collection", goerr.V(domain.KeyCollection, s.name))
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit reset", goerr.V(domain.KeyCollection, s.name))
	}

	s.opened = true
	logging.From(ctx).Info("reset collection", "collection", s.name, "path", s.path, "model", s.model)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return goerr.Wrap(err, "failed to close index", goerr.V(domain.KeyPath, s.path))
	}
	return nil
}
