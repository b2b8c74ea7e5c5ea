// Package indexer builds the complaint vector index from normalized records.
package indexer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"trustvoice/internal/domain"
	"trustvoice/internal/logging"
	"trustvoice/internal/vectorstore"
)

// Report summarizes one index build.
type Report struct {
	BuildID    string        `json:"build_id"`
	Collection string        `json:"collection_name"`
	Model      string        `json:"embedding_model"`
	Loaded     int           `json:"loaded"`
	Indexed    int           `json:"indexed"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
}

// Indexer replaces the contents of a collection with a fresh build.
type Indexer struct {
	embedder domain.Embedder
	store    domain.VectorStore
}

func New(embedder domain.Embedder, store domain.VectorStore) *Indexer {
	return &Indexer{embedder: embedder, store: store}
}

// EntryID is the stable id of the n-th indexed record.
func EntryID(n int) string {
	return fmt.Sprintf("complaint_%d", n)
}

// Index embeds every record with non-empty text and rebuilds the collection
// from them. Any failure aborts the build and leaves the collection empty
// rather than partially populated.
func (x *Indexer) Index(ctx context.Context, records []domain.Record) (Report, error) {
	started := time.Now()
	report := Report{
		BuildID: uuid.NewString(),
		Model:   x.embedder.ModelID(),
		Loaded:  len(records),
	}
	logger := logging.From(ctx).With("build_id", report.BuildID)

	texts := make([]string, 0, len(records))
	kept := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Text) == "" {
			report.Skipped++
			continue
		}
		texts = append(texts, r.Text)
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		return report, goerr.Wrap(domain.ErrInvalidRequest, "no records with text to index",
			goerr.V("loaded", len(records)))
	}

	logger.Info("embedding records", "count", len(texts), "model", report.Model)
	vecs, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return report, goerr.Wrap(err, "failed to embed records")
	}

	entries := make([]domain.Entry, len(kept))
	for i, r := range kept {
		entries[i] = domain.Entry{
			ID:        EntryID(i),
			Embedding: vecs[i],
			Metadata:  domain.MetadataFromFields(r.Fields),
			Document:  r.Text,
		}
	}

	info, err := x.prepare(ctx)
	if err != nil {
		return report, err
	}
	report.Collection = info.Name

	if err := vectorstore.ValidateEntries(info.Name, x.embedder.Dimension(), entries); err != nil {
		return report, err
	}

	if err := x.store.Add(ctx, entries); err != nil {
		if rerr := x.store.Reset(ctx); rerr != nil {
			logger.Error("failed to clear collection after aborted build", "error", rerr)
		}
		return report, goerr.Wrap(err, "failed to add entries", goerr.V(domain.KeyCollection, info.Name))
	}

	report.Indexed = len(entries)
	report.Duration = time.Since(started)
	logger.Info("index built",
		"collection", report.Collection,
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"duration", report.Duration,
	)
	return report, nil
}

// prepare empties the collection, creating it with the embedder's model
// stamp when it does not exist yet.
func (x *Indexer) prepare(ctx context.Context) (domain.CollectionInfo, error) {
	if err := x.store.Reset(ctx); err != nil {
		return domain.CollectionInfo{}, goerr.Wrap(err, "failed to reset collection")
	}
	if err := x.store.OpenOrCreate(ctx); err != nil {
		return domain.CollectionInfo{}, goerr.Wrap(err, "failed to open collection")
	}
	info, err := x.store.Info(ctx)
	if err != nil {
		return domain.CollectionInfo{}, goerr.Wrap(err, "failed to read collection info")
	}
	return info, nil
}
