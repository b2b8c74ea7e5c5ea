// Package qdrant stores complaint vectors in a Qdrant collection over gRPC.
// String ids are mapped to deterministic UUIDv5 point ids and the original
// id is kept in the payload. A manifest point records the embedding model
// the collection was built with.
package qdrant

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"trustvoice/internal/domain"
	"trustvoice/internal/logging"
	"trustvoice/internal/vectorstore"
)

// Reserved payload keys. Metadata keys starting with reservedPrefix are
// rejected.
const (
	reservedPrefix = "_tv_"

	keyKind     = "_tv_kind"
	keyID       = "_tv_id"
	keyDocument = "_tv_document"
	keySeq      = "_tv_seq"
	keyModel    = "_tv_model"
	keyDim      = "_tv_dimension"

	kindEntry    = "entry"
	kindManifest = "manifest"
)

var pointNamespace = uuid.MustParse("6f1f3b6e-2f61-4a57-9d4e-8b2f0c6a1d55")

// Config configures the Qdrant store.
type Config struct {
	Addr       string
	Collection string
	Dimension  int
	Model      string
	Timeout    time.Duration
}

// Storage implements domain.VectorStore on Qdrant.
type Storage struct {
	mu          sync.RWMutex
	cfg         Config
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	opened      bool
}

// NewStorage creates a store. The connection is established lazily.
func NewStorage(cfg Config) *Storage {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Storage{cfg: cfg}
}

func (s *Storage) pointID(id string) *pb.PointId {
	u := uuid.NewSHA1(pointNamespace, []byte(s.cfg.Collection+"/"+id))
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: u.String()}}
}

func (s *Storage) manifestID() *pb.PointId {
	return s.pointID("\x00manifest")
}

// connect dials Qdrant. Caller holds s.mu.
func (s *Storage) connect() error {
	if s.conn != nil {
		return nil
	}
	conn, err := grpc.NewClient(s.cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return goerr.Wrap(domain.ErrIndexUnavailable, "failed to dial qdrant",
			goerr.V("addr", s.cfg.Addr), goerr.V("cause", err.Error()))
	}
	s.conn = conn
	s.points = pb.NewPointsClient(conn)
	s.collections = pb.NewCollectionsClient(conn)
	return nil
}

func (s *Storage) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

func (s *Storage) OpenOrCreate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	if err := s.connect(); err != nil {
		return err
	}

	exists, err := s.exists(ctx, s.cfg.Collection)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.create(ctx); err != nil {
			return err
		}
		s.opened = true
		return nil
	}

	model, dim, err := s.readManifest(ctx)
	if err != nil {
		return err
	}
	if model != s.cfg.Model || dim != s.cfg.Dimension {
		return goerr.Wrap(domain.ErrModelMismatch, "collection was built with another embedding model",
			goerr.V(domain.KeyCollection, s.cfg.Collection), goerr.V(domain.KeyModel, model), goerr.V(domain.KeyDimension, dim))
	}
	s.opened = true
	return nil
}

func (s *Storage) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connect(); err != nil {
		return false, err
	}
	return s.exists(ctx, name)
}

func (s *Storage) exists(ctx context.Context, name string) (bool, error) {
	cctx, cancel := s.call(ctx)
	defer cancel()
	list, err := s.collections.List(cctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, goerr.Wrap(domain.ErrIndexUnavailable, "failed to list collections", goerr.V("cause", err.Error()))
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return true, nil
		}
	}
	return false, nil
}

// create makes the collection and writes its manifest. Caller holds s.mu.
func (s *Storage) create(ctx context.Context) error {
	if s.cfg.Dimension < 1 {
		return goerr.Wrap(domain.ErrIndexUnavailable, "invalid collection dimension", goerr.V(domain.KeyDimension, s.cfg.Dimension))
	}
	cctx, cancel := s.call(ctx)
	defer cancel()

	_, err := s.collections.Create(cctx, &pb.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.cfg.Dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return goerr.Wrap(domain.ErrIndexUnavailable, "failed to create collection",
			goerr.V(domain.KeyCollection, s.cfg.Collection), goerr.V("cause", err.Error()))
	}

	// any non-zero vector will do; the manifest is filtered out of searches
	vec := make([]float32, s.cfg.Dimension)
	vec[0] = 1
	wait := true
	_, err = s.points.Upsert(cctx, &pb.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      s.manifestID(),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}}},
			Payload: map[string]*pb.Value{
				keyKind:  toValue(kindManifest),
				keyModel: toValue(s.cfg.Model),
				keyDim:   toValue(int64(s.cfg.Dimension)),
			},
		}},
	})
	if err != nil {
		return goerr.Wrap(domain.ErrIndexUnavailable, "failed to write collection manifest",
			goerr.V(domain.KeyCollection, s.cfg.Collection), goerr.V("cause", err.Error()))
	}
	logging.From(ctx).Info("created qdrant collection", "collection", s.cfg.Collection, "model", s.cfg.Model)
	return nil
}

func (s *Storage) readManifest(ctx context.Context) (string, int, error) {
	cctx, cancel := s.call(ctx)
	defer cancel()
	resp, err := s.points.Get(cctx, &pb.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            []*pb.PointId{s.manifestID()},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return "", 0, goerr.Wrap(domain.ErrIndexUnavailable, "failed to read collection manifest",
			goerr.V(domain.KeyCollection, s.cfg.Collection), goerr.V("cause", err.Error()))
	}
	if len(resp.GetResult()) == 0 {
		return "", 0, goerr.Wrap(domain.ErrModelMismatch, "collection has no manifest",
			goerr.V(domain.KeyCollection, s.cfg.Collection))
	}
	p := resp.GetResult()[0].GetPayload()
	return p[keyModel].GetStringValue(), int(p[keyDim].GetIntegerValue()), nil
}

func (s *Storage) requireOpen() error {
	if !s.opened {
		return goerr.Wrap(domain.ErrIndexUnavailable, "collection is not open", goerr.V(domain.KeyCollection, s.cfg.Collection))
	}
	return nil
}

func (s *Storage) Add(ctx context.Context, entries []domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireOpen(); err != nil {
		return err
	}
	if err := vectorstore.ValidateEntries(s.cfg.Collection, s.cfg.Dimension, entries); err != nil {
		return err
	}
	for _, e := range entries {
		for k := range e.Metadata {
			if strings.HasPrefix(k, reservedPrefix) {
				return goerr.Wrap(domain.ErrInvalidRequest, "metadata key is reserved",
					goerr.V(domain.KeyID, e.ID), goerr.V("key", k))
			}
		}
	}
	if len(entries) == 0 {
		return nil
	}

	ids := make([]*pb.PointId, len(entries))
	for i, e := range entries {
		ids[i] = s.pointID(e.ID)
	}
	cctx, cancel := s.call(ctx)
	defer cancel()

	existing, err := s.points.Get(cctx, &pb.GetPoints{CollectionName: s.cfg.Collection, Ids: ids})
	if err != nil {
		return goerr.Wrap(err, "failed to look up entries", goerr.V(domain.KeyCollection, s.cfg.Collection))
	}
	if len(existing.GetResult()) > 0 {
		return goerr.Wrap(domain.ErrDuplicateID, "entry id already stored",
			goerr.V(domain.KeyCollection, s.cfg.Collection), goerr.V("point", existing.GetResult()[0].GetId().GetUuid()))
	}

	base, err := s.count(ctx)
	if err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(entries))
	for i, e := range entries {
		payload := make(map[string]*pb.Value, len(e.Metadata)+4)
		for k, v := range e.Metadata {
			payload[k] = toValue(v)
		}
		payload[keyKind] = toValue(kindEntry)
		payload[keyID] = toValue(e.ID)
		payload[keyDocument] = toValue(e.Document)
		payload[keySeq] = toValue(int64(base + i))

		points[i] = &pb.PointStruct{
			Id:      ids[i],
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: e.Embedding}}},
			Payload: payload,
		}
	}

	wait := true
	if _, err := s.points.Upsert(cctx, &pb.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return goerr.Wrap(err, "failed to upsert entries",
			goerr.V(domain.KeyCollection, s.cfg.Collection), goerr.V("count", len(points)))
	}
	return nil
}

func (s *Storage) Query(ctx context.Context, embedding []float32, k int) ([]domain.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireOpen(); err != nil {
		return nil, err
	}
	if k < 1 {
		return []domain.Neighbor{}, nil
	}
	if len(embedding) != s.cfg.Dimension {
		return nil, goerr.Wrap(domain.ErrModelMismatch, "query dimension mismatch",
			goerr.V(domain.KeyCollection, s.cfg.Collection), goerr.V(domain.KeyDimension, len(embedding)))
	}

	cctx, cancel := s.call(ctx)
	defer cancel()
	resp, err := s.points.Search(cctx, &pb.SearchPoints{
		CollectionName: s.cfg.Collection,
		Vector:         embedding,
		Limit:          uint64(k),
		Filter:         &pb.Filter{Must: []*pb.Condition{fieldMatch(keyKind, kindEntry)}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "failed to search",
			goerr.V(domain.KeyCollection, s.cfg.Collection), goerr.V("cause", err.Error()))
	}

	type hit struct {
		n   domain.Neighbor
		seq int64
	}
	hits := make([]hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		n := domain.Neighbor{Metadata: domain.Metadata{}, Distance: 1 - float64(r.GetScore())}
		var seq int64
		for key, val := range r.GetPayload() {
			switch key {
			case keyKind:
			case keyID:
				n.ID = val.GetStringValue()
			case keyDocument:
				n.Document = val.GetStringValue()
			case keySeq:
				seq = val.GetIntegerValue()
			default:
				n.Metadata[key] = fromValue(val)
			}
		}
		hits = append(hits, hit{n: n, seq: seq})
	}
	// Qdrant does not order ties; fall back to insertion order
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].n.Distance != hits[j].n.Distance {
			return hits[i].n.Distance < hits[j].n.Distance
		}
		return hits[i].seq < hits[j].seq
	})

	out := make([]domain.Neighbor, len(hits))
	for i, h := range hits {
		out[i] = h.n
	}
	return out, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.requireOpen(); err != nil {
		return 0, err
	}
	return s.count(ctx)
}

func (s *Storage) count(ctx context.Context) (int, error) {
	cctx, cancel := s.call(ctx)
	defer cancel()
	exact := true
	resp, err := s.points.Count(cctx, &pb.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         &pb.Filter{Must: []*pb.Condition{fieldMatch(keyKind, kindEntry)}},
		Exact:          &exact,
	})
	if err != nil {
		return 0, goerr.Wrap(domain.ErrIndexUnavailable, "failed to count entries",
			goerr.V(domain.KeyCollection, s.cfg.Collection), goerr.V("cause", err.Error()))
	}
	return int(resp.GetResult().GetCount()), nil
}

func (s *Storage) Info(ctx context.Context) (domain.CollectionInfo, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return domain.CollectionInfo{}, err
	}
	return domain.CollectionInfo{
		Name:           s.cfg.Collection,
		DocumentCount:  n,
		Dimension:      s.cfg.Dimension,
		EmbeddingModel: s.cfg.Model,
	}, nil
}

func (s *Storage) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connect(); err != nil {
		return err
	}

	exists, err := s.exists(ctx, s.cfg.Collection)
	if err != nil {
		return err
	}
	if exists {
		cctx, cancel := s.call(ctx)
		_, err := s.collections.Delete(cctx, &pb.DeleteCollection{CollectionName: s.cfg.Collection})
		cancel()
		if err != nil {
			return goerr.Wrap(domain.ErrIndexUnavailable, "failed to delete collection",
				goerr.V(domain.KeyCollection, s.cfg.Collection), goerr.V("cause", err.Error()))
		}
	}
	if err := s.create(ctx); err != nil {
		return err
	}
	s.opened = true
	return nil
}

// Drop deletes the collection. It is meant for tests and tooling.
func (s *Storage) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connect(); err != nil {
		return err
	}
	cctx, cancel := s.call(ctx)
	defer cancel()
	if _, err := s.collections.Delete(cctx, &pb.DeleteCollection{CollectionName: s.cfg.Collection}); err != nil {
		return goerr.Wrap(err, "failed to delete collection", goerr.V(domain.KeyCollection, s.cfg.Collection))
	}
	s.opened = false
	return nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return goerr.Wrap(err, "failed to close qdrant connection")
	}
	return nil
}

func toValue(v any) *pb.Value {
	switch tv := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: rv.Int()}}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(rv.Uint())}}
	case reflect.Float32, reflect.Float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: rv.Float()}}
	}
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(v)}}
}

func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	default:
		return fmt.Sprint(v)
	}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
