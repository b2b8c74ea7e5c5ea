package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"trustvoice/internal/domain"
	"trustvoice/internal/server"
)

type fakeService struct {
	gotQuery string
	gotTopK  int
	infoErr  error
}

func (f *fakeService) SearchSimilar(_ context.Context, query string, topK int) ([]domain.SearchResult, error) {
	f.gotQuery, f.gotTopK = query, topK
	if topK < 0 {
		return nil, goerr.Wrap(domain.ErrInvalidRequest, "top_k must be at least 1")
	}
	return []domain.SearchResult{{
		ID:       "complaint_0",
		Score:    0.9,
		Metadata: domain.Metadata{"product": "Credit card"},
		Document: "Charged twice.",
	}}, nil
}

func (f *fakeService) Answer(_ context.Context, query string, topK int) (*domain.Answer, error) {
	f.gotQuery, f.gotTopK = query, topK
	return &domain.Answer{
		Text:    "Duplicate charges.",
		Outcome: domain.OutcomeGenerated,
		Sources: []domain.Source{{ID: "complaint_0", Score: 0.9, Excerpt: "Charged twice."}},
	}, nil
}

func (f *fakeService) Info(context.Context) (domain.CollectionInfo, error) {
	if f.infoErr != nil {
		return domain.CollectionInfo{}, f.infoErr
	}
	return domain.CollectionInfo{Name: "financial_complaints", DocumentCount: 2, Dimension: 384, EmbeddingModel: "all-minilm"}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSearchEndpoint(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, server.New(svc), http.MethodGet, "/api/search?q=card+charged+twice&top_k=3", "")
	gt.Value(t, rec.Code).Equal(http.StatusOK)
	gt.Value(t, svc.gotQuery).Equal("card charged twice")
	gt.Value(t, svc.gotTopK).Equal(3)

	var resp []map[string]any
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp)).Required()
	gt.Array(t, resp).Length(1)
	gt.Value(t, resp[0]["id"]).Equal("complaint_0")
	gt.Value(t, resp[0]["similarity_score"]).Equal(0.9)
	gt.Value(t, resp[0]["product"]).Equal("Credit card")
	gt.Value(t, resp[0]["document"]).Equal("Charged twice.")
}

func TestAnswerEndpoint(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, server.New(svc), http.MethodPost, "/api/answer", `{"question":"why?"}`)
	gt.Value(t, rec.Code).Equal(http.StatusOK)
	gt.Value(t, svc.gotTopK).Equal(0)

	var resp struct {
		Answer  string `json:"answer"`
		Outcome string `json:"outcome"`
		Sources []struct {
			ID      string `json:"id"`
			Excerpt string `json:"excerpt"`
		} `json:"sources"`
	}
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp)).Required()
	gt.Value(t, resp.Answer).Equal("Duplicate charges.")
	gt.Value(t, resp.Outcome).Equal("generated")
	gt.Value(t, resp.Sources[0].Excerpt).Equal("Charged twice.")
}

func TestInvalidRequestsAreBadRequest(t *testing.T) {
	h := server.New(&fakeService{})

	gt.Value(t, do(t, h, http.MethodPost, "/api/answer", `{"question":`).Code).Equal(http.StatusBadRequest)
	gt.Value(t, do(t, h, http.MethodPost, "/api/answer", `{"question":"x","unknown":1}`).Code).Equal(http.StatusBadRequest)
	gt.Value(t, do(t, h, http.MethodGet, "/api/search?q=x&top_k=ten", "").Code).Equal(http.StatusBadRequest)

	rec := do(t, h, http.MethodGet, "/api/search?q=x&top_k=-1", "")
	gt.Value(t, rec.Code).Equal(http.StatusBadRequest)
	gt.String(t, rec.Body.String()).Contains("top_k")
}

func TestInfoEndpoint(t *testing.T) {
	rec := do(t, server.New(&fakeService{}), http.MethodGet, "/api/info", "")
	gt.Value(t, rec.Code).Equal(http.StatusOK)

	var info domain.CollectionInfo
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info)).Required()
	gt.Value(t, info.Name).Equal("financial_complaints")
	gt.Value(t, info.DocumentCount).Equal(2)

	svc := &fakeService{infoErr: goerr.Wrap(domain.ErrIndexUnavailable, "collection is not open")}
	rec = do(t, server.New(svc), http.MethodGet, "/api/info", "")
	gt.Value(t, rec.Code).Equal(http.StatusInternalServerError)
}

func TestHealthz(t *testing.T) {
	rec := do(t, server.New(&fakeService{}).Handler(), http.MethodGet, "/healthz", "")
	gt.Value(t, rec.Code).Equal(http.StatusOK)
	gt.Value(t, rec.Body.String()).Equal("ok")
}
