// Package server exposes complaint search and grounded answers over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"trustvoice/internal/domain"
	"trustvoice/internal/logging"
)

// QueryService is the query side of the complaint service.
type QueryService interface {
	SearchSimilar(ctx context.Context, query string, topK int) ([]domain.SearchResult, error)
	Answer(ctx context.Context, query string, topK int) (*domain.Answer, error)
	Info(ctx context.Context) (domain.CollectionInfo, error)
}

type Server struct {
	router  *chi.Mux
	svc     QueryService
	timeout time.Duration
}

type Options func(*Server)

// WithRequestTimeout bounds the time spent on each request. An answer that
// runs out of time is reported as a generation error.
func WithRequestTimeout(d time.Duration) Options {
	return func(s *Server) {
		s.timeout = d
	}
}

func New(svc QueryService, opts ...Options) *Server {
	r := chi.NewRouter()
	s := &Server{router: r, svc: svc, timeout: 2 * time.Minute}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))
		r.Get("/search", s.handleSearch)
		r.Post("/answer", s.handleAnswer)
		r.Get("/info", s.handleInfo)
	})

	return s
}

// Handler returns the router wrapped with OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "trustvoice")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type answerRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type sourceResponse struct {
	ID       string          `json:"id"`
	Score    float64         `json:"score"`
	Metadata domain.Metadata `json:"metadata"`
	Excerpt  string          `json:"excerpt"`
}

type answerResponse struct {
	Answer  string           `json:"answer"`
	Outcome domain.Outcome   `json:"outcome"`
	Sources []sourceResponse `json:"sources"`
}

// handleSearch returns one flat object per complaint: its metadata fields
// plus id, similarity_score and document.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	topK := 0
	if v := r.URL.Query().Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			handleError(r.Context(), w, goerr.Wrap(domain.ErrInvalidRequest, "top_k must be an integer", goerr.V(domain.KeyTopK, v)))
			return
		}
		topK = n
	}

	results, err := s.svc.SearchSimilar(r.Context(), query, topK)
	if err != nil {
		handleError(r.Context(), w, err)
		return
	}

	resp := make([]map[string]any, len(results))
	for i, res := range results {
		row := make(map[string]any, len(res.Metadata)+3)
		for k, v := range res.Metadata {
			row[k] = v
		}
		row["id"] = res.ID
		row["similarity_score"] = res.Score
		row["document"] = res.Document
		resp[i] = row
	}
	writeJSON(r.Context(), w, resp)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAnswer(w, r)
	if err != nil {
		handleError(r.Context(), w, err)
		return
	}

	a, err := s.svc.Answer(r.Context(), req.Question, req.TopK)
	if err != nil {
		handleError(r.Context(), w, err)
		return
	}

	resp := answerResponse{
		Answer:  a.Text,
		Outcome: a.Outcome,
		Sources: make([]sourceResponse, len(a.Sources)),
	}
	for i, src := range a.Sources {
		resp.Sources[i] = sourceResponse{
			ID:       src.ID,
			Score:    src.Score,
			Metadata: src.Metadata,
			Excerpt:  src.Excerpt,
		}
	}
	writeJSON(r.Context(), w, resp)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.Info(r.Context())
	if err != nil {
		handleError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, info)
}

func decodeAnswer(w http.ResponseWriter, r *http.Request) (answerRequest, error) {
	var req answerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, goerr.Wrap(domain.ErrInvalidRequest, "malformed request body", goerr.V("cause", err.Error()))
	}
	return req, nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleError logs err with its goerr values and writes a JSON error body.
func handleError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	logger := logging.From(ctx)

	var ge *goerr.Error
	if errors.As(err, &ge) {
		logger.Error("HTTP error", "status", status, "error", err.Error(), "values", ge.Values())
	} else {
		logger.Error("HTTP error", "status", status, "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		handleError(ctx, w, goerr.Wrap(err, "failed to marshal response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data) //nolint:errcheck // header already committed
}

func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.From(r.Context()).Info("access",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
