// Package remote embeds text over HTTP. Two wire shapes are supported:
// OpenAI-compatible POST {base}/embeddings (OpenAI, Ollama's /v1) and
// Ollama's native POST {base}/api/embed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// API selects the endpoint and its request shape.
type API string

const (
	// APIOpenAI posts {"model","input"} to {base}/embeddings and reads data[].embedding.
	APIOpenAI API = "openai"
	// APIOllama posts {"model","input"} to {base}/api/embed and reads embeddings[].
	APIOllama API = "ollama"
)

// Client is an embeddings client implementing embedding.Model.
type Client struct {
	api        API
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	client     *http.Client
	maxRetries uint64
	backoff    time.Duration
	limiter    *rate.Limiter
}

// Config configures the embeddings client.
type Config struct {
	// API defaults to APIOpenAI.
	API       API
	BaseURL   string
	APIKeyEnv string
	Model     string
	Dimension int
	Timeout   time.Duration
	// MaxRetries bounds retries of 429, 5xx and transport failures.
	MaxRetries int
	// RequestsPerSecond limits the request rate; zero disables limiting.
	RequestsPerSecond float64
	// Backoff is the first retry delay, doubled on each attempt.
	Backoff time.Duration
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, goerr.New("missing API key", goerr.V("env", cfg.APIKeyEnv))
		}
	}
	switch cfg.API {
	case "":
		cfg.API = APIOpenAI
	case APIOpenAI, APIOllama:
	default:
		return nil, goerr.New("unknown embeddings API", goerr.V("api", cfg.API))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434/v1"
		if cfg.API == APIOllama {
			cfg.BaseURL = "http://localhost:11434"
		}
	}
	if cfg.Model == "" {
		cfg.Model = "all-minilm"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	c := &Client{
		api:        cfg.API,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     key,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: t},
		maxRetries: uint64(cfg.MaxRetries),
		backoff:    cfg.Backoff,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Settings is the resolved client configuration, safe to log.
type Settings struct {
	API     API
	URL     string
	Model   string
	APIKey  string `masq:"secret"`
	Retries uint64
}

// Settings returns the endpoint and credentials the client will use.
func (c *Client) Settings() Settings {
	return Settings{API: c.api, URL: c.endpoint(), Model: c.model, APIKey: c.apiKey, Retries: c.maxRetries}
}

// Name returns the remote model name.
func (c *Client) Name() string { return c.model }

// Dimension returns the configured dimension, or 0 when it is only known
// after the first response.
func (c *Client) Dimension() int { return c.dimension }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *Client) endpoint() string {
	if c.api == APIOllama {
		return c.baseURL + "/api/embed"
	}
	return c.baseURL + "/embeddings"
}

// EmbedBatch returns one embedding per text, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode embeddings request")
	}

	var payload []byte
	b := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	if err := retry.Do(ctx, b, func(ctx context.Context) error {
		p, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		payload = p
		return nil
	}); err != nil {
		return nil, err
	}

	if c.api == APIOllama {
		var out ollamaResponse
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, goerr.Wrap(err, "failed to decode embeddings response", goerr.V("model", c.model))
		}
		return checkCount(out.Embeddings, len(texts))
	}

	var out openAIResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, goerr.Wrap(err, "failed to decode embeddings response", goerr.V("model", c.model))
	}
	vecs := make([][]float32, len(texts))
	for i, d := range out.Data {
		idx := d.Index
		if idx < 0 || idx >= len(vecs) {
			idx = i
		}
		if idx < len(vecs) {
			vecs[idx] = d.Embedding
		}
	}
	return checkCount(vecs, len(texts))
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, goerr.Wrap(err, "rate limiter wait failed")
		}
	}

	url := c.endpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build embeddings request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.RetryableError(goerr.Wrap(err, "embeddings request failed", goerr.V("url", url)))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		// Respect Retry-After if provided
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			wait(ctx, min(time.Duration(secs)*time.Second, 5*time.Second))
		}
		return nil, retry.RetryableError(goerr.New("embeddings request rejected",
			goerr.V("url", url), goerr.V("status", resp.Status)))
	}
	if resp.StatusCode >= 300 {
		return nil, goerr.New("embeddings request failed", goerr.V("url", url), goerr.V("status", resp.Status))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.RetryableError(goerr.Wrap(err, "failed to read embeddings response"))
	}
	return payload, nil
}

func checkCount(vecs [][]float32, want int) ([][]float32, error) {
	if len(vecs) != want {
		return nil, goerr.New("embedding count mismatch", goerr.V("expected", want), goerr.V("got", len(vecs)))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, goerr.New("empty embedding returned", goerr.V("index", i))
		}
	}
	return vecs, nil
}

func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
