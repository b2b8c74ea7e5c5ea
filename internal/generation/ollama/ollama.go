// Package ollama generates answers with a local Ollama model.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"trustvoice/internal/domain"
)

// Config configures the Ollama generator.
type Config struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

// Generator implements domain.Generator against /api/generate.
type Generator struct {
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
}

// New creates an Ollama generator.
func New(cfg Config) *Generator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Generator{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the name of the generator.
func (g *Generator) Name() string { return "ollama:" + g.model }

type generateOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate sends a prompt to the Ollama API and returns the generated text.
func (g *Generator) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	url := fmt.Sprintf("%s/api/generate", g.baseURL)

	body, err := json.Marshal(generateRequest{
		Model:  g.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			NumPredict:  opts.MaxTokens,
			Temperature: g.temperature,
		},
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", goerr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", goerr.Wrap(err, "ollama api request failed", goerr.V(domain.KeyModel, g.model))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read ollama response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", goerr.New("ollama api error",
			goerr.V("status", resp.StatusCode), goerr.V("body", string(data)), goerr.V(domain.KeyModel, g.model))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", goerr.Wrap(err, "failed to unmarshal response")
	}
	if out.Error != "" {
		return "", goerr.New("ollama returned an error", goerr.V("error", out.Error))
	}
	return out.Response, nil
}
