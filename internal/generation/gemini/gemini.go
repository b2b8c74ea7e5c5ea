// Package gemini generates answers through a gollem LLM session.
package gemini

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"

	"trustvoice/internal/domain"
)

const systemPrompt = "You answer questions about consumer financial complaints. " +
	"Use only the complaint excerpts given in the prompt."

// charsPerToken approximates the token budget for clipping, since the
// session API has no per-call output limit.
const charsPerToken = 4

// Generator implements domain.Generator with a gollem.LLMClient.
type Generator struct {
	client gollem.LLMClient
}

// New creates a generator. client must not be nil.
func New(client gollem.LLMClient) (*Generator, error) {
	if client == nil {
		return nil, goerr.New("llm client is required")
	}
	return &Generator{client: client}, nil
}

func (g *Generator) Name() string { return "gemini" }

// Generate runs one single-turn session and returns its text, clipped to
// opts.MaxTokens.
func (g *Generator) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	session, err := g.client.NewSession(ctx, gollem.WithSessionSystemPrompt(systemPrompt))
	if err != nil {
		return "", goerr.Wrap(err, "failed to create session")
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(prompt))
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content")
	}
	if resp == nil || len(resp.Texts) == 0 {
		return "", goerr.New("gemini returned no text")
	}

	text := strings.Join(resp.Texts, "")
	if opts.MaxTokens > 0 {
		text = clipWords(text, opts.MaxTokens*charsPerToken)
	}
	return text, nil
}

func clipWords(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	cut := string(r[:maxChars])
	if i := strings.LastIndexAny(cut, " \n\t"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
