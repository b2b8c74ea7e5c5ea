package answer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"

	"trustvoice/internal/excerpt"
)

const (
	// NoContextAnswer is returned when retrieval finds nothing to ground an answer on.
	NoContextAnswer = "No relevant context found to answer the question."

	// NotEnoughInformation is the phrase the model is told to use when the
	// context cannot answer the question.
	NotEnoughInformation = "not enough information"

	generationErrorPrefix = "generation error: "
)

const promptTemplate = `You are a financial analyst assistant for CrediTrust. Your task is to answer questions about customer complaints.
Use only the following retrieved complaint excerpts to formulate your answer. If the context doesn't contain the answer, state that you don't have ` + NotEnoughInformation + `.

Context:
%s

Question: %s

Answer:`

var templateOverhead = utf8.RuneCountInString(fmt.Sprintf(promptTemplate, "", ""))

// Prompt is a grounding prompt together with the number of ranked excerpts
// that made it into the context.
type Prompt struct {
	Text string
	Used int
}

// BuildPrompt assembles the grounding prompt from excerpts given best first,
// keeping the whole prompt within maxChars characters. Lower ranked excerpts
// are dropped first. When even the best excerpt does not fit it is clipped.
func BuildPrompt(question string, excerpts []string, maxChars int) (Prompt, error) {
	question = strings.TrimSpace(question)
	if half := maxChars / 2; utf8.RuneCountInString(question) > half {
		question = excerpt.Clip(question, half)
	}

	budget := maxChars - templateOverhead - utf8.RuneCountInString(question)
	if budget <= 0 || len(excerpts) == 0 {
		return Prompt{}, goerr.New("prompt budget leaves no room for context",
			goerr.V("max_prompt_chars", maxChars))
	}

	var (
		parts []string
		size  int
	)
	for _, e := range excerpts {
		n := utf8.RuneCountInString(e)
		if len(parts) > 0 {
			n++ // newline separator
		}
		if size+n > budget {
			break
		}
		parts = append(parts, e)
		size += n
	}

	if len(parts) == 0 {
		clipped := excerpt.Clip(excerpts[0], budget)
		if clipped == "" {
			return Prompt{}, goerr.New("prompt budget leaves no room for context",
				goerr.V("max_prompt_chars", maxChars))
		}
		parts = []string{clipped}
	}

	return Prompt{
		Text: fmt.Sprintf(promptTemplate, strings.Join(parts, "\n"), question),
		Used: len(parts),
	}, nil
}
