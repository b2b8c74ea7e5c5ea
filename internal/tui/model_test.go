package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/m-mizutani/gt"

	"trustvoice/internal/domain"
)

type fakePort struct {
	gotQuery string
	gotTopK  int
	err      error
}

func (p *fakePort) Answer(_ context.Context, query string, topK int) (*domain.Answer, error) {
	p.gotQuery, p.gotTopK = query, topK
	if p.err != nil {
		return nil, p.err
	}
	return &domain.Answer{
		Text:    "Customers were charged twice.",
		Outcome: domain.OutcomeGenerated,
		Sources: []domain.Source{{
			ID:       "complaint_0",
			Score:    0.87,
			Metadata: domain.Metadata{"product": "Credit card"},
			Excerpt:  "I opened the account. My card was charged twice.",
		}},
	}, nil
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

func TestAskRoundTrip(t *testing.T) {
	port := &fakePort{}
	m := sized(New(port, 3, time.Second))

	m.input.SetValue("  why charged twice?  ")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	gt.Value(t, cmd).NotNil()
	gt.Bool(t, m.busy).True()
	gt.Value(t, m.input.Value()).Equal("")
	gt.Array(t, m.turns).Length(1)

	// a second question is ignored while the first is in flight
	m.input.SetValue("another")
	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	gt.Value(t, cmd).Nil()
	gt.Array(t, m.turns).Length(1)

	msg := m.ask("why charged twice?")()
	gt.Value(t, port.gotQuery).Equal("why charged twice?")
	gt.Value(t, port.gotTopK).Equal(3)

	next, _ = m.Update(msg)
	m = next.(Model)
	gt.Bool(t, m.busy).False()
	gt.String(t, m.status).Contains("1 complaints")

	view := m.renderTranscript()
	gt.String(t, view).Contains("You: why charged twice?")
	gt.String(t, view).Contains("Customers were charged twice.")
	gt.String(t, view).Contains("complaint_0 · Credit card")
	gt.String(t, view).Contains("score=0.870")
}

func TestSourcesToggle(t *testing.T) {
	m := sized(New(&fakePort{}, 5, 0))
	m.turns = []turn{{question: "q"}}
	next, _ := m.Update(m.ask("q")())
	m = next.(Model)
	gt.String(t, m.renderTranscript()).Contains("Sources (1):")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	gt.Bool(t, strings.Contains(m.renderTranscript(), "Sources (")).False()
}

func TestUpDownCyclesSources(t *testing.T) {
	m := sized(New(&fakePort{}, 5, 0))
	m.turns = []turn{{question: "fees", answer: &domain.Answer{
		Text:    "a",
		Outcome: domain.OutcomeGenerated,
		Sources: []domain.Source{{ID: "complaint_0"}, {ID: "complaint_1"}, {ID: "complaint_2"}},
	}}}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	gt.Value(t, m.cursor).Equal(1)
	gt.String(t, m.renderTranscript()).Contains("▸ [complaint_1]")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	gt.Value(t, m.cursor).Equal(2)
}

func TestAnswerErrorIsShown(t *testing.T) {
	m := sized(New(&fakePort{err: errors.New("query is empty")}, 5, 0))
	m.turns = []turn{{question: "q"}}
	m.busy = true

	next, _ := m.Update(m.ask("q")())
	m = next.(Model)
	gt.String(t, m.status).Contains("query is empty")
	gt.String(t, m.renderTranscript()).Contains("Error: query is empty")
}

func TestClearAndQuit(t *testing.T) {
	m := sized(New(&fakePort{}, 5, 0))
	m.turns = []turn{{question: "q", answer: &domain.Answer{Text: "a"}}}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	m = next.(Model)
	gt.Array(t, m.turns).Length(0)
	gt.Value(t, m.renderTranscript()).Equal("No questions yet.")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	gt.Value(t, cmd).NotNil()
	_, ok := cmd().(tea.QuitMsg)
	gt.Bool(t, ok).True()
}

func TestViewBeforeSize(t *testing.T) {
	gt.Value(t, New(&fakePort{}, 5, 0).View()).Equal("Loading...")
}

func TestHighlightBestSentenceKeepsAllText(t *testing.T) {
	got := highlightBestSentence("I opened the account. My card was charged twice.", "charged twice")
	gt.String(t, got).Contains("I opened the account.")
	gt.String(t, got).Contains("My card was charged twice.")
}
