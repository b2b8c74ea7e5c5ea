// Package tui is a terminal chat for asking questions about complaints.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"trustvoice/internal/domain"
	"trustvoice/internal/excerpt"
)

// AnswerPort is the chat-facing subset of the complaint service.
type AnswerPort interface {
	Answer(ctx context.Context, query string, topK int) (*domain.Answer, error)
}

type turn struct {
	question string
	answer   *domain.Answer
	err      error
}

// Model is the Bubble Tea model for the chat.
type Model struct {
	service     AnswerPort
	topK        int
	timeout     time.Duration
	input       textinput.Model
	viewport    viewport.Model
	spinner     spinner.Model
	turns       []turn
	cursor      int
	showSources bool
	busy        bool
	ready       bool
	status      string
}

// answerMsg carries a finished answer back into the update loop.
type answerMsg struct {
	question string
	answer   *domain.Answer
	err      error
}

// New creates a chat model. Each question is answered from topK complaints
// and abandoned after timeout.
func New(service AnswerPort, topK int, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about customer complaints and press Enter"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		service:     service,
		topK:        topK,
		timeout:     timeout,
		input:       ti,
		viewport:    viewport.New(0, 0),
		spinner:     sp,
		showSources: true,
		status:      "Ready. Up/down cycles sources, Tab toggles them, Ctrl+L clears.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, input box, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil

	case answerMsg:
		m.busy = false
		m.cursor = 0
		m.turns[len(m.turns)-1].answer = msg.answer
		m.turns[len(m.turns)-1].err = msg.err
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("Answered from %d complaints", len(msg.answer.Sources))
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyCtrlL:
			if !m.busy {
				m.turns = nil
				m.status = "Cleared."
				m.refresh()
			}
			return m, nil
		case tea.KeyTab:
			m.showSources = !m.showSources
			m.refresh()
			return m, nil
		case tea.KeyUp, tea.KeyDown:
			if n := len(m.latestSources()); n > 0 && m.showSources {
				if msg.Type == tea.KeyDown {
					m.cursor = (m.cursor + 1) % n
				} else {
					m.cursor = (m.cursor - 1 + n) % n
				}
				m.refresh()
				return m, nil
			}
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.input.SetValue("")
			m.turns = append(m.turns, turn{question: q})
			m.busy = true
			m.status = "Thinking..."
			m.refresh()
			return m, tea.Batch(m.spinner.Tick, m.ask(q))
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	svc, topK, timeout := m.service, m.topK, m.timeout
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		a, err := svc.Answer(ctx, q, topK)
		return answerMsg{question: q, answer: a, err: err}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("TrustVoice complaint assistant")
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + transcript + "\n" + input + "\n" + status
}

// latestSources returns the sources of the most recent answer.
func (m Model) latestSources() []domain.Source {
	if len(m.turns) == 0 {
		return nil
	}
	if a := m.turns[len(m.turns)-1].answer; a != nil {
		return a.Sources
	}
	return nil
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 {
		return "No questions yet."
	}
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("You: " + t.question))
		b.WriteString("\n")
		switch {
		case t.err != nil:
			b.WriteString(errorStyle.Render("Error: " + t.err.Error()))
		case t.answer == nil:
			b.WriteString(mutedStyle.Render("..."))
		default:
			selected := -1
			if i == len(m.turns)-1 {
				selected = m.cursor
			}
			b.WriteString(renderAnswer(t.answer, t.question, m.showSources, selected))
		}
	}
	return b.String()
}

// renderAnswer shows the answer and its sources. The selected source is
// marked and its best matching sentence highlighted; pass -1 for none.
func renderAnswer(a *domain.Answer, question string, showSources bool, selected int) string {
	text := a.Text
	if a.Outcome != domain.OutcomeGenerated {
		text = mutedStyle.Render(text)
	}
	out := "Assistant: " + text
	if !showSources || len(a.Sources) == 0 {
		return out
	}

	var b strings.Builder
	b.WriteString(out)
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("Sources (%d):", len(a.Sources))))
	for i, src := range a.Sources {
		label := src.ID
		if p := src.Metadata.String("product"); p != "" {
			label += " · " + p
		}
		marker, body := " ", src.Excerpt
		if i == selected {
			marker, body = "▸", highlightBestSentence(src.Excerpt, question)
		}
		fmt.Fprintf(&b, "\n %s [%s] score=%.3f\n    %s", marker, label, src.Score, body)
	}
	return b.String()
}

var (
	headerStyle        = lipgloss.NewStyle().Bold(true)
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	mutedStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// highlightBestSentence emphasizes the sentence of text that best matches query.
func highlightBestSentence(text, query string) string {
	sentences := excerpt.Split(text)
	if len(sentences) == 0 {
		return text
	}
	best := excerpt.Rank(sentences, query)[0]
	sentences[best] = highlightStyle.Render(sentences[best])
	return strings.Join(sentences, " ")
}
