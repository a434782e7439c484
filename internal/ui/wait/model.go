// Package wait shows a spinner while a question waits for its answer.
package wait

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/humanloop/internal/keys"
	"github.com/nhle/humanloop/internal/model"
	"github.com/nhle/humanloop/internal/theme"
)

// ResultMsg carries the outcome of the wait.
type ResultMsg struct {
	Task *model.Task
	Err  error
}

// Model is the Bubble Tea model for the waiting view.
type Model struct {
	question string
	channel  string
	spinner  spinner.Model
	help     help.Model
	keys     *keys.KeyMap
	start    time.Time
	now      func() time.Time

	result      *ResultMsg
	interrupted bool
	width       int
}

// New creates the waiting view for question sent through channelType.
func New(question, channelType string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.SpinnerStyle

	return Model{
		question: question,
		channel:  channelType,
		spinner:  sp,
		help:     help.New(),
		keys:     keys.DefaultKeyMap(),
		start:    time.Now(),
		now:      time.Now,
		width:    80,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles key presses, spinner ticks and the final result.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Cancel) {
			m.interrupted = true
			return m, tea.Quit
		}
		return m, nil

	case ResultMsg:
		m.result = &msg
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// Interrupted reports whether the user quit before an answer arrived.
func (m Model) Interrupted() bool {
	return m.interrupted
}

// View renders the question and either the spinner or the outcome.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(theme.HeaderStyle.Render("humanloop"))
	b.WriteString(" ")
	b.WriteString(theme.ChannelLabelStyle(m.channel).Render(m.channel))
	b.WriteString("\n\n")

	panel := theme.PanelStyle.Width(max(m.width-4, 20))
	b.WriteString(panel.Render(m.question))
	b.WriteString("\n\n")

	switch {
	case m.result != nil && m.result.Err != nil:
		b.WriteString(theme.StatusStyle(string(model.TaskFailed)).Render("No answer: "))
		b.WriteString(m.result.Err.Error())
		b.WriteString("\n")
	case m.result != nil:
		b.WriteString(theme.StatusStyle(string(model.TaskAnswered)).Render("Answer"))
		b.WriteString("\n")
		b.WriteString(panel.Render(m.result.Task.Answer))
		b.WriteString("\n")
	case m.interrupted:
		b.WriteString(theme.HelpStyle.Render("Canceled."))
		b.WriteString("\n")
	default:
		elapsed := m.now().Sub(m.start).Truncate(time.Second)
		fmt.Fprintf(&b, "%s %s %s\n\n",
			m.spinner.View(),
			theme.StatusStyle(string(model.TaskPending)).Render("Waiting for an answer"),
			lipgloss.NewStyle().Foreground(theme.ColorGray).Render(elapsed.String()),
		)
		b.WriteString(m.help.View(m.keys))
		b.WriteString("\n")
	}

	return b.String()
}

// Run shows the waiting view on stderr while ask runs. Quitting the view
// cancels the context passed to ask.
func Run(ctx context.Context, question, channelType string, ask func(context.Context) (*model.Task, error)) (*model.Task, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(question, channelType), tea.WithOutput(os.Stderr), tea.WithContext(ctx))

	done := make(chan ResultMsg, 1)
	go func() {
		task, err := ask(ctx)
		res := ResultMsg{Task: task, Err: err}
		done <- res
		p.Send(res)
	}()

	_, runErr := p.Run()
	cancel()
	res := <-done
	if runErr != nil && res.Err == nil && res.Task == nil {
		return nil, fmt.Errorf("running wait view: %w", runErr)
	}
	return res.Task, res.Err
}
