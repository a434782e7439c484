package wait

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/humanloop/internal/model"
)

func TestViewWhileWaiting(t *testing.T) {
	m := New("Deploy to prod?", "email")
	start := m.start
	m.now = func() time.Time { return start.Add(42 * time.Second) }

	view := m.View()
	assert.Contains(t, view, "Deploy to prod?")
	assert.Contains(t, view, "Waiting for an answer")
	assert.Contains(t, view, "42s")
}

func TestResultQuits(t *testing.T) {
	m := New("Deploy?", "mockchat")

	updated, cmd := m.Update(ResultMsg{Task: &model.Task{Answer: "go"}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	view := updated.View()
	assert.Contains(t, view, "Answer")
	assert.Contains(t, view, "go")
}

func TestErrorResult(t *testing.T) {
	m := New("Deploy?", "email")

	updated, _ := m.Update(ResultMsg{Err: errors.New("smtp down")})
	assert.Contains(t, updated.View(), "smtp down")
}

func TestCtrlCInterrupts(t *testing.T) {
	m := New("Deploy?", "email")

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, updated.(Model).Interrupted())
	assert.Contains(t, updated.View(), "Canceled")
}

func TestOtherKeysIgnored(t *testing.T) {
	m := New("Deploy?", "email")

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Nil(t, cmd)
	assert.False(t, updated.(Model).Interrupted())
}
