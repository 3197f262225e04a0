package sharemodal

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/auth"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/share"
)

type nopSharer struct{}

func (nopSharer) ShareTask(context.Context, string, []string) (*model.Task, error) {
	return &model.Task{}, nil
}

func openModal(t *testing.T) (Model, *share.Selection) {
	t.Helper()
	sess := auth.NewStaticSession("tok", "me", time.Now().Add(time.Hour))
	sel := share.NewSelection(nopSharer{}, sess, nil, nil)
	dir := share.StaticDirectory{
		{ID: "1", Name: "John Doe", Email: "john@example.com"},
		{ID: "2", Name: "Jane Smith", Email: "jane@example.com"},
	}
	require.NoError(t, sel.Open(context.Background(), model.Task{ID: "t1", Title: "Plan"}, dir))

	m := New(80, 24)
	m.Start(sel)
	return m, sel
}

func typeText(m Model, s string) Model {
	for _, r := range s {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func TestEnterWithEmptySelectionShowsError(t *testing.T) {
	m, _ := openModal(t)

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "select at least one user")
}

func TestSearchThenToggleThenConfirm(t *testing.T) {
	m, sel := openModal(t)

	m = typeText(m, "jane")
	assert.NotContains(t, m.View(), "John Doe")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, []string{"2"}, sel.Selected())
	assert.Contains(t, m.View(), "[x] Jane Smith")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, ConfirmMsg{}, cmd())
}

func TestSelectionSurvivesSearchChanges(t *testing.T) {
	m, sel := openModal(t)

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = typeText(m, "john")
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})

	assert.Equal(t, []string{"1", "2"}, sel.Selected())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, CancelMsg{}, cmd())
}
