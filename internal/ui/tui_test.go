package ui

import (
	"bytes"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTUIRenderer_RequiresTTY(t *testing.T) {
	_, err := NewTUIRenderer(NewConfig(&bytes.Buffer{}))
	assert.Error(t, err)
}

func TestRebuildModel_ViewDuringProgress(t *testing.T) {
	// Given: a model whose tracker is mid-embedding
	tracker := NewProgressTracker()
	m := newRebuildModel(tracker, "local")
	m.styles = NoColorStyles()
	tracker.SetStage(StageEmbedding, 4)
	tracker.Update(2, "chem-basics")

	// When: rendering
	view := m.View()

	// Then: stage, count and current item are shown
	assert.Contains(t, view, "quizrag rebuild • local")
	assert.Contains(t, view, "● Listing")
	assert.Contains(t, view, "Embedding")
	assert.Contains(t, view, "2 / 4 items")
	assert.Contains(t, view, "chem-basics")
}

func TestRebuildModel_CompleteQuits(t *testing.T) {
	m := newRebuildModel(NewProgressTracker(), "")
	m.styles = NoColorStyles()

	next, cmd := m.Update(completeMsg(CompletionStats{Items: 3, Indexed: 3, Chunks: 9, Version: 2, Duration: 2 * time.Second}))
	require.NotNil(t, cmd)

	view := next.View()
	assert.Contains(t, view, "Rebuild complete")
	assert.Contains(t, view, "3 / 3")
}

func TestRebuildModel_CtrlCCancels(t *testing.T) {
	m := newRebuildModel(NewProgressTracker(), "")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	assert.Equal(t, "Cancelled.\n", next.View())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "2m", formatDuration(2*time.Minute))
	assert.Equal(t, "2m 5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 30m", formatDuration(90*time.Minute))
}
