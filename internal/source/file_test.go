package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/quizrag/internal/content"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestReadItem_Formats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bio.json", `{"status":"approved","visibility":"public","title":"Biology","subItems":[{"id":"q1","question":"What is a cell?"}]}`)
	writeFile(t, dir, "chem.yaml", "status: approved\nvisibility: private\ntitle: Chemistry\nsub_items:\n  - id: q1\n    question: What is H2O?\n")
	writeFile(t, dir, "hist.toml", "status = \"draft\"\ntitle = \"History\"\ntags = [\"war\", \"peace\"]\n")

	tests := []struct {
		file       string
		wantTitle  string
		wantStatus content.Status
	}{
		{"bio.json", "Biology", content.StatusApproved},
		{"chem.yaml", "Chemistry", content.StatusApproved},
		{"hist.toml", "History", content.StatusDraft},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			it, err := ReadItem(filepath.Join(dir, tt.file))
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, it.Title)
			assert.Equal(t, tt.wantStatus, it.Status)
			// Then: the id comes from the file name
			assert.Equal(t, strings.TrimSuffix(tt.file, filepath.Ext(tt.file)), it.ID)
		})
	}

	it, err := ReadItem(filepath.Join(dir, "chem.yaml"))
	require.NoError(t, err)
	require.Len(t, it.SubItems, 1)
	assert.Equal(t, "What is H2O?", it.SubItems[0].Question)
}

func TestReadItem_IDMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"id":"b","title":"x"}`)

	_, err := ReadItem(filepath.Join(dir, "a.json"))
	assert.ErrorContains(t, err, "does not match")
}

func TestFileSource_GetAndList(t *testing.T) {
	// Given: two valid files, one broken file and an unrelated file
	dir := t.TempDir()
	writeFile(t, dir, "b.json", `{"title":"B","status":"approved"}`)
	writeFile(t, dir, "a.yml", "title: A\nstatus: pending\n")
	writeFile(t, dir, "broken.json", `{"title":`)
	writeFile(t, dir, "notes.txt", "ignored")
	src := NewFileSource(dir)
	ctx := context.Background()

	// When: listing
	items, err := src.List(ctx)
	require.NoError(t, err)

	// Then: valid items come back sorted by id
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)

	got, err := src.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "B", got.Title)

	_, err = src.Get(ctx, "missing")
	assert.True(t, errors.Is(err, content.ErrNotFound))
	_, err = src.Get(ctx, "../etc")
	assert.True(t, errors.Is(err, content.ErrNotFound))
}

func TestFileSource_MissingDirIsEmpty(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "nope"))

	items, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestWriteItem_ReplacesOtherFormats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.yaml", "title: Old\n")

	require.NoError(t, WriteItem(dir, &content.Item{ID: "x", Title: "New"}))

	_, err := os.Stat(filepath.Join(dir, "x.yaml"))
	assert.True(t, os.IsNotExist(err))
	it, err := NewFileSource(dir).Get(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "New", it.Title)
}
