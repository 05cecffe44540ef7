package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainRenderer_ThrottlesToTenthPercents(t *testing.T) {
	// Given: a plain renderer
	var buf bytes.Buffer
	r := NewPlainRenderer(NewConfig(&buf))
	require.NoError(t, r.Start(context.Background()))

	// When: reporting every item of a 100-item stage
	for i := 1; i <= 100; i++ {
		r.UpdateProgress(ProgressEvent{Stage: StageEmbedding, Current: i, Total: 100, ContentID: "q"})
	}

	// Then: one line per ten percent, and the final item
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 11)
	assert.Equal(t, "[EMBED] 1/100 - q", lines[0])
	assert.Equal(t, "[EMBED] 100/100 - q", lines[len(lines)-1])
}

func TestPlainRenderer_MessagesAndErrors(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(NewConfig(&buf))

	r.UpdateProgress(ProgressEvent{Stage: StageListing, Message: "reading content"})
	r.AddError(ErrorEvent{ContentID: "bio", Err: errors.New("embed failed"), IsWarn: true})
	r.AddError(ErrorEvent{Err: errors.New("boom")})

	out := buf.String()
	assert.Contains(t, out, "[LIST] reading content\n")
	assert.Contains(t, out, "WARN: bio: embed failed\n")
	assert.Contains(t, out, "ERROR: boom\n")
}

func TestPlainRenderer_Complete(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(NewConfig(&buf))

	r.Complete(CompletionStats{
		Items: 10, Indexed: 8, Chunks: 40, Dropped: 2, Version: 7,
		Duration: 1500 * time.Millisecond,
		Embedder: EmbedderInfo{Provider: "static", Model: "static-hash", Dimensions: 64},
	})
	require.NoError(t, r.Stop())

	out := buf.String()
	assert.Contains(t, out, "Complete: 8 of 10 items indexed, 40 chunks, version 7 in 1.5s (2 chunks dropped)")
	assert.Contains(t, out, "Embedder: static (static-hash, 64 dims)")
}
