package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStage_StringAndIcon(t *testing.T) {
	tests := []struct {
		stage Stage
		name  string
		icon  string
	}{
		{StageListing, "Listing", "LIST"},
		{StageEmbedding, "Embedding", "EMBED"},
		{StageSaving, "Saving", "SAVE"},
		{StageComplete, "Complete", "DONE"},
		{Stage(99), "Unknown", "???"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.stage.String())
			assert.Equal(t, tt.icon, tt.stage.Icon())
		})
	}
}

func TestNewRenderer_NonTTYIsPlain(t *testing.T) {
	// Given: output to a buffer
	var buf bytes.Buffer

	// When: creating a renderer
	r := NewRenderer(NewConfig(&buf, WithTarget("local")))

	// Then: plain rendering is used
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
	assert.False(t, IsTTY(&buf))
	assert.False(t, IsTTY(nil))
}

func TestNewConfig_Options(t *testing.T) {
	cfg := NewConfig(nil, WithForcePlain(true), WithNoColor(true), WithTarget("s3://bucket"))

	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "s3://bucket", cfg.Target)
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}
