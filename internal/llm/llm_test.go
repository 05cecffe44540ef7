package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/quizrag/internal/config"
	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
)

func TestOllamaGenerator_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen3:0.6b", req.Model)
		assert.False(t, req.Stream)
		assert.Contains(t, req.Prompt, "math")

		_ = json.NewEncoder(w).Encode(generateResponse{Response: "<think>hmm</think>\n  math quizzes for grade 5 ", Done: true})
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL})
	out, err := g.Generate(context.Background(), "what about math?")

	require.NoError(t, err)
	assert.Equal(t, "math quizzes for grade 5", out)
}

func TestOllamaGenerator_OpensCircuitAfterFailures(t *testing.T) {
	// Given: a server that always fails and a breaker that opens after 2 failures
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := qerrors.NewCircuitBreaker("test", qerrors.WithMaxFailures(2), qerrors.WithResetTimeout(time.Hour))
	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Breaker: breaker})
	ctx := context.Background()

	// When: calling three times
	_, err1 := g.Generate(ctx, "a")
	_, err2 := g.Generate(ctx, "b")
	_, err3 := g.Generate(ctx, "c")

	// Then: the third call fails fast without reaching the server
	assert.Equal(t, qerrors.ErrCodeGenerationFailed, qerrors.GetCode(err1))
	assert.Equal(t, qerrors.ErrCodeGenerationFailed, qerrors.GetCode(err2))
	assert.ErrorIs(t, err3, qerrors.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, qerrors.StateOpen, g.Breaker().State())
}

func TestFromConfig(t *testing.T) {
	assert.Nil(t, FromConfig(config.LLMConfig{Enabled: false}))

	g := FromConfig(config.LLMConfig{Enabled: true, Model: "llama3.2"})
	require.NotNil(t, g)
	assert.Equal(t, "llama3.2", g.(*OllamaGenerator).ModelName())
}

func TestStripThinking(t *testing.T) {
	assert.Equal(t, "answer", stripThinking("<think>x</think>answer"))
	assert.Equal(t, "plain", stripThinking("  plain  "))
	assert.Equal(t, "<think>unterminated", stripThinking("<think>unterminated"))
}
