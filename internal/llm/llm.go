// Package llm calls the generation service used for query rewriting and
// re-ranking.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Aman-CERP/quizrag/internal/config"
	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
)

// Default generator configuration.
const (
	DefaultModel   = "qwen3:0.6b"
	DefaultTimeout = 10 * time.Second
	DefaultHost    = "http://localhost:11434"
)

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// OllamaConfig configures OllamaGenerator.
type OllamaConfig struct {
	Host    string
	Model   string
	Timeout time.Duration
	// Breaker guards calls. Nil creates one with default settings.
	Breaker *qerrors.CircuitBreaker
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Think   *bool          `json:"think,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaGenerator generates text with Ollama's /api/generate.
// Calls go through a circuit breaker so a dead server fails fast.
type OllamaGenerator struct {
	client  *http.Client
	config  OllamaConfig
	breaker *qerrors.CircuitBreaker
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator creates a generator.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = qerrors.NewCircuitBreaker("llm",
			qerrors.WithMaxFailures(3),
			qerrors.WithResetTimeout(30*time.Second))
	}
	return &OllamaGenerator{
		client:  &http.Client{Timeout: cfg.Timeout},
		config:  cfg,
		breaker: breaker,
	}
}

// FromConfig returns the configured generator, or nil when the LLM is disabled.
func FromConfig(cfg config.LLMConfig) Generator {
	if !cfg.Enabled {
		return nil
	}
	return NewOllamaGenerator(OllamaConfig{
		Host:    cfg.Host,
		Model:   cfg.Model,
		Timeout: config.Duration(cfg.Timeout, DefaultTimeout),
	})
}

// Generate sends prompt and returns the trimmed response.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := qerrors.CircuitExecute(g.breaker, func() (string, error) {
		return g.generate(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, qerrors.ErrCircuitOpen) {
			return "", err
		}
		slog.Debug("llm_generate_failed", slog.String("model", g.config.Model), slog.String("error", err.Error()))
		return "", qerrors.New(qerrors.ErrCodeGenerationFailed, "generation failed", err)
	}
	return stripThinking(out), nil
}

func (g *OllamaGenerator) generate(ctx context.Context, prompt string) (string, error) {
	think := false
	body, err := json.Marshal(generateRequest{
		Model:   g.config.Model,
		Prompt:  prompt,
		Stream:  false,
		Think:   &think,
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return genResp.Response, nil
}

// Available checks if Ollama is reachable.
func (g *OllamaGenerator) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// ModelName returns the model being used.
func (g *OllamaGenerator) ModelName() string { return g.config.Model }

// Breaker exposes the circuit breaker state for status output.
func (g *OllamaGenerator) Breaker() *qerrors.CircuitBreaker { return g.breaker }

// stripThinking drops a leading <think>...</think> block some reasoning
// models emit even when asked not to.
func stripThinking(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<think>") {
		if end := strings.Index(s, "</think>"); end >= 0 {
			s = s[end+len("</think>"):]
		}
	}
	return strings.TrimSpace(s)
}
