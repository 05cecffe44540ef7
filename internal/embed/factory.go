package embed

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/quizrag/internal/config"
	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
)

// Provider names accepted in embeddings.provider.
const (
	ProviderOllama = "ollama"
	ProviderStatic = "static"
)

// New builds the configured embedder wrapped in an LRU cache.
func New(cfg config.EmbeddingsConfig) (*CachedEmbedder, error) {
	var inner Embedder
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOllama:
		retry := qerrors.DefaultRetryConfig()
		retry.MaxRetries = 2
		retry.InitialDelay = 500 * time.Millisecond
		retry.Jitter = true
		inner = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    config.Duration(cfg.Timeout, DefaultOllamaTimeout),
			Retry:      retry,
		})
	case ProviderStatic:
		inner = NewStaticEmbedder(cfg.Dimensions)
	default:
		return nil, qerrors.ConfigError(fmt.Sprintf("unknown embeddings provider %q", cfg.Provider), nil).
			WithSuggestion("Use ollama or static")
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
