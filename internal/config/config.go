// Package config loads quizrag configuration from defaults, YAML files and
// QUIZRAG_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete quizrag configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Queue       QueueConfig       `yaml:"queue" json:"queue"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	LLM         LLMConfig         `yaml:"llm" json:"llm"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Confidence  ConfidenceConfig  `yaml:"confidence" json:"confidence"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Source      SourceConfig      `yaml:"source" json:"source"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry"`
	Maintenance MaintenanceConfig `yaml:"maintenance" json:"maintenance"`
	Server      ServerConfig      `yaml:"server" json:"server"`
}

// StorageConfig selects the blob backend that holds the index document.
type StorageConfig struct {
	// Backend is one of local, memory, s3, minio.
	Backend string `yaml:"backend" json:"backend"`
	// Root is the directory for the local backend.
	Root      string `yaml:"root" json:"root"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Region    string `yaml:"region" json:"region"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`

	IndexPath    string `yaml:"index_path" json:"index_path"`
	BackupPrefix string `yaml:"backup_prefix" json:"backup_prefix"`
	// Compression is none, zstd or lz4. Applied to the index path suffix.
	Compression string `yaml:"compression" json:"compression"`
	// MaxBackups is how many timestamped backups cleanup keeps.
	MaxBackups int `yaml:"max_backups" json:"max_backups"`

	// Versioning is none or dynamodb.
	Versioning  string `yaml:"versioning" json:"versioning"`
	DynamoTable string `yaml:"dynamo_table" json:"dynamo_table"`
}

// QueueConfig controls the content change queue.
type QueueConfig struct {
	Path           string `yaml:"path" json:"path"`
	BatchSize      int    `yaml:"batch_size" json:"batch_size"`
	MaxRetries     int    `yaml:"max_retries" json:"max_retries"`
	BackoffInitial string `yaml:"backoff_initial" json:"backoff_initial"`
	BackoffMax     string `yaml:"backoff_max" json:"backoff_max"`
	CleanupDays    int    `yaml:"cleanup_days" json:"cleanup_days"`
	// StaleAfter returns processing tasks older than this to pending.
	StaleAfter string `yaml:"stale_after" json:"stale_after"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	// Provider is ollama or static.
	Provider   string `yaml:"provider" json:"provider"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	// RequestsPerSecond throttles sequential embedding calls. Zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	CacheSize         int     `yaml:"cache_size" json:"cache_size"`
	Timeout           string  `yaml:"timeout" json:"timeout"`
}

// LLMConfig configures the generation service used for rewrite and rerank.
type LLMConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Model   string `yaml:"model" json:"model"`
	Timeout string `yaml:"timeout" json:"timeout"`
}

// SearchConfig tunes hybrid retrieval.
type SearchConfig struct {
	VectorTopK   int     `yaml:"vector_top_k" json:"vector_top_k"`
	KeywordTopK  int     `yaml:"keyword_top_k" json:"keyword_top_k"`
	FinalTopK    int     `yaml:"final_top_k" json:"final_top_k"`
	MinRelevance float64 `yaml:"min_relevance" json:"min_relevance"`
	RRFConstant  int     `yaml:"rrf_constant" json:"rrf_constant"`

	// FastPathBand is the lowest band that skips query rewriting.
	FastPathBand string `yaml:"fast_path_band" json:"fast_path_band"`
	HistoryTurns int    `yaml:"history_turns" json:"history_turns"`

	RerankEnabled   bool    `yaml:"rerank_enabled" json:"rerank_enabled"`
	RerankWindow    int     `yaml:"rerank_window" json:"rerank_window"`
	RerankSkipScore float64 `yaml:"rerank_skip_score" json:"rerank_skip_score"`

	// ANNThreshold is the chunk count at which vector search switches to HNSW.
	ANNThreshold int `yaml:"ann_threshold" json:"ann_threshold"`

	Timeout string `yaml:"timeout" json:"timeout"`
}

// ConfidenceConfig holds the band cutoffs applied to per-chunk confidence scores.
type ConfidenceConfig struct {
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
	Low    float64 `yaml:"low" json:"low"`
}

// CacheConfig configures the per-process index cache.
type CacheConfig struct {
	TTL     string `yaml:"ttl" json:"ttl"`
	Preload bool   `yaml:"preload" json:"preload"`
}

// SourceConfig locates quiz content files.
type SourceConfig struct {
	Dir      string `yaml:"dir" json:"dir"`
	Debounce string `yaml:"debounce" json:"debounce"`
}

// TelemetryConfig configures retrieval metrics.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Path          string `yaml:"path" json:"path"`
	FlushInterval string `yaml:"flush_interval" json:"flush_interval"`
}

// MaintenanceConfig locates the rebuild lock.
type MaintenanceConfig struct {
	LockPath string `yaml:"lock_path" json:"lock_path"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DataDir returns ~/.quizrag, or a temp-dir fallback.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".quizrag")
	}
	return filepath.Join(home, ".quizrag")
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	data := DataDir()
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			Backend:      "local",
			Root:         filepath.Join(data, "blobs"),
			Region:       "us-east-1",
			IndexPath:    "index/quiz-index.json",
			BackupPrefix: "backups/",
			Compression:  "none",
			MaxBackups:   10,
			Versioning:   "none",
			DynamoTable:  "quizrag-index-versions",
		},
		Queue: QueueConfig{
			Path:           filepath.Join(data, "queue.db"),
			BatchSize:      10,
			MaxRetries:     3,
			BackoffInitial: "30s",
			BackoffMax:     "10m",
			CleanupDays:    7,
			StaleAfter:     "15m",
		},
		Embeddings: EmbeddingsConfig{
			Provider:          "ollama",
			OllamaHost:        "http://localhost:11434",
			Model:             "nomic-embed-text",
			Dimensions:        768,
			RequestsPerSecond: 10,
			CacheSize:         1000,
			Timeout:           "30s",
		},
		LLM: LLMConfig{
			Enabled: true,
			Host:    "http://localhost:11434",
			Model:   "qwen3:0.6b",
			Timeout: "10s",
		},
		Search: SearchConfig{
			VectorTopK:      10,
			KeywordTopK:     10,
			FinalTopK:       5,
			MinRelevance:    0.40,
			RRFConstant:     60,
			FastPathBand:    "high",
			HistoryTurns:    5,
			RerankEnabled:   true,
			RerankWindow:    10,
			RerankSkipScore: 0.85,
			ANNThreshold:    2000,
			Timeout:         "60s",
		},
		Confidence: ConfidenceConfig{
			High:   0.70,
			Medium: 0.55,
			Low:    0.40,
		},
		Cache: CacheConfig{
			TTL:     "5m",
			Preload: true,
		},
		Source: SourceConfig{
			Dir:      "quizzes",
			Debounce: "500ms",
		},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			Path:          filepath.Join(data, "telemetry.db"),
			FlushInterval: "30s",
		},
		Maintenance: MaintenanceConfig{
			LockPath: filepath.Join(data, "maintenance.lock"),
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// GetUserConfigPath returns the user configuration file, following XDG:
//   - $XDG_CONFIG_HOME/quizrag/config.yaml
//   - ~/.config/quizrag/config.yaml
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quizrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "quizrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "quizrag", "config.yaml")
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load builds the configuration for dir in order of increasing precedence:
//  1. Defaults
//  2. User config (~/.config/quizrag/config.yaml)
//  3. Project config (.quizrag.yaml in dir)
//  4. Environment variables (QUIZRAG_*)
//
// Relative paths in the result are resolved against dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{".quizrag.yaml", ".quizrag.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes path over the current values; keys absent from the file
// keep their existing value, explicit false and zero values are honored.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("QUIZRAG_STORAGE_BACKEND", &c.Storage.Backend)
	setString("QUIZRAG_STORAGE_ROOT", &c.Storage.Root)
	setString("QUIZRAG_BUCKET", &c.Storage.Bucket)
	setString("QUIZRAG_STORAGE_ENDPOINT", &c.Storage.Endpoint)
	setString("QUIZRAG_STORAGE_REGION", &c.Storage.Region)
	setString("QUIZRAG_STORAGE_ACCESS_KEY", &c.Storage.AccessKey)
	setString("QUIZRAG_STORAGE_SECRET_KEY", &c.Storage.SecretKey)
	setString("QUIZRAG_INDEX_PATH", &c.Storage.IndexPath)
	setString("QUIZRAG_COMPRESSION", &c.Storage.Compression)
	setString("QUIZRAG_VERSIONING", &c.Storage.Versioning)
	setString("QUIZRAG_QUEUE_PATH", &c.Queue.Path)
	setString("QUIZRAG_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	setString("QUIZRAG_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	setString("QUIZRAG_LLM_MODEL", &c.LLM.Model)
	setString("QUIZRAG_CACHE_TTL", &c.Cache.TTL)
	setString("QUIZRAG_SOURCE_DIR", &c.Source.Dir)
	setString("QUIZRAG_LOG_LEVEL", &c.Server.LogLevel)

	// QUIZRAG_OLLAMA_HOST points both services at the same daemon.
	if v := os.Getenv("QUIZRAG_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
		c.LLM.Host = v
	}
	if v := os.Getenv("QUIZRAG_LLM_ENABLED"); v != "" {
		c.LLM.Enabled = parseBool(v)
	}
	if v := os.Getenv("QUIZRAG_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("QUIZRAG_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("QUIZRAG_EMBEDDINGS_DIMENSIONS"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			c.Embeddings.Dimensions = d
		}
	}
	if v := os.Getenv("QUIZRAG_MIN_RELEVANCE"); v != "" {
		if f, err := parseFloat64(v); err == nil && f >= 0 && f <= 1 {
			c.Search.MinRelevance = f
		}
	}
}

func (c *Config) resolvePaths(dir string) {
	if dir == "" {
		return
	}
	abs := func(p *string) {
		if *p != "" && *p != ":memory:" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	abs(&c.Storage.Root)
	abs(&c.Queue.Path)
	abs(&c.Source.Dir)
	abs(&c.Telemetry.Path)
	abs(&c.Maintenance.LockPath)
}

func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case "local", "memory":
	case "s3", "minio":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for backend %s", c.Storage.Backend)
		}
		if c.Storage.Backend == "minio" && c.Storage.Endpoint == "" {
			return fmt.Errorf("storage.endpoint is required for backend minio")
		}
	default:
		return fmt.Errorf("storage.backend must be 'local', 'memory', 's3' or 'minio', got %s", c.Storage.Backend)
	}

	switch c.Storage.Compression {
	case "none", "zstd", "lz4":
	default:
		return fmt.Errorf("storage.compression must be 'none', 'zstd' or 'lz4', got %s", c.Storage.Compression)
	}
	switch c.Storage.Versioning {
	case "none", "dynamodb":
	default:
		return fmt.Errorf("storage.versioning must be 'none' or 'dynamodb', got %s", c.Storage.Versioning)
	}
	if c.Storage.IndexPath == "" {
		return fmt.Errorf("storage.index_path must not be empty")
	}

	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be positive, got %d", c.Queue.BatchSize)
	}
	if c.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue.max_retries must be positive, got %d", c.Queue.MaxRetries)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}

	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.FinalTopK <= 0 || c.Search.VectorTopK <= 0 {
		return fmt.Errorf("search top_k values must be positive")
	}
	switch c.Search.FastPathBand {
	case "high", "medium", "low":
	default:
		return fmt.Errorf("search.fast_path_band must be 'high', 'medium' or 'low', got %s", c.Search.FastPathBand)
	}

	cf := c.Confidence
	if !(cf.Low > 0 && cf.Low <= cf.Medium && cf.Medium <= cf.High && cf.High <= 1) {
		return fmt.Errorf("confidence thresholds must satisfy 0 < low <= medium <= high <= 1, got %.2f/%.2f/%.2f", cf.Low, cf.Medium, cf.High)
	}

	for name, d := range map[string]string{
		"cache.ttl":             c.Cache.TTL,
		"queue.backoff_initial": c.Queue.BackoffInitial,
		"queue.backoff_max":     c.Queue.BackoffMax,
		"queue.stale_after":     c.Queue.StaleAfter,
		"llm.timeout":           c.LLM.Timeout,
		"embeddings.timeout":    c.Embeddings.Timeout,
		"search.timeout":        c.Search.Timeout,
		"source.debounce":       c.Source.Debounce,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s is not a valid duration: %s", name, d)
		}
	}

	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// Duration parses s, returning fallback when s is empty or malformed.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
