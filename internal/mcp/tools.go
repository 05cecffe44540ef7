package mcp

import (
	"time"

	"github.com/Aman-CERP/quizrag/internal/index"
	"github.com/Aman-CERP/quizrag/internal/queue"
)

// TurnInput is one prior conversation turn.
type TurnInput struct {
	Role    string `json:"role" jsonschema:"user or assistant"`
	Content string `json:"content" jsonschema:"the turn text"`
}

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query    string      `json:"query" jsonschema:"the question to retrieve quiz content for"`
	TopK     int         `json:"top_k,omitempty" jsonschema:"maximum number of chunks, default 5"`
	History  []TurnInput `json:"history,omitempty" jsonschema:"recent conversation turns used to rewrite follow-up questions"`
	Unlocked []string    `json:"unlocked,omitempty" jsonschema:"content ids whose private questions the caller may see"`
}

// EmptyInput is the input schema for tools without parameters.
type EmptyInput struct{}

// IndexStatsOutput defines the output schema for the index_stats tool.
type IndexStatsOutput struct {
	Exists      bool           `json:"exists"`
	Version     int64          `json:"version"`
	TotalChunks int            `json:"total_chunks"`
	Contents    int            `json:"contents"`
	Sources     map[string]int `json:"sources"`
	Model       string         `json:"model,omitempty"`
	Dimensions  int            `json:"dimensions,omitempty"`
	SizeBytes   int64          `json:"size_bytes"`
	UpdatedAt   string         `json:"updated_at,omitempty"`
	Cache       CacheInfo      `json:"cache"`
}

func indexStatsOutput(st *index.Stats) *IndexStatsOutput {
	out := &IndexStatsOutput{
		Exists:      st.Exists,
		Version:     st.Version,
		TotalChunks: st.TotalChunks,
		Contents:    st.Contents,
		Sources:     make(map[string]int, len(st.Sources)),
		Model:       st.Model,
		Dimensions:  st.Dimensions,
		SizeBytes:   st.SizeBytes,
	}
	for k, v := range st.Sources {
		out.Sources[string(k)] = v
	}
	if !st.UpdatedAt.IsZero() {
		out.UpdatedAt = st.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// CacheInfo describes the server's index cache.
type CacheInfo struct {
	Cached           bool    `json:"cached"`
	AgeSeconds       float64 `json:"age_seconds"`
	ExpiresInSeconds float64 `json:"expires_in_seconds"`
	Version          int64   `json:"version"`
}

// QueueStatsOutput defines the output schema for the queue_stats tool.
type QueueStatsOutput struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

func queueStatsOutput(st queue.Stats) QueueStatsOutput {
	return QueueStatsOutput{
		Pending:    st.Pending,
		Processing: st.Processing,
		Completed:  st.Completed,
		Failed:     st.Failed,
		Total:      st.Total(),
	}
}
