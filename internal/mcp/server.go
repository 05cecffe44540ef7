package mcp

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/quizrag/internal/cache"
	"github.com/Aman-CERP/quizrag/internal/index"
	"github.com/Aman-CERP/quizrag/internal/queue"
	"github.com/Aman-CERP/quizrag/internal/rag"
	"github.com/Aman-CERP/quizrag/internal/search"
	"github.com/Aman-CERP/quizrag/pkg/version"
)

// Retriever answers search requests. Implemented by *rag.Service.
type Retriever interface {
	Retrieve(ctx context.Context, req rag.Request) (*rag.Response, error)
}

// IndexInspector reports on the persisted index. Implemented by
// *index.Manager.
type IndexInspector interface {
	Stats(ctx context.Context) (*index.Stats, error)
	Validate(ctx context.Context) (*index.ValidationResult, error)
}

// QueueInspector reports task counts. Implemented by *queue.Queue.
type QueueInspector interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// Dependencies are the collaborators of a Server.
type Dependencies struct {
	Retriever Retriever
	Index     IndexInspector
	// Queue is optional; queue_stats reports an error without it.
	Queue QueueInspector
	// Cache is preloaded by Serve and reported by index_stats.
	Cache *cache.IndexCache
}

// Server is the MCP server.
type Server struct {
	mcp    *mcp.Server
	deps   Dependencies
	logger *slog.Logger
}

// NewServer creates a server with every tool registered.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if deps.Index == nil {
		return nil, errors.New("index inspector is required")
	}

	s := &Server{deps: deps, logger: slog.Default()}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "quizrag",
		Version: version.Version,
	}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Retrieve quiz content relevant to a question using hybrid keyword and semantic search. Returns ranked chunks, a confidence band, citations and whether the index holds enough to answer.",
	}, s.searchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_stats",
		Description: "Report the retrieval index version, chunk and content counts, embedding model and cache state.",
	}, s.indexStatsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "validate_index",
		Description: "Check the retrieval index for duplicate chunk ids, missing or mis-sized embeddings and a stale chunk count.",
	}, s.validateHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "queue_stats",
		Description: "Report indexing task counts by status: pending, processing, completed and failed.",
	}, s.queueStatsHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", 4))
}

func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	*rag.Response,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, nil, NewInvalidParamsError("query parameter is required")
	}
	if input.TopK < 0 {
		return nil, nil, NewInvalidParamsError("top_k must not be negative")
	}

	req := rag.Request{Query: input.Query, TopK: input.TopK}
	for _, t := range input.History {
		req.History = append(req.History, search.Turn{Role: t.Role, Content: t.Content})
	}
	if len(input.Unlocked) > 0 {
		req.Principal.Unlocked = make(map[string]bool, len(input.Unlocked))
		for _, id := range input.Unlocked {
			req.Principal.Unlocked[id] = true
		}
	}

	resp, err := s.deps.Retriever.Retrieve(ctx, req)
	if err != nil {
		s.logger.Warn("mcp_search_failed", slog.String("error", err.Error()))
		return nil, nil, MapError(err)
	}
	return nil, resp, nil
}

func (s *Server) indexStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (
	*mcp.CallToolResult,
	*IndexStatsOutput,
	error,
) {
	st, err := s.deps.Index.Stats(ctx)
	if err != nil {
		return nil, nil, MapError(err)
	}
	out := indexStatsOutput(st)
	if s.deps.Cache != nil {
		cs := s.deps.Cache.Stats()
		out.Cache = CacheInfo{
			Cached:           cs.Cached,
			AgeSeconds:       cs.Age.Seconds(),
			ExpiresInSeconds: cs.ExpiresIn.Seconds(),
			Version:          cs.Version,
		}
	}
	return nil, out, nil
}

func (s *Server) validateHandler(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (
	*mcp.CallToolResult,
	*index.ValidationResult,
	error,
) {
	res, err := s.deps.Index.Validate(ctx)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, res, nil
}

func (s *Server) queueStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (
	*mcp.CallToolResult,
	*QueueStatsOutput,
	error,
) {
	if s.deps.Queue == nil {
		return nil, nil, &MCPError{Code: ErrCodeInternalError, Message: "Queue is not configured."}
	}
	st, err := s.deps.Queue.Stats(ctx)
	if err != nil {
		return nil, nil, MapError(err)
	}
	out := queueStatsOutput(st)
	return nil, &out, nil
}

// Serve preloads the index cache and runs the server over stdio until
// ctx is done. A failed preload is logged; the first search retries it.
func (s *Server) Serve(ctx context.Context) error {
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Preload(ctx); err != nil {
			s.logger.Warn("cache_preload_failed", slog.String("error", err.Error()))
		} else {
			s.logger.Info("cache_preloaded", slog.Int64("version", s.deps.Cache.Stats().Version))
		}
	}

	s.logger.Info("mcp_server_started", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}
