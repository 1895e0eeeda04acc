package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanrank/internal/engine"
	"github.com/Aman-CERP/amanrank/internal/search"
	"github.com/Aman-CERP/amanrank/pkg/version"
)

// Tool names.
const (
	ToolSearch         = "search"
	ToolPipelineStatus = "pipeline_status"
)

const maxTopK = 50

var _ Searcher = (*engine.Engine)(nil)

// Searcher is the ranking engine the server delegates to.
type Searcher interface {
	Retrieve(ctx context.Context, query string, cfg search.PipelineConfig) ([]search.Result, error)
	Stages() engine.Stages
	CachedQueries() int
}

// Server is the MCP server for amanrank. It answers tool calls from AI
// clients with results from the ranking pipeline.
type Server struct {
	mcp      *mcp.Server
	searcher Searcher
	pipeline search.PipelineConfig
	logger   *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        ToolSearch,
		Description: "Rank documents in the loaded corpus for a query. Combines BM25 and vector retrieval, fuses the lists and reranks the best candidates with a cross-encoder.",
	},
	{
		Name:        ToolPipelineStatus,
		Description: "Report which pipeline stages are active (vector retrieval, reranker, remote cache) and the default ranking parameters.",
	},
}

// NewServer creates a new MCP server. defaults supplies the stage selection
// and result counts a tool call starts from.
func NewServer(searcher Searcher, defaults search.PipelineConfig, logger *slog.Logger) (*Server, error) {
	if searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		searcher: searcher,
		pipeline: defaults,
		logger:   logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    version.Name,
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return version.Name, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name with JSON-shaped arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolSearch:
		var input SearchInput
		if err := decodeArgs(args, &input); err != nil {
			return nil, err
		}
		return s.search(ctx, input)
	case ToolPipelineStatus:
		return s.status(), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(fmt.Sprintf("arguments are not JSON: %v", err))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools[0].Name,
		Description: tools[0].Description,
	}, s.mcpSearchHandler)
	s.logger.Debug("Registered tool", slog.String("name", ToolSearch))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        tools[1].Name,
		Description: tools[1].Description,
	}, s.mcpStatusHandler)
	s.logger.Debug("Registered tool", slog.String("name", ToolPipelineStatus))
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	out, err := s.search(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) mcpStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	return nil, s.status(), nil
}

func (s *Server) search(ctx context.Context, input SearchInput) (SearchOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return SearchOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	pc := s.pipeline
	pc.TopK = clampTopK(input.TopK, pc.TopK)
	if input.BM25Only {
		pc.UseVector = false
	}
	if input.NoRerank {
		pc.UseReranking = false
	}

	start := time.Now()
	requestID := uuid.NewString()[:8]
	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query),
		slog.Int("top_k", pc.TopK))

	results, err := s.searcher.Retrieve(ctx, input.Query, pc)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return SearchOutput{}, MapError(err)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	return toSearchOutput(results), nil
}

func (s *Server) status() StatusOutput {
	return StatusOutput{
		Stages:        s.searcher.Stages(),
		TopK:          s.pipeline.TopK,
		RerankFetchK:  s.pipeline.RerankFetchK,
		BM25Weight:    s.pipeline.BM25Weight,
		VectorWeight:  s.pipeline.VectorWeight,
		CachedQueries: s.searcher.CachedQueries(),
	}
}

// clampTopK returns requested bounded to [1, maxTopK], or def when unset.
func clampTopK(requested, def int) int {
	if requested <= 0 {
		return def
	}
	if requested > maxTopK {
		return maxTopK
	}
	return requested
}

// Serve runs the server over the named transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
