package mcpadapter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/trading-knowledge/internal/core/ports"
)

const serverName = "trading-knowledge"

// Server exposes retrieval and pipeline operations as MCP tools.
type Server struct {
	mcp          *server.MCPServer
	orchestrator ports.Orchestrator
	searcher     ports.KnowledgeSearcher
	logger       *slog.Logger
}

func NewServer(orchestrator ports.Orchestrator, searcher ports.KnowledgeSearcher, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp: server.NewMCPServer(serverName, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		orchestrator: orchestrator,
		searcher:     searcher,
		logger:       logger,
	}

	s.mcp.AddTool(mcp.NewTool("search_knowledge",
		mcp.WithDescription("Search ingested trading literature. Returns ranked text chunks with document ids and scores."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free-text search query")),
		mcp.WithArray("domains", mcp.Description("Restrict results to these agent domains"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithNumber("limit", mcp.Description("Maximum number of chunks to return")),
	), s.searchKnowledge)

	s.mcp.AddTool(mcp.NewTool("query_pipeline",
		mcp.WithDescription("Run a query through the knowledge pipeline. Uses the remote pipeline service when it is reachable and local retrieval otherwise."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Question or search text")),
		mcp.WithString("mode", mcp.Description("Query mode, hybrid by default")),
		mcp.WithArray("domains", mcp.Description("Restrict results to these agent domains"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results")),
	), s.queryPipeline)

	s.mcp.AddTool(mcp.NewTool("pipeline_status",
		mcp.WithDescription("Report pipeline health and document, chunk and job counts."),
	), s.pipelineStatus)

	return s
}

// Serve speaks MCP over the given streams until ctx is cancelled or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
