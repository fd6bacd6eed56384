package mcpadapter

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

func (s *Server) searchKnowledge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results, err := s.searcher.Search(ctx, query, req.GetStringSlice("domains", nil), req.GetInt("limit", 0))
	if err != nil {
		s.logger.Warn("mcp_search_failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	if results == nil {
		results = []domain.RetrievalResult{}
	}
	return jsonResult(map[string]any{
		"query":   query,
		"results": results,
	})
}

func (s *Server) queryPipeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	env := s.orchestrator.Query(ctx, domain.QueryRequest{
		Query:   query,
		Mode:    req.GetString("mode", ""),
		Domains: req.GetStringSlice("domains", nil),
		Limit:   req.GetInt("limit", 0),
	})
	return envelopeResult(env)
}

func (s *Server) pipelineStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return envelopeResult(s.orchestrator.Status(ctx))
}

// envelopeResult reports failed envelopes as tool errors so agents see the
// message instead of an empty payload.
func envelopeResult(env domain.Envelope) (*mcp.CallToolResult, error) {
	if !env.Success {
		return mcp.NewToolResultError(env.Operation.String() + ": " + env.Error), nil
	}
	return jsonResult(env)
}
