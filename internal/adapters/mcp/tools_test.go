package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

type orchestratorFake struct {
	query domain.QueryRequest
	env   domain.Envelope
}

func (f *orchestratorFake) Ingest(context.Context, domain.IngestRequest, domain.ProgressFunc) domain.Envelope {
	return f.env
}
func (f *orchestratorFake) Extract(context.Context, string) domain.Envelope { return f.env }
func (f *orchestratorFake) BuildRegistry(context.Context) domain.Envelope  { return f.env }
func (f *orchestratorFake) Query(_ context.Context, req domain.QueryRequest) domain.Envelope {
	f.query = req
	return f.env
}
func (f *orchestratorFake) Status(context.Context) domain.Envelope  { return f.env }
func (f *orchestratorFake) Metrics(context.Context) domain.Envelope { return f.env }

type searcherFake struct {
	query   string
	domains []string
	limit   int
	err     error
}

func (f *searcherFake) Search(_ context.Context, query string, domains []string, limit int) ([]domain.RetrievalResult, error) {
	f.query, f.domains, f.limit = query, domains, limit
	if f.err != nil {
		return nil, f.err
	}
	return []domain.RetrievalResult{{ChunkID: "c-1", DocumentID: "doc-1", Title: "Market Wizards", Content: "cut losses", Score: 0.9}}, nil
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("expected tool content, got %+v", res)
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func TestSearchKnowledgeForwardsArguments(t *testing.T) {
	searcher := &searcherFake{}
	s := NewServer(&orchestratorFake{}, searcher, "test", nil)

	res, err := s.searchKnowledge(context.Background(), callRequest("search_knowledge", map[string]any{
		"query":   "stop loss",
		"domains": []any{"risk", "execution"},
		"limit":   float64(3),
	}))
	if err != nil {
		t.Fatalf("searchKnowledge() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	if searcher.query != "stop loss" || searcher.limit != 3 || len(searcher.domains) != 2 {
		t.Fatalf("unexpected search call %q %v %d", searcher.query, searcher.domains, searcher.limit)
	}

	var payload struct {
		Results []domain.RetrievalResult `json:"results"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.Results) != 1 || payload.Results[0].ChunkID != "c-1" {
		t.Fatalf("unexpected results %+v", payload.Results)
	}
}

func TestSearchKnowledgeErrorsAreToolErrors(t *testing.T) {
	searcher := &searcherFake{err: domain.WrapError(domain.ErrInvalidInput, "search", errors.New("query is empty"))}
	s := NewServer(&orchestratorFake{}, searcher, "test", nil)

	res, err := s.searchKnowledge(context.Background(), callRequest("search_knowledge", map[string]any{}))
	if err != nil || !res.IsError {
		t.Fatalf("expected tool error for missing query, got %+v / %v", res, err)
	}

	res, err = s.searchKnowledge(context.Background(), callRequest("search_knowledge", map[string]any{"query": "  "}))
	if err != nil || !res.IsError || !strings.Contains(resultText(t, res), "invalid input") {
		t.Fatalf("expected invalid input tool error, got %+v / %v", res, err)
	}
}

func TestQueryPipelineReturnsEnvelope(t *testing.T) {
	orch := &orchestratorFake{env: domain.SuccessEnvelope(domain.OpQuery, domain.SourceFallback, domain.QueryResult{Query: "carry"})}
	s := NewServer(orch, &searcherFake{}, "test", nil)

	res, err := s.queryPipeline(context.Background(), callRequest("query_pipeline", map[string]any{
		"query": "carry",
		"mode":  "lexical",
	}))
	if err != nil || res.IsError {
		t.Fatalf("unexpected result %+v / %v", res, err)
	}
	if orch.query.Query != "carry" || orch.query.Mode != "lexical" {
		t.Fatalf("unexpected query %+v", orch.query)
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"source":"fallback"`) || !strings.Contains(text, `"operation":"query"`) {
		t.Fatalf("unexpected envelope text %s", text)
	}
}

func TestPipelineStatusFailureIsToolError(t *testing.T) {
	orch := &orchestratorFake{env: domain.ErrorEnvelope(domain.OpStatus, errors.New("db down"))}
	s := NewServer(orch, &searcherFake{}, "test", nil)

	res, err := s.pipelineStatus(context.Background(), callRequest("pipeline_status", nil))
	if err != nil || !res.IsError {
		t.Fatalf("expected tool error, got %+v / %v", res, err)
	}
	if got := resultText(t, res); got != "status: db down" {
		t.Fatalf("unexpected error text %q", got)
	}
}

func TestServerListsTools(t *testing.T) {
	s := NewServer(&orchestratorFake{}, &searcherFake{}, "test", nil)

	reply := s.MCPServer().HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	for _, name := range []string{"search_knowledge", "query_pipeline", "pipeline_status"} {
		if !strings.Contains(string(data), `"name":"`+name+`"`) {
			t.Fatalf("tool %s missing from %s", name, data)
		}
	}
}
