package pipelineapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/infrastructure/resilience"
)

// Client talks to the remote pipeline service. Every call is bounded by the
// request timeout and routed through the resilience executor when one is set.
type Client struct {
	baseURL        string
	requestTimeout time.Duration
	httpClient     *http.Client
	executor       *resilience.Executor
}

type Options struct {
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Executor       *resilience.Executor
}

func New(baseURL string, options Options) *Client {
	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		requestTimeout: timeout,
		httpClient:     httpClient,
		executor:       options.Executor,
	}
}

func (c *Client) Ingest(ctx context.Context, pdfPath string) (json.RawMessage, error) {
	return c.call(ctx, "ingest", http.MethodPost, "/ingest", map[string]any{"pdfPath": pdfPath})
}

func (c *Client) Extract(ctx context.Context, documentID string) (json.RawMessage, error) {
	return c.call(ctx, "extract", http.MethodPost, "/extract", map[string]any{"docId": documentID})
}

func (c *Client) BuildRegistry(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, "build_registry", http.MethodPost, "/build-registry", map[string]any{})
}

func (c *Client) Query(ctx context.Context, query, mode string) (json.RawMessage, error) {
	return c.call(ctx, "query", http.MethodPost, "/orchestrator/query", map[string]any{"query": query, "mode": mode})
}

func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, "status", http.MethodGet, "/status", nil)
}

func (c *Client) Metrics(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, "metrics", http.MethodGet, "/metrics", nil)
}

func (c *Client) call(ctx context.Context, operation, method, path string, payload any) (json.RawMessage, error) {
	var out json.RawMessage
	do := func(callCtx context.Context) error {
		reqCtx, cancel := context.WithTimeout(callCtx, c.requestTimeout)
		defer cancel()

		raw, err := c.doJSON(reqCtx, method, path, payload, operation)
		if err != nil {
			return err
		}
		out = raw
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "pipeline."+operation, do, callPolicy.Classify)
	} else {
		err = do(ctx)
	}
	if err != nil {
		return nil, wrapUnavailable(operation, err)
	}
	return out, nil
}
