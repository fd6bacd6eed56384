package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/resilience"
)

const defaultBatchSize = 32

type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	HTTPClient *http.Client
	Executor   *resilience.Executor
}

func New(baseURL string, options Options) *Client {
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		executor:   options.Executor,
	}
}

// Embedder builds chunk and query vectors with an Ollama embedding model.
type Embedder struct {
	client    *Client
	model     string
	dimension int
	batchSize int
}

func NewEmbedder(client *Client, model string, dimension int) *Embedder {
	return &Embedder{
		client:    client,
		model:     model,
		dimension: dimension,
		batchSize: defaultBatchSize,
	}
}

// Embed sends texts in batches and returns one vector per text, in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	request := map[string]any{
		"model": e.model,
		"input": batch,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}

	call := func(callCtx context.Context) error {
		return e.client.postJSON(callCtx, "/api/embed", request, &response, "embed")
	}
	var err error
	if e.client.executor != nil {
		err = e.client.executor.Execute(ctx, "ollama.embed", call, embedPolicy.Classify)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, embedPolicy.WrapTemporary("ollama embed", err)
	}

	if len(response.Embeddings) != len(batch) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(response.Embeddings), len(batch))
	}
	if e.dimension > 0 {
		for i, vec := range response.Embeddings {
			if len(vec) != e.dimension {
				return nil, domain.WrapError(domain.ErrInvalidInput, "ollama embed",
					fmt.Errorf("vector %d has dimension %d, expected %d", i, len(vec), e.dimension))
			}
		}
	}
	return response.Embeddings, nil
}
