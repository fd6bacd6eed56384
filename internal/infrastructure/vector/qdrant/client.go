package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/resilience"
)

// Index keeps chunk embeddings in a Qdrant collection. Points carry the
// chunk id, so re-upserting a chunk replaces it.
type Index struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

// errCollectionMissing means nothing was ever indexed.
var errCollectionMissing = errors.New("collection does not exist")

type Options struct {
	HTTPClient *http.Client
}

func New(baseURL, collection string, options Options) *Index {
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Index{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: httpClient,
	}
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// UpsertChunks indexes every chunk that has an embedding. New points are not
// searchable until SetSearchable marks their document.
func (c *Index) UpsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	points := make([]point, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		points = append(points, point{
			ID:     chunk.ID,
			Vector: chunk.Embedding,
			Payload: map[string]any{
				"doc_id":      chunk.DocumentID,
				"chunk_index": chunk.Index,
				"text":        chunk.Content,
				"searchable":  false,
			},
		})
	}
	if len(points) == 0 {
		return nil
	}

	if err := c.ensureCollection(ctx, len(points[0].Vector)); err != nil {
		return err
	}
	return c.do(ctx, "upsert", http.MethodPut, "/points?wait=true", map[string]any{"points": points}, nil)
}

// SetDocumentPayload merges payload into every point of a document.
func (c *Index) SetDocumentPayload(ctx context.Context, documentID string, payload map[string]any) error {
	err := c.do(ctx, "set payload", http.MethodPost, "/points/payload?wait=true", map[string]any{
		"payload": payload,
		"filter":  documentFilter(documentID),
	}, nil)
	if errors.Is(err, errCollectionMissing) {
		return nil
	}
	return err
}

func (c *Index) DeleteDocument(ctx context.Context, documentID string) error {
	err := c.do(ctx, "delete", http.MethodPost, "/points/delete?wait=true", map[string]any{
		"filter": documentFilter(documentID),
	}, nil)
	if errors.Is(err, errCollectionMissing) {
		return nil
	}
	return err
}

// Search returns searchable points nearest to vector. Qdrant's cosine score
// is used as is.
func (c *Index) Search(ctx context.Context, vector []float32, filter domain.SearchFilter, limit int) ([]domain.RetrievalResult, error) {
	if len(vector) == 0 || limit <= 0 {
		return []domain.RetrievalResult{}, nil
	}

	must := []map[string]any{
		{"key": "searchable", "match": map[string]any{"value": true}},
	}
	if len(filter.Domains) > 0 {
		must = append(must, map[string]any{"key": "tags", "match": map[string]any{"any": filter.Domains}})
	}
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"filter":       map[string]any{"must": must},
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := c.do(ctx, "search", http.MethodPost, "/points/search", reqBody, &searchResp); err != nil {
		if errors.Is(err, errCollectionMissing) {
			return []domain.RetrievalResult{}, nil
		}
		return nil, err
	}

	out := make([]domain.RetrievalResult, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.RetrievalResult{
			ChunkID:    fmt.Sprintf("%v", r.ID),
			DocumentID: getStringPayload(r.Payload, "doc_id"),
			ChunkIndex: getIntPayload(r.Payload, "chunk_index"),
			Content:    getStringPayload(r.Payload, "text"),
			Title:      getStringPayload(r.Payload, "title"),
			Author:     getStringPayload(r.Payload, "author"),
			Tags:       getStringsPayload(r.Payload, "tags"),
			Score:      r.Score,
		})
	}
	return out, nil
}

func documentFilter(documentID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "doc_id", "match": map[string]any{"value": documentID}},
		},
	}
}

func (c *Index) do(ctx context.Context, operation, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	url := fmt.Sprintf("%s/collections/%s%s", c.baseURL, c.collection, path)
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "qdrant "+operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("qdrant %s: %w", operation, errCollectionMissing)
	}
	if resp.StatusCode >= 300 {
		return resilience.NewStatusError("qdrant", operation, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Index) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "qdrant ensure collection", err)
	}
	defer resp.Body.Close()

	// 409 when the collection already exists
	if resp.StatusCode == http.StatusConflict {
		c.markCollectionEnsured(vectorSize)
		return nil
	}
	if resp.StatusCode >= 300 {
		return resilience.NewStatusError("qdrant", "ensure collection", resp)
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Index) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func getStringsPayload(payload map[string]any, key string) []string {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
