package ports

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

// ObjectStorage stores raw document bytes.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ChangePublisher emits change events for real-time consumers.
type ChangePublisher interface {
	PublishChange(ctx context.Context, event domain.ChangeEvent) error
}

// ChangeSubscriber streams change events until ctx is done.
type ChangeSubscriber interface {
	SubscribeChanges(ctx context.Context, handler func(domain.ChangeEvent)) error
}

// TextExtractor turns raw document bytes into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, filename, mimeType string, content []byte) (string, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits text into overlapping windows.
type Chunker interface {
	Split(text string, size, overlap int) ([]string, error)
}

// AvailabilityProber reports whether the remote pipeline service is reachable.
type AvailabilityProber interface {
	IsAvailable(ctx context.Context) bool
	MarkUnavailable()
}

// PipelineService is the remote pipeline HTTP API.
type PipelineService interface {
	Ingest(ctx context.Context, pdfPath string) (json.RawMessage, error)
	Extract(ctx context.Context, documentID string) (json.RawMessage, error)
	BuildRegistry(ctx context.Context) (json.RawMessage, error)
	Query(ctx context.Context, query, mode string) (json.RawMessage, error)
	Status(ctx context.Context) (json.RawMessage, error)
	Metrics(ctx context.Context) (json.RawMessage, error)
}
