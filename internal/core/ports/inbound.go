package ports

import (
	"context"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

// DocumentIngestor is the inbound contract for the staged ingestion workflow.
type DocumentIngestor interface {
	Ingest(ctx context.Context, req domain.IngestRequest, progress domain.ProgressFunc) (domain.IngestResult, error)
	Validate(req domain.IngestRequest) error
}

// KnowledgeSearcher is the inbound contract for ranked chunk retrieval.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, domains []string, limit int) ([]domain.RetrievalResult, error)
}

// Orchestrator routes pipeline operations to the remote service or the fallback path.
type Orchestrator interface {
	Ingest(ctx context.Context, req domain.IngestRequest, progress domain.ProgressFunc) domain.Envelope
	Extract(ctx context.Context, documentID string) domain.Envelope
	BuildRegistry(ctx context.Context) domain.Envelope
	Query(ctx context.Context, req domain.QueryRequest) domain.Envelope
	Status(ctx context.Context) domain.Envelope
	Metrics(ctx context.Context) domain.Envelope
}

// DocumentReader is the inbound read model for document state.
type DocumentReader interface {
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	ListJobs(ctx context.Context, documentID string) ([]domain.ProcessingJob, error)
}

// StaleIngestionSweeper fails ingestions abandoned in a non-terminal status.
type StaleIngestionSweeper interface {
	Sweep(ctx context.Context) (int, error)
}
