package ports

import (
	"context"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

// DocumentRepository owns the document catalog.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	FindDocumentByFingerprint(ctx context.Context, fingerprint string) (*domain.Document, error)
	FindDocumentByTitleAuthor(ctx context.Context, title, author string) (*domain.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	// ClaimDocument resets the row to pending only while it still has the
	// status and updated_at the caller saw. It reports whether the claim won.
	ClaimDocument(ctx context.Context, id string, seen domain.DocumentStatus, seenAt time.Time) (bool, error)
	SetDocumentTags(ctx context.Context, id string, tags []string) error
	ListStaleDocuments(ctx context.Context, statuses []domain.DocumentStatus, updatedBefore time.Time, limit int) ([]domain.Document, error)
}

// JobRepository owns the processing job log.
type JobRepository interface {
	CreateJob(ctx context.Context, job *domain.ProcessingJob) error
	UpdateJob(ctx context.Context, id string, stage domain.JobStage, status domain.JobStatus, progress int, errMessage string) error
	ListJobs(ctx context.Context, documentID string) ([]domain.ProcessingJob, error)
	FailOpenJobs(ctx context.Context, documentID, errMessage string) (int, error)
}

// ChunkRepository owns the chunk store.
type ChunkRepository interface {
	InsertChunks(ctx context.Context, chunks []domain.Chunk) error
	DeleteChunks(ctx context.Context, documentID string) (int, error)
}

// ChunkSearcher runs similarity and text lookups over completed documents.
type ChunkSearcher interface {
	SearchSimilar(ctx context.Context, vector []float32, filter domain.SearchFilter, limit int) ([]domain.RetrievalResult, error)
	SearchText(ctx context.Context, terms []string, filter domain.SearchFilter, limit int) ([]domain.RetrievalResult, error)
}

// StatsReader aggregates catalog state for status, metrics and registry calls.
type StatsReader interface {
	Stats(ctx context.Context) (domain.PipelineStats, error)
	DomainRegistry(ctx context.Context) ([]domain.DomainEntry, error)
}

// PersistenceGateway is the only component allowed to read or write
// documents, jobs and chunks.
type PersistenceGateway interface {
	DocumentRepository
	JobRepository
	ChunkRepository
	ChunkSearcher
	StatsReader
}
