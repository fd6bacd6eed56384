package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
	"github.com/kirillkom/trading-knowledge/internal/core/ports"
)

const staleIngestionMessage = "ingestion abandoned"

type SweeperOptions struct {
	StaleAfter time.Duration
	BatchSize  int
	Logger     *slog.Logger
}

// IngestionSweeper fails documents stuck in pending or ingesting so a later
// upload of the same content resumes them from a clean state.
type IngestionSweeper struct {
	gateway    ports.PersistenceGateway
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
	now        func() time.Time
}

func NewIngestionSweeper(gateway ports.PersistenceGateway, options SweeperOptions) *IngestionSweeper {
	staleAfter := options.StaleAfter
	if staleAfter <= 0 {
		staleAfter = domain.DefaultStaleAfter
	}
	batchSize := options.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionSweeper{
		gateway:    gateway,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep returns the number of documents it failed. One broken document does
// not stop the rest of the batch.
func (s *IngestionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	docs, err := s.gateway.ListStaleDocuments(ctx, []domain.DocumentStatus{domain.StatusPending, domain.StatusIngesting}, cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale documents: %w", err)
	}

	recovered := 0
	var errs []error
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.failStale(ctx, doc); err != nil {
			errs = append(errs, fmt.Errorf("document %s: %w", doc.ID, err))
			continue
		}
		recovered++
		s.logger.Info("stale_ingestion_failed",
			"document_id", doc.ID,
			"status", string(doc.Status),
			"updated_at", doc.UpdatedAt,
		)
	}
	return recovered, errors.Join(errs...)
}

func (s *IngestionSweeper) failStale(ctx context.Context, doc domain.Document) error {
	if _, err := s.gateway.DeleteChunks(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := s.gateway.FailOpenJobs(ctx, doc.ID, staleIngestionMessage); err != nil {
		return fmt.Errorf("fail open jobs: %w", err)
	}
	if err := s.gateway.UpdateDocumentStatus(ctx, doc.ID, domain.StatusFailed, staleIngestionMessage); err != nil {
		return fmt.Errorf("set status=failed: %w", err)
	}
	return nil
}
