package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

const fallbackServiceName = "fallback"

// enqueueExtraction records a pending extraction job for a document that has
// final chunks. The job is picked up once the pipeline service returns.
func (o *PipelineOrchestrator) enqueueExtraction(ctx context.Context, documentID string) (domain.ExtractionTicket, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return domain.ExtractionTicket{}, domain.WrapError(domain.ErrInvalidInput, "enqueue extraction", errors.New("document id is required"))
	}
	doc, err := o.gateway.GetDocument(ctx, documentID)
	if err != nil {
		return domain.ExtractionTicket{}, fmt.Errorf("load document: %w", err)
	}
	if !doc.Status.Ingested() {
		return domain.ExtractionTicket{}, domain.WrapError(
			domain.ErrInvalidInput,
			"enqueue extraction",
			fmt.Errorf("document %s is %s", doc.ID, doc.Status),
		)
	}

	job := &domain.ProcessingJob{
		ID:         o.newID(),
		DocumentID: doc.ID,
		Stage:      domain.StageExtraction,
		Status:     domain.JobPending,
		CreatedAt:  o.now(),
	}
	if err := o.gateway.CreateJob(ctx, job); err != nil {
		return domain.ExtractionTicket{}, fmt.Errorf("create extraction job: %w", err)
	}
	return domain.ExtractionTicket{
		DocumentID: doc.ID,
		JobID:      job.ID,
		Stage:      job.Stage,
		Status:     job.Status,
	}, nil
}

func (o *PipelineOrchestrator) buildRegistry(ctx context.Context) (domain.RegistrySnapshot, error) {
	entries, err := o.gateway.DomainRegistry(ctx)
	if err != nil {
		return domain.RegistrySnapshot{}, fmt.Errorf("aggregate domain registry: %w", err)
	}
	if entries == nil {
		entries = []domain.DomainEntry{}
	}
	return domain.RegistrySnapshot{Domains: entries}, nil
}

func (o *PipelineOrchestrator) fallbackStatus(ctx context.Context) (domain.PipelineStatus, error) {
	stats, err := o.gateway.Stats(ctx)
	if err != nil {
		return domain.PipelineStatus{}, fmt.Errorf("read pipeline stats: %w", err)
	}
	return domain.PipelineStatus{Service: fallbackServiceName, Healthy: true, Stats: stats}, nil
}

func (o *PipelineOrchestrator) fallbackMetrics(ctx context.Context) (domain.PipelineMetrics, error) {
	stats, err := o.gateway.Stats(ctx)
	if err != nil {
		return domain.PipelineMetrics{}, fmt.Errorf("read pipeline stats: %w", err)
	}
	return domain.PipelineMetrics{
		Service:        fallbackServiceName,
		Stats:          stats,
		OpenJobs:       stats.JobsByState[domain.JobPending] + stats.JobsByState[domain.JobProcessing],
		FailedJobs:     stats.JobsByState[domain.JobFailed],
		SearchableDocs: stats.DocumentsByState[domain.StatusCompleted] + stats.DocumentsByState[domain.StatusExtracting],
	}, nil
}
