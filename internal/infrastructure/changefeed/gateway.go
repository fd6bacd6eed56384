package changefeed

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
	"github.com/kirillkom/trading-knowledge/internal/core/ports"
)

// Gateway publishes a change event after every successful write to the
// wrapped gateway. Reads pass straight through. Publish failures are logged
// and never fail the write.
type Gateway struct {
	ports.PersistenceGateway
	publisher ports.ChangePublisher
	logger    *slog.Logger
	now       func() time.Time
}

func Wrap(inner ports.PersistenceGateway, publisher ports.ChangePublisher, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		PersistenceGateway: inner,
		publisher:          publisher,
		logger:             logger,
		now:                time.Now,
	}
}

func (g *Gateway) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if err := g.PersistenceGateway.CreateDocument(ctx, doc); err != nil {
		return err
	}
	g.publish(ctx, domain.EntityDocument, domain.ActionInsert, doc.ID, doc.ID, string(doc.Status))
	return nil
}

func (g *Gateway) UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	if err := g.PersistenceGateway.UpdateDocumentStatus(ctx, id, status, errMessage); err != nil {
		return err
	}
	g.publish(ctx, domain.EntityDocument, domain.ActionUpdate, id, id, string(status))
	return nil
}

func (g *Gateway) ClaimDocument(ctx context.Context, id string, seen domain.DocumentStatus, seenAt time.Time) (bool, error) {
	won, err := g.PersistenceGateway.ClaimDocument(ctx, id, seen, seenAt)
	if err != nil || !won {
		return won, err
	}
	g.publish(ctx, domain.EntityDocument, domain.ActionUpdate, id, id, string(domain.StatusPending))
	return true, nil
}

func (g *Gateway) SetDocumentTags(ctx context.Context, id string, tags []string) error {
	if err := g.PersistenceGateway.SetDocumentTags(ctx, id, tags); err != nil {
		return err
	}
	g.publish(ctx, domain.EntityDocument, domain.ActionUpdate, id, id, "")
	return nil
}

func (g *Gateway) CreateJob(ctx context.Context, job *domain.ProcessingJob) error {
	if err := g.PersistenceGateway.CreateJob(ctx, job); err != nil {
		return err
	}
	g.publish(ctx, domain.EntityJob, domain.ActionInsert, job.ID, job.DocumentID, string(job.Status))
	return nil
}

func (g *Gateway) UpdateJob(ctx context.Context, id string, stage domain.JobStage, status domain.JobStatus, progress int, errMessage string) error {
	if err := g.PersistenceGateway.UpdateJob(ctx, id, stage, status, progress, errMessage); err != nil {
		return err
	}
	g.publish(ctx, domain.EntityJob, domain.ActionUpdate, id, "", string(status))
	return nil
}

func (g *Gateway) FailOpenJobs(ctx context.Context, documentID, errMessage string) (int, error) {
	n, err := g.PersistenceGateway.FailOpenJobs(ctx, documentID, errMessage)
	if err != nil {
		return n, err
	}
	if n > 0 {
		g.publish(ctx, domain.EntityJob, domain.ActionUpdate, "", documentID, string(domain.JobFailed))
	}
	return n, nil
}

// InsertChunks emits one event per batch; Status carries the chunk count.
func (g *Gateway) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if err := g.PersistenceGateway.InsertChunks(ctx, chunks); err != nil {
		return err
	}
	if len(chunks) > 0 {
		g.publish(ctx, domain.EntityChunk, domain.ActionInsert, "", chunks[0].DocumentID, strconv.Itoa(len(chunks)))
	}
	return nil
}

func (g *Gateway) DeleteChunks(ctx context.Context, documentID string) (int, error) {
	n, err := g.PersistenceGateway.DeleteChunks(ctx, documentID)
	if err != nil {
		return n, err
	}
	if n > 0 {
		g.publish(ctx, domain.EntityChunk, domain.ActionDelete, "", documentID, strconv.Itoa(n))
	}
	return n, nil
}

func (g *Gateway) publish(ctx context.Context, entity, action, id, documentID, status string) {
	if g.publisher == nil {
		return
	}
	event := domain.ChangeEvent{
		Entity:     entity,
		Action:     action,
		ID:         id,
		DocumentID: documentID,
		Status:     status,
		At:         g.now().UnixMilli(),
	}
	if err := g.publisher.PublishChange(ctx, event); err != nil {
		g.logger.Warn("change_publish_failed",
			"entity", entity,
			"action", action,
			"document_id", documentID,
			"error", err,
		)
	}
}
