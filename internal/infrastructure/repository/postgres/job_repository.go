package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

func (g *Gateway) CreateJob(ctx context.Context, job *domain.ProcessingJob) error {
	_, err := g.db.ExecContext(ctx, `
INSERT INTO processing_jobs (id, document_id, stage, status, progress, error_message, started_at, completed_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, job.ID, job.DocumentID, string(job.Stage), string(job.Status), domain.ClampProgress(job.Progress), job.Error,
		job.StartedAt, job.CompletedAt, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert processing job: %w", err)
	}
	return nil
}

// UpdateJob stamps started_at on the first update and completed_at when the
// job reaches a terminal status.
func (g *Gateway) UpdateJob(ctx context.Context, id string, stage domain.JobStage, status domain.JobStatus, progress int, errMessage string) error {
	now := g.now()
	completedAt := sql.NullTime{}
	if status == domain.JobCompleted || status == domain.JobFailed {
		completedAt = sql.NullTime{Time: now, Valid: true}
	}

	res, err := g.db.ExecContext(ctx, `
UPDATE processing_jobs
SET stage = $2, status = $3, progress = $4, error_message = $5,
	started_at = COALESCE(started_at, $6), completed_at = $7
WHERE id = $1
`, id, string(stage), string(status), domain.ClampProgress(progress), errMessage, now, completedAt)
	if err != nil {
		return fmt.Errorf("update processing job: %w", err)
	}
	return requireAffected(res, domain.ErrJobNotFound, "update processing job", id)
}

func (g *Gateway) ListJobs(ctx context.Context, documentID string) ([]domain.ProcessingJob, error) {
	rows, err := g.db.QueryContext(ctx, `
SELECT id, document_id, stage, status, progress, error_message, started_at, completed_at, created_at
FROM processing_jobs
WHERE document_id = $1
ORDER BY created_at ASC
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list processing jobs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ProcessingJob, 0)
	for rows.Next() {
		var job domain.ProcessingJob
		var stage, status string
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(
			&job.ID, &job.DocumentID, &stage, &status, &job.Progress, &job.Error,
			&startedAt, &completedAt, &job.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan processing job: %w", err)
		}
		job.Stage = domain.JobStage(stage)
		job.Status = domain.JobStatus(status)
		if startedAt.Valid {
			t := startedAt.Time
			job.StartedAt = &t
		}
		if completedAt.Valid {
			t := completedAt.Time
			job.CompletedAt = &t
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processing jobs: %w", err)
	}
	return out, nil
}

// FailOpenJobs marks every pending or processing job of a document failed.
func (g *Gateway) FailOpenJobs(ctx context.Context, documentID, errMessage string) (int, error) {
	res, err := g.db.ExecContext(ctx, `
UPDATE processing_jobs
SET status = $2, error_message = $3, completed_at = $4
WHERE document_id = $1 AND status IN ('pending', 'processing')
`, documentID, string(domain.JobFailed), errMessage, g.now())
	if err != nil {
		return 0, fmt.Errorf("fail open jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail open jobs rows affected: %w", err)
	}
	return int(affected), nil
}
