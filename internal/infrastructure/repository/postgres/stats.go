package postgres

import (
	"context"
	"fmt"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

func (g *Gateway) Stats(ctx context.Context) (domain.PipelineStats, error) {
	stats := domain.PipelineStats{
		DocumentsByState: make(map[domain.DocumentStatus]int),
		JobsByState:      make(map[domain.JobStatus]int),
	}

	rows, err := g.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count documents: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return stats, fmt.Errorf("scan document count: %w", err)
		}
		stats.DocumentsByState[domain.DocumentStatus(status)] = n
		stats.Documents += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return stats, fmt.Errorf("iterate document counts: %w", err)
	}
	rows.Close()

	if err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.Chunks); err != nil {
		return stats, fmt.Errorf("count chunks: %w", err)
	}

	jobRows, err := g.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM processing_jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count jobs: %w", err)
	}
	defer jobRows.Close()
	for jobRows.Next() {
		var status string
		var n int
		if err := jobRows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("scan job count: %w", err)
		}
		stats.JobsByState[domain.JobStatus(status)] = n
	}
	if err := jobRows.Err(); err != nil {
		return stats, fmt.Errorf("iterate job counts: %w", err)
	}
	return stats, nil
}

// DomainRegistry counts searchable documents and chunks per tag.
func (g *Gateway) DomainRegistry(ctx context.Context) ([]domain.DomainEntry, error) {
	rows, err := g.db.QueryContext(ctx, `
SELECT tag, COUNT(DISTINCT d.id), COUNT(c.id)
FROM documents d
CROSS JOIN LATERAL jsonb_array_elements_text(d.tags) AS tag
LEFT JOIN chunks c ON c.document_id = d.id
WHERE d.status IN ('completed', 'extracting')
GROUP BY tag
ORDER BY tag ASC
`)
	if err != nil {
		return nil, fmt.Errorf("domain registry: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DomainEntry, 0)
	for rows.Next() {
		var entry domain.DomainEntry
		if err := rows.Scan(&entry.Domain, &entry.Documents, &entry.Chunks); err != nil {
			return nil, fmt.Errorf("scan domain entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain registry: %w", err)
	}
	return out, nil
}
