package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

// InsertChunks writes all chunks of a batch in one transaction.
func (g *Gateway) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (id, document_id, chunk_index, content, token_count, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		var embedding any
		if len(ch.Embedding) > 0 {
			if len(ch.Embedding) != g.embeddingDim {
				return domain.WrapError(domain.ErrInvalidInput, "insert chunk",
					fmt.Errorf("embedding dimension %d, expected %d", len(ch.Embedding), g.embeddingDim))
			}
			embedding = pgvector.NewVector(ch.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.Index, ch.Content, ch.TokenCount, embedding, ch.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

func (g *Gateway) DeleteChunks(ctx context.Context, documentID string) (int, error) {
	res, err := g.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete chunks rows affected: %w", err)
	}
	return int(affected), nil
}
