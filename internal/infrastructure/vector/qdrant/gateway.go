package qdrant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
	"github.com/kirillkom/trading-knowledge/internal/core/ports"
)

// Gateway moves semantic search from pgvector to a Qdrant index. Chunk rows
// stay in the wrapped gateway; their embeddings are mirrored into the index
// and become searchable when the document reaches a searchable status.
type Gateway struct {
	ports.PersistenceGateway
	index  *Index
	logger *slog.Logger
}

func Wrap(inner ports.PersistenceGateway, index *Index, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		PersistenceGateway: inner,
		index:              index,
		logger:             logger,
	}
}

func (g *Gateway) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if err := g.PersistenceGateway.InsertChunks(ctx, chunks); err != nil {
		return err
	}
	if err := g.index.UpsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	return nil
}

func (g *Gateway) DeleteChunks(ctx context.Context, documentID string) (int, error) {
	n, err := g.PersistenceGateway.DeleteChunks(ctx, documentID)
	if err != nil {
		return n, err
	}
	if err := g.index.DeleteDocument(ctx, documentID); err != nil {
		return n, fmt.Errorf("delete indexed chunks: %w", err)
	}
	return n, nil
}

// UpdateDocumentStatus toggles index visibility. Index failures are logged:
// the row is already written and lexical search still sees it.
func (g *Gateway) UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	if err := g.PersistenceGateway.UpdateDocumentStatus(ctx, id, status, errMessage); err != nil {
		return err
	}

	searchable := status.Ingested()
	payload := map[string]any{"searchable": searchable}
	if searchable {
		doc, err := g.PersistenceGateway.GetDocument(ctx, id)
		if err == nil {
			payload["title"] = doc.Title
			payload["author"] = doc.Author
			payload["tags"] = doc.Tags
		}
	}
	if err := g.index.SetDocumentPayload(ctx, id, payload); err != nil {
		g.logger.Warn("vector_index_update_failed",
			"document_id", id,
			"status", string(status),
			"error", err,
		)
	}
	return nil
}

func (g *Gateway) SearchSimilar(ctx context.Context, vector []float32, filter domain.SearchFilter, limit int) ([]domain.RetrievalResult, error) {
	return g.index.Search(ctx, vector, filter, limit)
}
