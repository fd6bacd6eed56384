package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

const documentColumns = `id, title, author, isbn, year, fingerprint, file_size, filename, mime_type, storage_path, user_id, status, tags, metadata, error_message, created_at, updated_at`

func (g *Gateway) CreateDocument(ctx context.Context, doc *domain.Document) error {
	tagsJSON, err := json.Marshal(nonNilTags(doc.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = g.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`,
		doc.ID, doc.Title, doc.Author, doc.ISBN, doc.Year, doc.Fingerprint, doc.FileSize, doc.Filename,
		doc.MimeType, doc.StoragePath, doc.UserID, string(doc.Status), tagsJSON, metadataJSON, doc.Error,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrDuplicate, "insert document", err)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (g *Gateway) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := g.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// FindDocumentByFingerprint returns nil without error when no row matches.
func (g *Gateway) FindDocumentByFingerprint(ctx context.Context, fingerprint string) (*domain.Document, error) {
	row := g.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE fingerprint = $1
`, fingerprint)
	return findDocument(row, "find document by fingerprint")
}

// FindDocumentByTitleAuthor matches case-insensitively and prefers the
// oldest row.
func (g *Gateway) FindDocumentByTitleAuthor(ctx context.Context, title, author string) (*domain.Document, error) {
	row := g.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE lower(title) = lower($1) AND lower(author) = lower($2)
ORDER BY created_at ASC
LIMIT 1
`, title, author)
	return findDocument(row, "find document by title and author")
}

func (g *Gateway) UpdateDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	res, err := g.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, g.now())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireAffected(res, domain.ErrDocumentNotFound, "update document status", id)
}

func (g *Gateway) ClaimDocument(ctx context.Context, id string, seen domain.DocumentStatus, seenAt time.Time) (bool, error) {
	res, err := g.db.ExecContext(ctx, `
UPDATE documents
SET status = $4, error_message = '', updated_at = $5
WHERE id = $1 AND status = $2 AND updated_at = $3
`, id, string(seen), seenAt, string(domain.StatusPending), g.now())
	if err != nil {
		return false, fmt.Errorf("claim document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim document rows affected: %w", err)
	}
	return affected == 1, nil
}

func (g *Gateway) SetDocumentTags(ctx context.Context, id string, tags []string) error {
	tagsJSON, err := json.Marshal(nonNilTags(tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	res, err := g.db.ExecContext(ctx, `
UPDATE documents
SET tags = $2, updated_at = $3
WHERE id = $1
`, id, tagsJSON, g.now())
	if err != nil {
		return fmt.Errorf("set document tags: %w", err)
	}
	return requireAffected(res, domain.ErrDocumentNotFound, "set document tags", id)
}

func (g *Gateway) ListStaleDocuments(ctx context.Context, statuses []domain.DocumentStatus, updatedBefore time.Time, limit int) ([]domain.Document, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	statusJSON, err := jsonList(statuses)
	if err != nil {
		return nil, err
	}

	rows, err := g.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE status IN (SELECT jsonb_array_elements_text($1::jsonb)) AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3
`, statusJSON, updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale document: %w", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale documents: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var status string
	var tagsRaw, metadataRaw []byte

	if err := row.Scan(
		&doc.ID, &doc.Title, &doc.Author, &doc.ISBN, &doc.Year, &doc.Fingerprint, &doc.FileSize,
		&doc.Filename, &doc.MimeType, &doc.StoragePath, &doc.UserID, &status, &tagsRaw, &metadataRaw,
		&doc.Error, &doc.CreatedAt, &doc.UpdatedAt,
	); err != nil {
		return nil, err
	}

	doc.Status = domain.DocumentStatus(status)
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &doc.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	doc.Tags = nonNilTags(doc.Tags)
	return &doc, nil
}

func findDocument(row *sql.Row, op string) (*domain.Document, error) {
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return doc, nil
}

func requireAffected(res sql.Result, kind error, op, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(kind, op, fmt.Errorf("id=%s", id))
	}
	return nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
