package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

const searchColumns = `c.id, c.document_id, c.chunk_index, c.content, d.title, d.author, d.tags`

// Only chunks of documents whose ingestion finished are searchable.
const searchableDocuments = `d.status IN ('completed', 'extracting')
	AND ($2::jsonb = '[]'::jsonb OR d.tags ?| ARRAY(SELECT jsonb_array_elements_text($2::jsonb)))`

// SearchSimilar ranks chunks by cosine similarity to vector. Score is
// 1 - cosine distance.
func (g *Gateway) SearchSimilar(ctx context.Context, vector []float32, filter domain.SearchFilter, limit int) ([]domain.RetrievalResult, error) {
	if len(vector) == 0 || limit <= 0 {
		return []domain.RetrievalResult{}, nil
	}
	domainsJSON, err := jsonList(filter.Domains)
	if err != nil {
		return nil, err
	}

	rows, err := g.db.QueryContext(ctx, `
SELECT `+searchColumns+`, 1 - (c.embedding <=> $1) AS score
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE c.embedding IS NOT NULL AND `+searchableDocuments+`
ORDER BY c.embedding <=> $1 ASC, c.document_id ASC, c.chunk_index ASC
LIMIT $3
`, pgvector.NewVector(vector), domainsJSON, limit)
	if err != nil {
		return nil, fmt.Errorf("search similar chunks: %w", err)
	}
	defer rows.Close()
	return scanResults(rows, true)
}

// SearchText returns chunks containing any of terms, case-insensitively.
// Score is the share of terms a chunk contains; the candidate window is cut
// after ranking by it.
func (g *Gateway) SearchText(ctx context.Context, terms []string, filter domain.SearchFilter, limit int) ([]domain.RetrievalResult, error) {
	patterns := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		patterns = append(patterns, "%"+escapeLike(term)+"%")
	}
	if len(patterns) == 0 || limit <= 0 {
		return []domain.RetrievalResult{}, nil
	}
	patternsJSON, err := json.Marshal(patterns)
	if err != nil {
		return nil, fmt.Errorf("marshal search patterns: %w", err)
	}
	domainsJSON, err := jsonList(filter.Domains)
	if err != nil {
		return nil, err
	}

	rows, err := g.db.QueryContext(ctx, `
SELECT `+searchColumns+`,
	(SELECT count(*) FROM jsonb_array_elements_text($1::jsonb) AS p(pattern) WHERE c.content ILIKE p.pattern)::float8
		/ jsonb_array_length($1::jsonb) AS score
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE c.content ILIKE ANY(ARRAY(SELECT jsonb_array_elements_text($1::jsonb))) AND `+searchableDocuments+`
ORDER BY score DESC, c.document_id ASC, c.chunk_index ASC
LIMIT $3
`, patternsJSON, domainsJSON, limit)
	if err != nil {
		return nil, fmt.Errorf("search text chunks: %w", err)
	}
	defer rows.Close()
	return scanResults(rows, true)
}

func scanResults(rows *sql.Rows, withScore bool) ([]domain.RetrievalResult, error) {
	out := make([]domain.RetrievalResult, 0)
	for rows.Next() {
		var res domain.RetrievalResult
		var tagsRaw []byte
		dest := []any{&res.ChunkID, &res.DocumentID, &res.ChunkIndex, &res.Content, &res.Title, &res.Author, &tagsRaw}
		if withScore {
			dest = append(dest, &res.Score)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		if len(tagsRaw) > 0 {
			if err := json.Unmarshal(tagsRaw, &res.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal result tags: %w", err)
			}
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
