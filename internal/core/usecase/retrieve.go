package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
	"github.com/kirillkom/trading-knowledge/internal/core/ports"
)

const (
	RetrievalModeLexical = "lexical"
	RetrievalModeHybrid  = "hybrid"
)

type RetrievalObserver interface {
	RecordRetrieval(mode string, results int, d time.Duration)
}

type RetrievalOptions struct {
	DefaultLimit int
	MaxLimit     int
	Candidates   int
	RRFK         int
	Embedder     ports.Embedder
	Observer     RetrievalObserver
	Logger       *slog.Logger
}

// RetrievalWorkflow ranks chunks of searchable documents for a query.
type RetrievalWorkflow struct {
	searcher     ports.ChunkSearcher
	embedder     ports.Embedder
	observer     RetrievalObserver
	logger       *slog.Logger
	defaultLimit int
	maxLimit     int
	candidates   int
	rrfK         int
}

func NewRetrievalWorkflow(searcher ports.ChunkSearcher, options RetrievalOptions) *RetrievalWorkflow {
	defaultLimit := options.DefaultLimit
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	maxLimit := options.MaxLimit
	if maxLimit <= 0 {
		maxLimit = 50
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	candidates := options.Candidates
	if candidates <= 0 {
		candidates = 30
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalWorkflow{
		searcher:     searcher,
		embedder:     options.Embedder,
		observer:     options.Observer,
		logger:       logger,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		candidates:   candidates,
		rrfK:         options.RRFK,
	}
}

func (w *RetrievalWorkflow) Search(ctx context.Context, query string, domains []string, limit int) ([]domain.RetrievalResult, error) {
	started := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search", errors.New("query is required"))
	}
	limit = w.normalizeLimit(limit)
	candidates := w.candidates
	if candidates < limit {
		candidates = limit
	}
	filter := domain.SearchFilter{Domains: normalizeTags(domains)}
	terms := queryTerms(query)

	lexical, err := w.searcher.SearchText(ctx, terms, filter, candidates)
	if err != nil {
		return nil, fmt.Errorf("search text: %w", err)
	}
	results := rescoreLexical(terms, lexical)
	mode := RetrievalModeLexical

	if semantic, ok := w.searchSemantic(ctx, query, filter, candidates); ok {
		results = rerankHybridCandidates(query, fuseCandidatesRRF(semantic, results, w.rrfK), 0)
		mode = RetrievalModeHybrid
	}

	results = trimResults(results, limit)
	if results == nil {
		results = []domain.RetrievalResult{}
	}
	if w.observer != nil {
		w.observer.RecordRetrieval(mode, len(results), time.Since(started))
	}
	return results, nil
}

// searchSemantic reports false when no embedder is configured or the
// vector path fails; callers keep the lexical ranking.
func (w *RetrievalWorkflow) searchSemantic(ctx context.Context, query string, filter domain.SearchFilter, limit int) ([]domain.RetrievalResult, bool) {
	if w.embedder == nil {
		return nil, false
	}
	vector, err := w.embedder.EmbedQuery(ctx, query)
	if err != nil {
		w.logger.Warn("query_embedding_failed", "error", err)
		return nil, false
	}
	semantic, err := w.searcher.SearchSimilar(ctx, vector, filter, limit)
	if err != nil {
		w.logger.Warn("semantic_search_failed", "error", err)
		return nil, false
	}
	return semantic, true
}

func (w *RetrievalWorkflow) normalizeLimit(limit int) int {
	if limit <= 0 {
		return w.defaultLimit
	}
	if limit > w.maxLimit {
		return w.maxLimit
	}
	return limit
}
