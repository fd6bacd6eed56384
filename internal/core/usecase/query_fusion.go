package usecase

import (
	"fmt"
	"sort"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

type fusedCandidate struct {
	result domain.RetrievalResult
	score  float64
}

func fuseCandidatesRRF(semantic, lexical []domain.RetrievalResult, rrfK int) []domain.RetrievalResult {
	if rrfK <= 0 {
		rrfK = 60
	}

	acc := make(map[string]fusedCandidate, len(semantic)+len(lexical))
	addList := func(results []domain.RetrievalResult) {
		for rank, result := range results {
			key := resultKey(result)
			candidate := acc[key]
			candidate.result = preferRicherResult(candidate.result, result)
			candidate.score += 1.0 / float64(rrfK+rank+1)
			acc[key] = candidate
		}
	}

	addList(semantic)
	addList(lexical)

	out := make([]domain.RetrievalResult, 0, len(acc))
	for _, c := range acc {
		result := c.result
		result.Score = c.score
		out = append(out, result)
	}
	sortResults(out)
	return out
}

// sortResults orders by score desc, then document id, then chunk index.
func sortResults(results []domain.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
}

func trimResults(results []domain.RetrievalResult, limit int) []domain.RetrievalResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

func resultKey(result domain.RetrievalResult) string {
	if result.ChunkID != "" {
		return result.ChunkID
	}
	return fmt.Sprintf("%s:%d", result.DocumentID, result.ChunkIndex)
}

func preferRicherResult(current, candidate domain.RetrievalResult) domain.RetrievalResult {
	if current.DocumentID == "" && current.ChunkID == "" {
		return candidate
	}
	if current.Content == "" && candidate.Content != "" {
		current.Content = candidate.Content
	}
	if current.Title == "" && candidate.Title != "" {
		current.Title = candidate.Title
	}
	if current.Author == "" && candidate.Author != "" {
		current.Author = candidate.Author
	}
	if len(current.Tags) == 0 && len(candidate.Tags) > 0 {
		current.Tags = candidate.Tags
	}
	return current
}
