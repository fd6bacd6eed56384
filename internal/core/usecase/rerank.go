package usecase

import (
	"strings"
	"unicode"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

// rescoreLexical scores text matches by the share of query terms each chunk
// contains. Every candidate matched at least one term in the store.
func rescoreLexical(terms []string, results []domain.RetrievalResult) []domain.RetrievalResult {
	out := make([]domain.RetrievalResult, len(results))
	copy(out, results)
	for i := range out {
		out[i].Score = termCoverage(terms, out[i].Content)
	}
	sortResults(out)
	return out
}

func termCoverage(terms []string, content string) float64 {
	if len(terms) == 0 || content == "" {
		return 0
	}
	lower := strings.ToLower(content)
	matches := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			matches++
		}
	}
	return float64(matches) / float64(len(terms))
}

func rerankHybridCandidates(question string, fused []domain.RetrievalResult, topN int) []domain.RetrievalResult {
	if len(fused) == 0 {
		return fused
	}
	if topN <= 0 || topN > len(fused) {
		topN = len(fused)
	}

	head := make([]domain.RetrievalResult, topN)
	copy(head, fused[:topN])
	queryTokens := toTokenSet(question)

	minScore := head[0].Score
	maxScore := head[0].Score
	for _, result := range head[1:] {
		if result.Score < minScore {
			minScore = result.Score
		}
		if result.Score > maxScore {
			maxScore = result.Score
		}
	}

	rangeScore := maxScore - minScore
	normalize := func(v float64) float64 {
		if rangeScore <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / rangeScore
	}

	for i := range head {
		normalizedFused := normalize(head[i].Score)
		overlap := tokenOverlap(queryTokens, toTokenSet(head[i].Content))
		titleBoost := titleTokenHit(queryTokens, head[i].Title)
		head[i].Score = 0.60*normalizedFused + 0.30*overlap + 0.10*titleBoost
	}
	sortResults(head)

	if topN == len(fused) {
		return head
	}

	out := make([]domain.RetrievalResult, 0, len(fused))
	out = append(out, head...)
	for _, result := range fused[topN:] {
		// the unranked tail must stay below the reranked head
		result.Score = 0
		out = append(out, result)
	}
	return out
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func titleTokenHit(query map[string]struct{}, title string) float64 {
	if len(query) == 0 || title == "" {
		return 0
	}
	title = strings.ToLower(title)
	for token := range query {
		if token == "" {
			continue
		}
		if strings.Contains(title, token) {
			return 1
		}
	}
	return 0
}

// queryTerms returns the distinct lowercase terms of a query, falling back
// to the whole query when it has no alphanumeric tokens.
func queryTerms(query string) []string {
	tokens := splitAlphaNumLower(query)
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	if len(out) == 0 {
		if q := strings.ToLower(strings.TrimSpace(query)); q != "" {
			out = append(out, q)
		}
	}
	return out
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
