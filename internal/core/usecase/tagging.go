package usecase

import (
	"sort"
	"strings"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

// DomainTagger assigns agent domains to a document. Explicit domains and
// keyword hits are merged; when neither yields a domain the defaults apply.
type DomainTagger struct {
	registry []domain.AgentDomain
	defaults []string
}

func NewDomainTagger(registry []domain.AgentDomain, defaults []string) *DomainTagger {
	return &DomainTagger{
		registry: registry,
		defaults: normalizeTags(defaults),
	}
}

func (t *DomainTagger) Tags(explicitDomains, freeTags []string, text string) []string {
	domains := normalizeTags(explicitDomains)
	if t != nil {
		domains = append(domains, t.keywordDomains(text)...)
		if len(normalizeTags(domains)) == 0 {
			domains = append(domains, t.defaults...)
		}
	}
	return normalizeTags(append(domains, freeTags...))
}

func (t *DomainTagger) keywordDomains(text string) []string {
	if len(t.registry) == 0 || strings.TrimSpace(text) == "" {
		return nil
	}
	lower := strings.ToLower(text)
	tokens := toTokenSet(text)

	out := make([]string, 0, len(t.registry))
	for _, d := range t.registry {
		for _, keyword := range d.Keywords {
			if keywordHit(lower, tokens, keyword) {
				out = append(out, d.Name)
				break
			}
		}
	}
	return out
}

// keywordHit matches single-word keywords on token boundaries and phrases
// as substrings.
func keywordHit(lowerText string, tokens map[string]struct{}, keyword string) bool {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return false
	}
	parts := splitAlphaNumLower(keyword)
	if len(parts) == 1 && parts[0] == keyword {
		_, ok := tokens[keyword]
		return ok
	}
	return strings.Contains(lowerText, keyword)
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
