package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

type domainRegistryFile struct {
	Domains []domain.AgentDomain `yaml:"domains"`
}

// LoadDomainRegistry returns the agent domains used for keyword tagging.
// Without a registry file every default domain is returned with no keywords.
func LoadDomainRegistry(cfg Config) ([]domain.AgentDomain, error) {
	if strings.TrimSpace(cfg.DomainRegistryFile) == "" {
		out := make([]domain.AgentDomain, 0, len(cfg.DefaultAgentDomains))
		for _, name := range cfg.DefaultAgentDomains {
			out = append(out, domain.AgentDomain{Name: name})
		}
		return out, nil
	}

	data, err := os.ReadFile(cfg.DomainRegistryFile)
	if err != nil {
		return nil, fmt.Errorf("read domain registry: %w", err)
	}

	var file domainRegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse domain registry: %w", err)
	}

	out := make([]domain.AgentDomain, 0, len(file.Domains))
	for _, d := range file.Domains {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("parse domain registry: domain without name")
		}
		keywords := make([]string, 0, len(d.Keywords))
		for _, k := range d.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				keywords = append(keywords, k)
			}
		}
		out = append(out, domain.AgentDomain{Name: name, Keywords: keywords})
	}
	return out, nil
}
