package domain

type SearchFilter struct {
	Domains []string
}

type RetrievalResult struct {
	ChunkID    string   `json:"chunk_id"`
	DocumentID string   `json:"document_id"`
	ChunkIndex int      `json:"chunk_index"`
	Content    string   `json:"content"`
	Score      float64  `json:"score"`
	Title      string   `json:"title"`
	Author     string   `json:"author"`
	Tags       []string `json:"tags,omitempty"`
}

// AgentDomain describes a downstream consumer and the keywords that route
// knowledge to it.
type AgentDomain struct {
	Name     string   `json:"name" yaml:"name"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords"`
}

type DomainEntry struct {
	Domain    string `json:"domain"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
}

type PipelineStats struct {
	Documents        int                    `json:"documents"`
	DocumentsByState map[DocumentStatus]int `json:"documents_by_status"`
	Chunks           int                    `json:"chunks"`
	JobsByState      map[JobStatus]int      `json:"jobs_by_status"`
}
