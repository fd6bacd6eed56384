package domain

import (
	"errors"
	"fmt"
	"strings"
)

// IngestRequest carries one upload into the ingestion workflow.
type IngestRequest struct {
	Content  []byte
	Metadata DocumentMetadata

	// StoragePath skips the object-storage upload when the bytes are already stored.
	StoragePath string
	// Text skips extraction when the caller already has the document text.
	Text string

	ChunkSize    int
	ChunkOverlap int
}

// Validate checks an upload before anything is written and returns the
// chunk size and overlap to use. Request values override the defaults only
// when at least one of them is set.
func (r IngestRequest) Validate(defaultSize, defaultOverlap int) (int, int, error) {
	if len(r.Content) == 0 {
		return 0, 0, WrapError(ErrInvalidInput, "validate upload", errors.New("empty content"))
	}
	if strings.TrimSpace(r.Metadata.Title) == "" {
		return 0, 0, WrapError(ErrInvalidInput, "validate upload", errors.New("title is required"))
	}
	size, overlap := defaultSize, defaultOverlap
	if r.ChunkSize != 0 || r.ChunkOverlap != 0 {
		size, overlap = r.ChunkSize, r.ChunkOverlap
	}
	if overlap < 0 || size <= overlap {
		return 0, 0, WrapError(
			ErrInvalidInput,
			"validate chunk params",
			fmt.Errorf("size %d must exceed overlap %d >= 0", size, overlap),
		)
	}
	return size, overlap, nil
}

type IngestResult struct {
	DocumentID  string `json:"document_id"`
	ChunkCount  int    `json:"chunk_count"`
	IsDuplicate bool   `json:"is_duplicate"`
}

type QueryRequest struct {
	Query   string   `json:"query"`
	Mode    string   `json:"mode,omitempty"`
	Domains []string `json:"domains,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

type QueryResult struct {
	Query   string            `json:"query"`
	Mode    string            `json:"mode"`
	Results []RetrievalResult `json:"results"`
}

type ExtractionTicket struct {
	DocumentID string    `json:"document_id"`
	JobID      string    `json:"job_id"`
	Stage      JobStage  `json:"stage"`
	Status     JobStatus `json:"status"`
}

type RegistrySnapshot struct {
	Domains []DomainEntry `json:"domains"`
}

type PipelineStatus struct {
	Service string        `json:"service"`
	Healthy bool          `json:"healthy"`
	Stats   PipelineStats `json:"stats"`
}

// DedupMode selects the key used to find an existing document for an upload.
type DedupMode string

const (
	DedupByFingerprint DedupMode = "fingerprint"
	DedupByTitleAuthor DedupMode = "title_author"
)

type PipelineMetrics struct {
	Service        string        `json:"service"`
	Stats          PipelineStats `json:"stats"`
	OpenJobs       int           `json:"open_jobs"`
	FailedJobs     int           `json:"failed_jobs"`
	SearchableDocs int           `json:"searchable_documents"`
}
