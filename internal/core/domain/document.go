package domain

import "time"

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusIngesting  DocumentStatus = "ingesting"
	StatusExtracting DocumentStatus = "extracting"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Ingested reports whether chunks for the document are final and searchable.
func (s DocumentStatus) Ingested() bool {
	return s == StatusCompleted || s == StatusExtracting
}

// DefaultStaleAfter is how long a pending or ingesting row may go without
// an update before it counts as abandoned.
const DefaultStaleAfter = 30 * time.Minute

// Resumable reports whether a re-ingestion may take over the row. Pending and
// ingesting rows still belong to a live ingestion until they go stale.
func (d *Document) Resumable(now time.Time, staleAfter time.Duration) bool {
	switch d.Status {
	case StatusFailed:
		return true
	case StatusPending, StatusIngesting:
		return d.UpdatedAt.Before(now.Add(-staleAfter))
	default:
		return false
	}
}

type Document struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Author      string         `json:"author"`
	ISBN        string         `json:"isbn,omitempty"`
	Year        int            `json:"year,omitempty"`
	Fingerprint string         `json:"fingerprint"`
	FileSize    int64          `json:"file_size"`
	Filename    string         `json:"filename"`
	MimeType    string         `json:"mime_type"`
	StoragePath string         `json:"storage_path"`
	UserID      string         `json:"user_id,omitempty"`
	Status      DocumentStatus `json:"status"`
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DocumentMetadata is the caller-supplied description of an upload.
type DocumentMetadata struct {
	Title    string         `json:"title"`
	Author   string         `json:"author"`
	ISBN     string         `json:"isbn,omitempty"`
	Year     int            `json:"year,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Domains  []string       `json:"domains,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	Filename string         `json:"filename,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
}

type JobStage string

const (
	StageOCR           JobStage = "ocr"
	StageChunking      JobStage = "chunking"
	StageEmbedding     JobStage = "embedding"
	StageExtraction    JobStage = "extraction"
	StageNormalization JobStage = "normalization"
	StageValidation    JobStage = "validation"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

type ProcessingJob struct {
	ID          string     `json:"id"`
	DocumentID  string     `json:"document_id"`
	Stage       JobStage   `json:"stage"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Index      int       `json:"index"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// ClampProgress keeps a job percentage inside [0,100].
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
