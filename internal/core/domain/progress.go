package domain

type ProgressStage string

const (
	ProgressMetadata   ProgressStage = "metadata"
	ProgressParsing    ProgressStage = "parsing"
	ProgressProcessing ProgressStage = "processing"
	ProgressComplete   ProgressStage = "complete"
	ProgressFailed     ProgressStage = "failed"
)

// Percent is the fixed completion percentage reported when a stage starts.
func (s ProgressStage) Percent() int {
	switch s {
	case ProgressMetadata:
		return 0
	case ProgressParsing:
		return 20
	case ProgressProcessing:
		return 50
	case ProgressComplete:
		return 100
	default:
		return 0
	}
}

type ProgressEvent struct {
	Stage   ProgressStage `json:"stage"`
	Percent int           `json:"percent"`
	Message string        `json:"message,omitempty"`
}

type ProgressFunc func(ProgressEvent)

// ChangeEvent describes a write to the document catalog, job log or chunk store.
type ChangeEvent struct {
	Entity     string `json:"entity"`
	Action     string `json:"action"`
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Status     string `json:"status,omitempty"`
	At         int64  `json:"at"`
}

const (
	EntityDocument = "document"
	EntityJob      = "job"
	EntityChunk    = "chunk"

	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)
