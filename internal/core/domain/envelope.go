package domain

import "fmt"

// Operation is the closed set of pipeline operations the orchestrator routes.
type Operation int

const (
	OpIngest Operation = iota + 1
	OpExtract
	OpBuildRegistry
	OpQuery
	OpStatus
	OpMetrics
)

func (o Operation) String() string {
	switch o {
	case OpIngest:
		return "ingest"
	case OpExtract:
		return "extract"
	case OpBuildRegistry:
		return "build-registry"
	case OpQuery:
		return "query"
	case OpStatus:
		return "status"
	case OpMetrics:
		return "metrics"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

func (o Operation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
	SourceError    Source = "error"
)

// Envelope is the uniform result of every orchestrator call.
type Envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Source    Source    `json:"source"`
	Operation Operation `json:"operation"`

	err error
}

func SuccessEnvelope(op Operation, source Source, data any) Envelope {
	return Envelope{Success: true, Data: data, Source: source, Operation: op}
}

func ErrorEnvelope(op Operation, err error) Envelope {
	env := Envelope{Success: false, Source: SourceError, Operation: op, err: err}
	if err != nil {
		env.Error = err.Error()
	}
	return env
}

// Err returns the underlying error of a failed envelope.
func (e Envelope) Err() error {
	return e.err
}
