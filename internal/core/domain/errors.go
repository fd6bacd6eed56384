package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicate        = errors.New("duplicate document")
	ErrTemporary        = errors.New("temporary failure")
	ErrUnavailable      = errors.New("service unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// StageError names the ingestion stage that failed.
type StageError struct {
	Stage ProgressStage
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return "ingestion stage error"
	}
	return fmt.Sprintf("ingestion stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// FailedStage returns the stage recorded in err, if any.
func FailedStage(err error) (ProgressStage, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}
