package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

const statusBodyLimit = 2048

// StatusError is a non-2xx answer from an HTTP dependency.
type StatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

// NewStatusError keeps the first 2KiB of the response body for diagnostics.
func NewStatusError(service, operation string, resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, statusBodyLimit))
	return &StatusError{
		Service:    service,
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(raw)),
	}
}

func (e *StatusError) Error() string {
	if e == nil {
		return "http status error"
	}
	if e.Body == "" {
		return fmt.Sprintf("%s %s status: %s", e.Service, e.Operation, e.Status)
	}
	return fmt.Sprintf("%s %s status: %s: %s", e.Service, e.Operation, e.Status, e.Body)
}

// GatewayStatus matches the statuses that usually clear on their own.
func GatewayStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Policy decides how one dependency's errors count against retries and the
// breaker. Caller cancellation never counts.
type Policy struct {
	// RetryStatus selects the HTTP statuses worth another attempt; those
	// also count as breaker failures. Other statuses count as neither.
	RetryStatus func(code int) bool
	// Transient matches dependency-specific errors to retry.
	Transient func(err error) bool
	// RecordDeadline counts an expired deadline as a breaker failure.
	RecordDeadline bool
}

func (p Policy) Classify(err error) ErrorClassification {
	switch {
	case err == nil:
		return ErrorClassification{}
	case errors.Is(err, context.Canceled):
		return ErrorClassification{}
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{RecordFailure: p.RecordDeadline}
	case IsCircuitOpen(err):
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		retry := p.RetryStatus != nil && p.RetryStatus(statusErr.StatusCode)
		return ErrorClassification{Retryable: retry, RecordFailure: retry}
	}
	if p.Transient != nil && p.Transient(err) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return ErrorClassification{RecordFailure: true}
}

// WrapTemporary tags err as ErrTemporary when the policy would retry it.
func (p Policy) WrapTemporary(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if p.Classify(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
