package httpadapter

import (
	"net/http"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrDocumentNotFound), domain.IsKind(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrDuplicate):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// envelopeStatus keeps 200 for every served envelope and maps failed ones by
// their underlying error kind.
func envelopeStatus(env domain.Envelope) int {
	if env.Success {
		return http.StatusOK
	}
	return mapErrorToHTTPStatus(env.Err())
}
