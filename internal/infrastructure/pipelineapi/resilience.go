package pipelineapi

import (
	"github.com/kirillkom/trading-knowledge/internal/core/domain"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/resilience"
)

// callPolicy leaves deadlines out of the breaker: the prober already takes a
// slow service out of rotation and the orchestrator falls back at once.
var callPolicy = resilience.Policy{RetryStatus: resilience.GatewayStatus}

// wrapUnavailable tags every remote failure as ErrUnavailable so the
// orchestrator routes it to the fallback path.
func wrapUnavailable(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrUnavailable) {
		return err
	}
	return domain.WrapError(domain.ErrUnavailable, "pipeline "+operation, err)
}
