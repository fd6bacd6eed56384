package ollama

import "github.com/kirillkom/trading-knowledge/internal/infrastructure/resilience"

// embedPolicy retries overloaded or restarting Ollama instances. A slow
// model load is not an outage, so deadlines do not trip the breaker.
var embedPolicy = resilience.Policy{RetryStatus: resilience.GatewayStatus}
