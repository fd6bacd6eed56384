package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kirillkom/trading-knowledge/internal/config"
	"github.com/kirillkom/trading-knowledge/internal/core/ports"
	"github.com/kirillkom/trading-knowledge/internal/observability/metrics"
)

const serviceName = "api"

// Pinger reports whether the backing database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators behind the HTTP surface. Storage,
// Changes, Readiness and Metrics may be nil; their routes then answer 503
// or are absent.
type Dependencies struct {
	Orchestrator ports.Orchestrator
	Searcher     ports.KnowledgeSearcher
	Documents    ports.DocumentReader
	Storage      ports.ObjectStorage
	Changes      ports.ChangeSubscriber
	Readiness    Pinger
	Metrics      *metrics.HTTPServerMetrics
}

type Router struct {
	cfg          config.Config
	orchestrator ports.Orchestrator
	searcher     ports.KnowledgeSearcher
	documents    ports.DocumentReader
	storage      ports.ObjectStorage
	changes      ports.ChangeSubscriber
	readiness    Pinger
	metrics      *metrics.HTTPServerMetrics
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	return &Router{
		cfg:          cfg,
		orchestrator: deps.Orchestrator,
		searcher:     deps.Searcher,
		documents:    deps.Documents,
		storage:      deps.Storage,
		changes:      deps.Changes,
		readiness:    deps.Readiness,
		metrics:      deps.Metrics,
	}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, "Retry-After"},
		MaxAge:         300,
	}))
	if rt.metrics != nil {
		r.Use(func(next http.Handler) http.Handler {
			return rt.metrics.Middleware(serviceName, next)
		})
		r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	}

	r.Get("/healthz", rt.healthz)
	r.Get("/readyz", rt.readyz)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(func(next http.Handler) http.Handler {
			return rateLimitMiddleware(next, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
		})

		// long-lived streams stay outside the in-flight gate
		v1.Get("/changes", rt.streamChanges)

		v1.Group(func(gated chi.Router) {
			gated.Use(func(next http.Handler) http.Handler {
				return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
			})

			gated.Post("/documents", rt.uploadDocument)
			gated.Get("/documents/{documentID}", rt.getDocument)
			gated.Get("/documents/{documentID}/download", rt.downloadDocument)
			gated.Post("/documents/{documentID}/extract", rt.extractDocument)

			gated.Post("/registry/build", rt.buildRegistry)
			gated.Post("/query", rt.query)
			gated.Get("/search", rt.search)
			gated.Get("/pipeline/status", rt.pipelineStatus)
			gated.Get("/pipeline/metrics", rt.pipelineMetrics)
		})
	})

	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	if rt.readiness == nil {
		writeError(w, http.StatusServiceUnavailable, "readiness check is not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := rt.readiness.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, mapErrorToHTTPStatus(err), err.Error())
}
