package httpadapter

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

func (rt *Router) buildRegistry(w http.ResponseWriter, r *http.Request) {
	env := rt.orchestrator.BuildRegistry(r.Context())
	writeJSON(w, envelopeStatus(env), env)
}

func (rt *Router) query(w http.ResponseWriter, r *http.Request) {
	var req domain.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	env := rt.orchestrator.Query(r.Context(), req)
	writeJSON(w, envelopeStatus(env), env)
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit := 0
	if raw := params.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}

	results, err := rt.searcher.Search(r.Context(), params.Get("q"), splitList(params["domain"]), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   params.Get("q"),
		"results": results,
	})
}

func (rt *Router) pipelineStatus(w http.ResponseWriter, r *http.Request) {
	env := rt.orchestrator.Status(r.Context())
	writeJSON(w, envelopeStatus(env), env)
}

func (rt *Router) pipelineMetrics(w http.ResponseWriter, r *http.Request) {
	env := rt.orchestrator.Metrics(r.Context())
	writeJSON(w, envelopeStatus(env), env)
}
