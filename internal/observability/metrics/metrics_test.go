package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestNormalizePathCollapsesDocumentIDs(t *testing.T) {
	cases := map[string]string{
		"/v1/documents/abc":          "/v1/documents/{document_id}",
		"/v1/documents/abc/download": "/v1/documents/{document_id}/download",
		"/v1/query":                  "/v1/query",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTTPServerMetricsExposePipelineSeries(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.RecordEnvelope("query", "fallback", 20*time.Millisecond)
	m.RecordProbe(false)
	m.RecordIngest("duplicate", 0, time.Millisecond)
	m.RecordRetrieval("lexical", 0, time.Millisecond)

	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil))

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`tk_pipeline_envelopes_total{operation="query",service="api",source="fallback"} 1`,
		`tk_pipeline_probe_results_total{result="unavailable",service="api"} 1`,
		`tk_ingest_documents_total{outcome="duplicate",service="api"} 1`,
		`tk_retrieval_no_results_total{mode="lexical",service="api"} 1`,
		`tk_http_requests_total{method="GET",path="/v1/documents/{document_id}",service="api",status="202"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}

func TestWorkerMetricsCountRecoveredDocuments(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartSweep()
	m.FinishSweep("worker", 3, time.Second, nil)

	body := scrape(t, m.Handler())
	if !strings.Contains(body, `tk_worker_stale_documents_failed_total{service="worker"} 3`) {
		t.Fatalf("missing recovered counter:\n%s", body)
	}
	if !strings.Contains(body, `tk_worker_stale_sweeps_total{service="worker",status="success"} 1`) {
		t.Fatalf("missing sweep counter:\n%s", body)
	}
}
