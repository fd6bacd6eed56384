package httpadapter

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/config"
	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

type orchestratorFake struct {
	ingestReq domain.IngestRequest
	queryReq  domain.QueryRequest
	extracted string
	env       domain.Envelope
	progress  []domain.ProgressEvent
}

func (f *orchestratorFake) envelope(op domain.Operation) domain.Envelope {
	if f.env.Operation != 0 {
		return f.env
	}
	return domain.SuccessEnvelope(op, domain.SourceFallback, map[string]string{"op": op.String()})
}

func (f *orchestratorFake) Ingest(_ context.Context, req domain.IngestRequest, progress domain.ProgressFunc) domain.Envelope {
	f.ingestReq = req
	if progress != nil {
		for _, e := range f.progress {
			progress(e)
		}
	}
	return f.envelope(domain.OpIngest)
}

func (f *orchestratorFake) Extract(_ context.Context, documentID string) domain.Envelope {
	f.extracted = documentID
	return f.envelope(domain.OpExtract)
}

func (f *orchestratorFake) BuildRegistry(context.Context) domain.Envelope {
	return f.envelope(domain.OpBuildRegistry)
}

func (f *orchestratorFake) Query(_ context.Context, req domain.QueryRequest) domain.Envelope {
	f.queryReq = req
	return f.envelope(domain.OpQuery)
}

func (f *orchestratorFake) Status(context.Context) domain.Envelope  { return f.envelope(domain.OpStatus) }
func (f *orchestratorFake) Metrics(context.Context) domain.Envelope { return f.envelope(domain.OpMetrics) }

type searcherFake struct {
	query   string
	domains []string
	limit   int
	err     error
}

func (f *searcherFake) Search(_ context.Context, query string, domains []string, limit int) ([]domain.RetrievalResult, error) {
	f.query, f.domains, f.limit = query, domains, limit
	if f.err != nil {
		return nil, f.err
	}
	return []domain.RetrievalResult{{ChunkID: "c-1", DocumentID: "doc-1", Content: "kelly", Score: 1}}, nil
}

type documentsFake struct {
	err error
}

func (f documentsFake) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, Title: "Options Pricing", StoragePath: "u/1/a.pdf", Status: domain.StatusCompleted}, nil
}

func (f documentsFake) ListJobs(context.Context, string) ([]domain.ProcessingJob, error) {
	return []domain.ProcessingJob{{ID: "job-1", Stage: domain.StageChunking, Status: domain.JobCompleted, Progress: 100}}, nil
}

type signerFake struct{}

func (signerFake) Save(context.Context, string, io.Reader, string) error { return nil }

func (signerFake) Open(context.Context, string) (io.ReadCloser, error) { return nil, domain.ErrDocumentNotFound }

func (signerFake) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://bucket.example/" + key, nil
}

type routerFixture struct {
	orch     *orchestratorFake
	searcher *searcherFake
	handler  http.Handler
}

func newRouterFixture(cfg config.Config, docs documentsFake) *routerFixture {
	if cfg.SignedURLTTL == 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}
	f := &routerFixture{orch: &orchestratorFake{}, searcher: &searcherFake{}}
	f.handler = NewRouter(cfg, Dependencies{
		Orchestrator: f.orch,
		Searcher:     f.searcher,
		Documents:    docs,
		Storage:      signerFake{},
	}).Handler()
	return f
}

func newTestHandler(cfg config.Config) http.Handler {
	return newRouterFixture(cfg, documentsFake{}).handler
}
