package usecase

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

const sampleText = "abcdefghij"

type progressRecorder struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (r *progressRecorder) record(e domain.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *progressRecorder) stages() []domain.ProgressStage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ProgressStage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

type ingestObserverFake struct {
	outcomes []string
}

func (o *ingestObserverFake) RecordIngest(outcome string, _ int, _ time.Duration) {
	o.outcomes = append(o.outcomes, outcome)
}

func newTestIngest(gw *memGateway, storage *memStorage, options IngestOptions) *IngestWorkflow {
	if options.ChunkSize == 0 {
		options.ChunkSize = 4
		options.ChunkOverlap = 1
	}
	w := NewIngestWorkflow(gw, storage, stubExtractor{text: sampleText}, runeChunker{}, options)
	w.now = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }
	return w
}

func sampleRequest(content string) domain.IngestRequest {
	return domain.IngestRequest{
		Content: []byte(content),
		Metadata: domain.DocumentMetadata{
			Title:    "Market Microstructure",
			Author:   "O'Hara",
			Filename: "micro.pdf",
			MimeType: "application/pdf",
		},
	}
}

func TestIngestEmitsStagesInOrder(t *testing.T) {
	gw := newMemGateway()
	storage := newMemStorage()
	observer := &ingestObserverFake{}
	w := newTestIngest(gw, storage, IngestOptions{Observer: observer})
	progress := &progressRecorder{}

	result, err := w.Ingest(context.Background(), sampleRequest("%PDF-1"), progress.record)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if result.IsDuplicate || result.ChunkCount != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}

	want := []domain.ProgressStage{domain.ProgressMetadata, domain.ProgressParsing, domain.ProgressProcessing, domain.ProgressComplete}
	if got := progress.stages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected stages: %v", got)
	}
	percents := []int{0, 20, 50, 100}
	for i, e := range progress.events {
		if e.Percent != percents[i] {
			t.Fatalf("stage %s reported %d%%", e.Stage, e.Percent)
		}
	}

	doc := gw.document(result.DocumentID)
	if doc.Status != domain.StatusCompleted {
		t.Fatalf("expected completed document, got %s", doc.Status)
	}
	if doc.StoragePath != "anonymous/1792238400/micro.pdf" {
		t.Fatalf("unexpected storage path %q", doc.StoragePath)
	}
	if storage.count() != 1 {
		t.Fatalf("expected bytes to be stored once, got %d objects", storage.count())
	}
	if gw.chunkCount(doc.ID) != 3 {
		t.Fatalf("expected 3 stored chunks, got %d", gw.chunkCount(doc.ID))
	}

	jobs, _ := gw.ListJobs(context.Background(), doc.ID)
	if len(jobs) != 1 || jobs[0].Status != domain.JobCompleted || jobs[0].Progress != 100 {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
	if !reflect.DeepEqual(observer.outcomes, []string{"created"}) {
		t.Fatalf("unexpected observed outcomes: %v", observer.outcomes)
	}
}

func TestIngestDuplicateReturnsExistingDocument(t *testing.T) {
	gw := newMemGateway()
	w := newTestIngest(gw, newMemStorage(), IngestOptions{})

	first, err := w.Ingest(context.Background(), sampleRequest("same bytes"), nil)
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}

	req := sampleRequest("same bytes")
	req.Metadata.Title = "Renamed Copy"
	progress := &progressRecorder{}
	second, err := w.Ingest(context.Background(), req, progress.record)
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if !second.IsDuplicate || second.ChunkCount != 0 || second.DocumentID != first.DocumentID {
		t.Fatalf("expected duplicate of %s, got %+v", first.DocumentID, second)
	}
	if got := progress.stages(); !reflect.DeepEqual(got, []domain.ProgressStage{domain.ProgressMetadata, domain.ProgressComplete}) {
		t.Fatalf("unexpected duplicate stages: %v", got)
	}
	jobs, _ := gw.ListJobs(context.Background(), first.DocumentID)
	if len(jobs) != 1 {
		t.Fatalf("duplicate must not create jobs, got %d", len(jobs))
	}
}

func TestIngestTitleAuthorDedupMode(t *testing.T) {
	gw := newMemGateway()
	w := newTestIngest(gw, newMemStorage(), IngestOptions{DedupMode: domain.DedupByTitleAuthor})

	first, err := w.Ingest(context.Background(), sampleRequest("edition one"), nil)
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	req := sampleRequest("edition two")
	req.Metadata.Title = "market microstructure"
	second, err := w.Ingest(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if !second.IsDuplicate || second.DocumentID != first.DocumentID {
		t.Fatalf("expected title/author duplicate, got %+v", second)
	}
}

func TestIngestValidationRejectsBeforeAnyWrite(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.IngestRequest)
	}{
		{name: "empty content", mutate: func(r *domain.IngestRequest) { r.Content = nil }},
		{name: "blank title", mutate: func(r *domain.IngestRequest) { r.Metadata.Title = "  " }},
		{name: "overlap equals size", mutate: func(r *domain.IngestRequest) { r.ChunkSize, r.ChunkOverlap = 5, 5 }},
		{name: "negative overlap", mutate: func(r *domain.IngestRequest) { r.ChunkSize, r.ChunkOverlap = 5, -1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gw := newMemGateway()
			storage := newMemStorage()
			w := newTestIngest(gw, storage, IngestOptions{})
			req := sampleRequest("content")
			tc.mutate(&req)

			_, err := w.Ingest(context.Background(), req, nil)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if calls := gw.callLog(); len(calls) != 0 {
				t.Fatalf("expected no writes, got %v", calls)
			}
			if storage.count() != 0 {
				t.Fatalf("expected nothing stored")
			}
		})
	}
}

func TestIngestCompensatesWhenChunkPersistFails(t *testing.T) {
	gw := newMemGateway()
	gw.insertChunksErr = errors.New("disk full")
	w := newTestIngest(gw, newMemStorage(), IngestOptions{})
	progress := &progressRecorder{}

	_, err := w.Ingest(context.Background(), sampleRequest("%PDF-2"), progress.record)
	stage, ok := domain.FailedStage(err)
	if !ok || stage != domain.ProgressProcessing {
		t.Fatalf("expected processing stage error, got %v", err)
	}

	if gw.documentCount() != 1 {
		t.Fatalf("expected one document row, got %d", gw.documentCount())
	}
	doc := gw.document(gw.order[0])
	if doc.Status != domain.StatusFailed || !strings.Contains(doc.Error, "disk full") {
		t.Fatalf("expected failed document with cause, got %+v", doc)
	}
	if gw.chunkCount(doc.ID) != 0 {
		t.Fatalf("failed document must not keep chunks")
	}
	jobs, _ := gw.ListJobs(context.Background(), doc.ID)
	if len(jobs) != 1 || jobs[0].Status != domain.JobFailed {
		t.Fatalf("expected failed job, got %+v", jobs)
	}
	stages := progress.stages()
	if stages[len(stages)-1] != domain.ProgressFailed {
		t.Fatalf("expected failed progress last, got %v", stages)
	}
}

func TestIngestResumesFailedDocument(t *testing.T) {
	gw := newMemGateway()
	gw.insertChunksErr = errors.New("connection reset")
	w := newTestIngest(gw, newMemStorage(), IngestOptions{})

	if _, err := w.Ingest(context.Background(), sampleRequest("retry me"), nil); err == nil {
		t.Fatalf("expected first ingest to fail")
	}
	failedID := gw.order[0]

	gw.insertChunksErr = nil
	result, err := w.Ingest(context.Background(), sampleRequest("retry me"), nil)
	if err != nil {
		t.Fatalf("retry Ingest() error = %v", err)
	}
	if result.DocumentID != failedID || result.IsDuplicate {
		t.Fatalf("expected resume of %s, got %+v", failedID, result)
	}
	if gw.documentCount() != 1 {
		t.Fatalf("expected resume to reuse the row, got %d documents", gw.documentCount())
	}
	if doc := gw.document(failedID); doc.Status != domain.StatusCompleted || doc.Error != "" {
		t.Fatalf("expected completed document, got %+v", doc)
	}

	jobs, _ := gw.ListJobs(context.Background(), failedID)
	var failed, completed int
	for _, job := range jobs {
		switch job.Status {
		case domain.JobFailed:
			failed++
		case domain.JobCompleted:
			completed++
		}
	}
	if failed != 1 || completed != 1 {
		t.Fatalf("expected one failed and one completed job, got %+v", jobs)
	}
}

func TestConcurrentIdenticalIngestsCreateOneDocument(t *testing.T) {
	t.Run("both miss the lookup", func(t *testing.T) {
		gw := newMemGateway()
		var arrived int32
		release := make(chan struct{})
		gw.afterFind = func() {
			if atomic.AddInt32(&arrived, 1) == 2 {
				close(release)
			}
			<-release
		}
		w := newTestIngest(gw, newMemStorage(), IngestOptions{})

		results := make([]domain.IngestResult, 2)
		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = w.Ingest(context.Background(), sampleRequest("race"), nil)
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("ingest %d error = %v", i, err)
			}
		}
		if gw.documentCount() != 1 {
			t.Fatalf("expected exactly one document, got %d", gw.documentCount())
		}
		if results[0].DocumentID != results[1].DocumentID {
			t.Fatalf("expected same document id, got %+v", results)
		}
		if results[0].IsDuplicate == results[1].IsDuplicate {
			t.Fatalf("expected exactly one duplicate, got %+v", results)
		}
	})

	t.Run("second arrives mid-ingestion", func(t *testing.T) {
		gw := newMemGateway()
		var (
			second    domain.IngestResult
			secondErr error
		)
		var w *IngestWorkflow
		extractor := &reentrantExtractor{}
		extractor.again = func() {
			second, secondErr = w.Ingest(context.Background(), sampleRequest("live"), nil)
		}
		w = NewIngestWorkflow(gw, newMemStorage(), extractor, runeChunker{}, IngestOptions{ChunkSize: 4, ChunkOverlap: 1})
		w.now = func() time.Time { return time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC) }

		first, err := w.Ingest(context.Background(), sampleRequest("live"), nil)
		if err != nil || secondErr != nil {
			t.Fatalf("Ingest() errors = %v / %v", err, secondErr)
		}
		if first.IsDuplicate || !second.IsDuplicate || first.DocumentID != second.DocumentID {
			t.Fatalf("expected the live ingestion to win, got first=%+v second=%+v", first, second)
		}
		if got := gw.chunkCount(first.DocumentID); got != first.ChunkCount {
			t.Fatalf("expected %d chunks, got %d", first.ChunkCount, got)
		}
		if doc := gw.document(first.DocumentID); doc.Status != domain.StatusCompleted {
			t.Fatalf("expected completed document, got %s", doc.Status)
		}
		jobs, _ := gw.ListJobs(context.Background(), first.DocumentID)
		if len(jobs) != 1 || jobs[0].Status != domain.JobCompleted {
			t.Fatalf("expected a single completed job, got %+v", jobs)
		}
	})
}

// reentrantExtractor runs again once, in the middle of the first extraction.
type reentrantExtractor struct {
	once  sync.Once
	again func()
}

func (e *reentrantExtractor) Extract(context.Context, string, string, []byte) (string, error) {
	e.once.Do(e.again)
	return sampleText, nil
}

func TestIngestTakesOverOnlyStaleRows(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	seed := func(gw *memGateway, content string, status domain.DocumentStatus, updatedAt time.Time) string {
		doc := &domain.Document{
			ID:          "doc-" + string(status),
			Title:       "Market Microstructure",
			Fingerprint: domain.Fingerprint([]byte(content)),
			Status:      status,
			CreatedAt:   updatedAt,
			UpdatedAt:   updatedAt,
		}
		if err := gw.CreateDocument(context.Background(), doc); err != nil {
			t.Fatalf("seed document: %v", err)
		}
		if err := gw.CreateJob(context.Background(), &domain.ProcessingJob{ID: "job-old", DocumentID: doc.ID, Stage: domain.StageChunking, Status: domain.JobProcessing}); err != nil {
			t.Fatalf("seed job: %v", err)
		}
		gw.calls = nil
		return doc.ID
	}

	t.Run("fresh row is left alone", func(t *testing.T) {
		gw := newMemGateway()
		id := seed(gw, "fresh", domain.StatusIngesting, now.Add(-time.Minute))
		w := newTestIngest(gw, newMemStorage(), IngestOptions{StaleAfter: 30 * time.Minute})

		result, err := w.Ingest(context.Background(), sampleRequest("fresh"), nil)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if !result.IsDuplicate || result.DocumentID != id {
			t.Fatalf("expected duplicate of the live row, got %+v", result)
		}
		for _, call := range gw.callLog() {
			if call == "ClaimDocument" || call == "FailOpenJobs" || strings.HasPrefix(call, "CreateJob") {
				t.Fatalf("live row must not be touched, saw %s", call)
			}
		}
	})

	t.Run("stale row is resumed", func(t *testing.T) {
		gw := newMemGateway()
		id := seed(gw, "stale", domain.StatusPending, now.Add(-2*time.Hour))
		w := newTestIngest(gw, newMemStorage(), IngestOptions{StaleAfter: 30 * time.Minute})

		result, err := w.Ingest(context.Background(), sampleRequest("stale"), nil)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if result.IsDuplicate || result.DocumentID != id {
			t.Fatalf("expected resume of %s, got %+v", id, result)
		}
		if doc := gw.document(id); doc.Status != domain.StatusCompleted {
			t.Fatalf("expected completed document, got %s", doc.Status)
		}
		jobs, _ := gw.ListJobs(context.Background(), id)
		for _, job := range jobs {
			if job.ID == "job-old" && job.Status != domain.JobFailed {
				t.Fatalf("expected superseded job to fail, got %+v", job)
			}
		}
	})

	t.Run("lost claim reports duplicate", func(t *testing.T) {
		gw := newMemGateway()
		id := seed(gw, "claimed", domain.StatusFailed, now.Add(-time.Minute))
		gw.loseClaims = true
		w := newTestIngest(gw, newMemStorage(), IngestOptions{})

		result, err := w.Ingest(context.Background(), sampleRequest("claimed"), nil)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if !result.IsDuplicate || result.DocumentID != id {
			t.Fatalf("expected duplicate after a lost claim, got %+v", result)
		}
		if n := gw.chunkCount(id); n != 0 {
			t.Fatalf("lost claim must not write chunks, got %d", n)
		}
	})
}

func TestIngestCompensatesAfterCallerCancellation(t *testing.T) {
	gw := newMemGateway()
	ctx, cancel := context.WithCancel(context.Background())
	w := NewIngestWorkflow(gw, newMemStorage(), cancellingExtractor{cancel: cancel}, runeChunker{}, IngestOptions{ChunkSize: 4, ChunkOverlap: 1})

	_, err := w.Ingest(ctx, sampleRequest("cancelled"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	doc := gw.document(gw.order[0])
	if doc.Status != domain.StatusFailed {
		t.Fatalf("expected document marked failed despite cancellation, got %s", doc.Status)
	}
}

type cancellingExtractor struct {
	cancel context.CancelFunc
}

func (e cancellingExtractor) Extract(ctx context.Context, _, _ string, _ []byte) (string, error) {
	e.cancel()
	return "", ctx.Err()
}

func TestIngestStoresEmbeddings(t *testing.T) {
	gw := newMemGateway()
	w := newTestIngest(gw, newMemStorage(), IngestOptions{Embedder: stubEmbedder{dim: 3}})

	result, err := w.Ingest(context.Background(), sampleRequest("vectors"), nil)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	for _, c := range gw.chunks[result.DocumentID] {
		if len(c.Embedding) != 3 {
			t.Fatalf("expected 3-dim embedding on chunk %d", c.Index)
		}
		if c.TokenCount == 0 {
			t.Fatalf("expected token count on chunk %d", c.Index)
		}
	}
}

func TestIngestFailsOnEmbeddingCountMismatch(t *testing.T) {
	gw := newMemGateway()
	w := newTestIngest(gw, newMemStorage(), IngestOptions{Embedder: stubEmbedder{dim: 3, short: true}})

	_, err := w.Ingest(context.Background(), sampleRequest("mismatch"), nil)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if stage, _ := domain.FailedStage(err); stage != domain.ProgressProcessing {
		t.Fatalf("expected processing stage, got %q", stage)
	}
}

func TestIngestSkipsStorageWhenPathSupplied(t *testing.T) {
	gw := newMemGateway()
	storage := newMemStorage()
	w := newTestIngest(gw, storage, IngestOptions{})
	req := sampleRequest("already stored")
	req.StoragePath = "u-1/1700000000/micro.pdf"

	result, err := w.Ingest(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if storage.count() != 0 {
		t.Fatalf("expected no upload")
	}
	if got := gw.document(result.DocumentID).StoragePath; got != req.StoragePath {
		t.Fatalf("expected supplied storage path, got %q", got)
	}
}

func TestIngestSetsDomainTags(t *testing.T) {
	gw := newMemGateway()
	tagger := NewDomainTagger([]domain.AgentDomain{{Name: "risk", Keywords: []string{"cdef"}}}, []string{"strategy"})
	w := newTestIngest(gw, newMemStorage(), IngestOptions{Tagger: tagger})
	req := sampleRequest("tagged")
	req.Metadata.Tags = []string{"Books"}

	result, err := w.Ingest(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if got := gw.document(result.DocumentID).Tags; !reflect.DeepEqual(got, []string{"books", "strategy"}) {
		t.Fatalf("unexpected tags %v", got)
	}
}
