package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

// memGateway is an in-memory persistence gateway with a unique fingerprint
// index, used across the workflow tests.
type memGateway struct {
	mu     sync.Mutex
	docs   map[string]*domain.Document
	jobs   map[string]*domain.ProcessingJob
	chunks map[string][]domain.Chunk
	order  []string
	calls  []string

	insertChunksErr error
	updateStatusErr map[domain.DocumentStatus]error
	statsErr        error
	registryErr     error
	searchTextErr   error
	searchVecErr    error
	textHits        []domain.RetrievalResult
	vectorHits      []domain.RetrievalResult
	registry        []domain.DomainEntry
	loseClaims      bool

	// afterFind runs after every fingerprint lookup, outside the lock.
	afterFind func()
}

func newMemGateway() *memGateway {
	return &memGateway{
		docs:            make(map[string]*domain.Document),
		jobs:            make(map[string]*domain.ProcessingJob),
		chunks:          make(map[string][]domain.Chunk),
		updateStatusErr: make(map[domain.DocumentStatus]error),
	}
}

func (g *memGateway) record(call string) {
	g.calls = append(g.calls, call)
}

func (g *memGateway) callLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *memGateway) CreateDocument(_ context.Context, doc *domain.Document) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("CreateDocument")
	for _, existing := range g.docs {
		if existing.Fingerprint == doc.Fingerprint {
			return domain.WrapError(domain.ErrDuplicate, "create document", errors.New("fingerprint exists"))
		}
	}
	copyDoc := *doc
	g.docs[doc.ID] = &copyDoc
	g.order = append(g.order, doc.ID)
	return nil
}

func (g *memGateway) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	doc, ok := g.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (g *memGateway) FindDocumentByFingerprint(_ context.Context, fingerprint string) (*domain.Document, error) {
	g.mu.Lock()
	var found *domain.Document
	for _, id := range g.order {
		if doc := g.docs[id]; doc.Fingerprint == fingerprint {
			copyDoc := *doc
			found = &copyDoc
			break
		}
	}
	hook := g.afterFind
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	return found, nil
}

func (g *memGateway) FindDocumentByTitleAuthor(_ context.Context, title, author string) (*domain.Document, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range g.order {
		doc := g.docs[id]
		if strings.EqualFold(doc.Title, title) && strings.EqualFold(doc.Author, author) {
			copyDoc := *doc
			return &copyDoc, nil
		}
	}
	return nil, nil
}

func (g *memGateway) UpdateDocumentStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("UpdateDocumentStatus:" + string(status))
	if err := g.updateStatusErr[status]; err != nil {
		return err
	}
	doc, ok := g.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	doc.Status = status
	doc.Error = errMessage
	return nil
}

func (g *memGateway) ClaimDocument(_ context.Context, id string, seen domain.DocumentStatus, seenAt time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("ClaimDocument")
	doc, ok := g.docs[id]
	if !ok || g.loseClaims || doc.Status != seen || !doc.UpdatedAt.Equal(seenAt) {
		return false, nil
	}
	doc.Status = domain.StatusPending
	doc.Error = ""
	doc.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (g *memGateway) SetDocumentTags(_ context.Context, id string, tags []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("SetDocumentTags")
	doc, ok := g.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	doc.Tags = append([]string(nil), tags...)
	return nil
}

func (g *memGateway) ListStaleDocuments(_ context.Context, statuses []domain.DocumentStatus, updatedBefore time.Time, limit int) ([]domain.Document, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Document
	for _, id := range g.order {
		doc := g.docs[id]
		for _, status := range statuses {
			if doc.Status == status && doc.UpdatedAt.Before(updatedBefore) {
				out = append(out, *doc)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (g *memGateway) CreateJob(_ context.Context, job *domain.ProcessingJob) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("CreateJob:" + string(job.Stage))
	copyJob := *job
	g.jobs[job.ID] = &copyJob
	return nil
}

func (g *memGateway) UpdateJob(_ context.Context, id string, stage domain.JobStage, status domain.JobStatus, progress int, errMessage string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("UpdateJob:" + string(status))
	job, ok := g.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Stage = stage
	job.Status = status
	job.Progress = domain.ClampProgress(progress)
	job.Error = errMessage
	return nil
}

func (g *memGateway) ListJobs(_ context.Context, documentID string) ([]domain.ProcessingJob, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.ProcessingJob
	for _, job := range g.jobs {
		if job.DocumentID == documentID {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *memGateway) FailOpenJobs(_ context.Context, documentID, errMessage string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("FailOpenJobs")
	n := 0
	for _, job := range g.jobs {
		if job.DocumentID == documentID && (job.Status == domain.JobPending || job.Status == domain.JobProcessing) {
			job.Status = domain.JobFailed
			job.Error = errMessage
			n++
		}
	}
	return n, nil
}

func (g *memGateway) InsertChunks(_ context.Context, chunks []domain.Chunk) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("InsertChunks")
	if g.insertChunksErr != nil {
		return g.insertChunksErr
	}
	for _, c := range chunks {
		g.chunks[c.DocumentID] = append(g.chunks[c.DocumentID], c)
	}
	return nil
}

func (g *memGateway) DeleteChunks(_ context.Context, documentID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("DeleteChunks")
	n := len(g.chunks[documentID])
	delete(g.chunks, documentID)
	return n, nil
}

func (g *memGateway) SearchSimilar(_ context.Context, _ []float32, _ domain.SearchFilter, limit int) ([]domain.RetrievalResult, error) {
	if g.searchVecErr != nil {
		return nil, g.searchVecErr
	}
	return trimResults(append([]domain.RetrievalResult(nil), g.vectorHits...), limit), nil
}

func (g *memGateway) SearchText(_ context.Context, _ []string, _ domain.SearchFilter, limit int) ([]domain.RetrievalResult, error) {
	if g.searchTextErr != nil {
		return nil, g.searchTextErr
	}
	return trimResults(append([]domain.RetrievalResult(nil), g.textHits...), limit), nil
}

func (g *memGateway) Stats(context.Context) (domain.PipelineStats, error) {
	if g.statsErr != nil {
		return domain.PipelineStats{}, g.statsErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := domain.PipelineStats{
		Documents:        len(g.docs),
		DocumentsByState: make(map[domain.DocumentStatus]int),
		JobsByState:      make(map[domain.JobStatus]int),
	}
	for _, doc := range g.docs {
		stats.DocumentsByState[doc.Status]++
	}
	for _, chunks := range g.chunks {
		stats.Chunks += len(chunks)
	}
	for _, job := range g.jobs {
		stats.JobsByState[job.Status]++
	}
	return stats, nil
}

func (g *memGateway) DomainRegistry(context.Context) ([]domain.DomainEntry, error) {
	if g.registryErr != nil {
		return nil, g.registryErr
	}
	return g.registry, nil
}

func (g *memGateway) document(id string) domain.Document {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.docs[id]
}

func (g *memGateway) chunkCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.chunks[id])
}

func (g *memGateway) documentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.docs)
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Save(_ context.Context, key string, data io.Reader, _ string) error {
	if s.err != nil {
		return s.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	return nil
}

func (s *memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *memStorage) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "mem://" + key, nil
}

func (s *memStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type runeChunker struct{}

func (runeChunker) Split(text string, size, overlap int) ([]string, error) {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size - overlap {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out, nil
}

type stubExtractor struct {
	text string
	err  error
}

func (e stubExtractor) Extract(context.Context, string, string, []byte) (string, error) {
	return e.text, e.err
}

type stubEmbedder struct {
	dim      int
	err      error
	queryErr error
	short    bool
}

func (e stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	n := len(texts)
	if e.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

func (e stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if e.queryErr != nil {
		return nil, e.queryErr
	}
	return make([]float32, e.dim), nil
}
