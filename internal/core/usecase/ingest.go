package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
	"github.com/kirillkom/trading-knowledge/internal/core/ports"
)

const compensationTimeout = 10 * time.Second

// errClaimLost means another ingestion took over the resumable row first.
var errClaimLost = errors.New("document claimed by another ingestion")

// IngestObserver receives one outcome per ingestion: created, duplicate,
// failed or invalid.
type IngestObserver interface {
	RecordIngest(outcome string, chunks int, d time.Duration)
}

type IngestOptions struct {
	DedupMode    domain.DedupMode
	ChunkSize    int
	ChunkOverlap int
	// StaleAfter is when a pending or ingesting row may be taken over.
	StaleAfter   time.Duration
	Tagger       *DomainTagger
	Embedder     ports.Embedder
	Observer     IngestObserver
	Logger       *slog.Logger
}

// IngestWorkflow registers an upload, chunks it and persists the chunks,
// compensating every partial write when a stage fails.
type IngestWorkflow struct {
	gateway   ports.PersistenceGateway
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	chunker   ports.Chunker
	embedder  ports.Embedder
	tagger    *DomainTagger
	observer  IngestObserver
	logger    *slog.Logger

	dedupMode    domain.DedupMode
	chunkSize    int
	chunkOverlap int
	staleAfter   time.Duration

	now   func() time.Time
	newID func() string
}

func NewIngestWorkflow(
	gateway ports.PersistenceGateway,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	options IngestOptions,
) *IngestWorkflow {
	dedupMode := options.DedupMode
	if dedupMode != domain.DedupByTitleAuthor {
		dedupMode = domain.DedupByFingerprint
	}
	chunkSize := options.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	chunkOverlap := options.ChunkOverlap
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	staleAfter := options.StaleAfter
	if staleAfter <= 0 {
		staleAfter = domain.DefaultStaleAfter
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestWorkflow{
		gateway:      gateway,
		storage:      storage,
		extractor:    extractor,
		chunker:      chunker,
		embedder:     options.Embedder,
		tagger:       options.Tagger,
		observer:     options.Observer,
		logger:       logger,
		dedupMode:    dedupMode,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		staleAfter:   staleAfter,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

// ingestRun carries the rows an ingestion has written so far.
type ingestRun struct {
	req      domain.IngestRequest
	progress domain.ProgressFunc
	size     int
	overlap  int

	doc   *domain.Document
	jobID string
	stage domain.JobStage
	done  int
}

func (w *IngestWorkflow) Ingest(ctx context.Context, req domain.IngestRequest, progress domain.ProgressFunc) (domain.IngestResult, error) {
	started := time.Now()
	run := &ingestRun{req: req, progress: progress}

	size, overlap, err := req.Validate(w.chunkSize, w.chunkOverlap)
	if err != nil {
		w.observe("invalid", 0, started)
		return domain.IngestResult{}, err
	}
	run.size, run.overlap = size, overlap

	run.emit(domain.ProgressMetadata, "")
	fingerprint := domain.Fingerprint(req.Content)

	existing, err := w.findExisting(ctx, req.Metadata, fingerprint)
	if err != nil {
		w.observe("failed", 0, started)
		return domain.IngestResult{}, &domain.StageError{Stage: domain.ProgressMetadata, Err: err}
	}
	if existing != nil && !existing.Resumable(w.now(), w.staleAfter) {
		// completed, or still owned by a live ingestion
		return w.duplicate(run, existing.ID, started), nil
	}

	run.emit(domain.ProgressParsing, "")
	doc, err := w.register(ctx, req, fingerprint, existing)
	if errors.Is(err, errClaimLost) {
		return w.duplicate(run, existing.ID, started), nil
	}
	if errors.Is(err, domain.ErrDuplicate) {
		winner, findErr := w.gateway.FindDocumentByFingerprint(ctx, fingerprint)
		if findErr == nil && winner != nil {
			return w.duplicate(run, winner.ID, started), nil
		}
	}
	if err != nil {
		w.observe("failed", 0, started)
		run.emit(domain.ProgressFailed, err.Error())
		return domain.IngestResult{}, &domain.StageError{Stage: domain.ProgressParsing, Err: err}
	}
	run.doc = doc

	if err := w.store(ctx, run, fingerprint); err != nil {
		return domain.IngestResult{}, w.fail(ctx, run, domain.ProgressParsing, err, started)
	}
	if err := w.openJob(ctx, run); err != nil {
		return domain.IngestResult{}, w.fail(ctx, run, domain.ProgressParsing, err, started)
	}

	run.emit(domain.ProgressProcessing, "")
	chunkCount, err := w.process(ctx, run)
	if err != nil {
		return domain.IngestResult{}, w.fail(ctx, run, domain.ProgressProcessing, err, started)
	}

	if err := w.gateway.UpdateDocumentStatus(ctx, doc.ID, domain.StatusCompleted, ""); err != nil {
		return domain.IngestResult{}, w.fail(ctx, run, domain.ProgressComplete, fmt.Errorf("set status=completed: %w", err), started)
	}
	if err := w.gateway.UpdateJob(ctx, run.jobID, run.stage, domain.JobCompleted, 100, ""); err != nil {
		return domain.IngestResult{}, w.fail(ctx, run, domain.ProgressComplete, fmt.Errorf("complete job: %w", err), started)
	}

	run.emit(domain.ProgressComplete, "")
	w.observe("created", chunkCount, started)
	return domain.IngestResult{DocumentID: doc.ID, ChunkCount: chunkCount}, nil
}

// Validate rejects an upload the workflow would refuse, without writing.
func (w *IngestWorkflow) Validate(req domain.IngestRequest) error {
	_, _, err := req.Validate(w.chunkSize, w.chunkOverlap)
	return err
}

func (w *IngestWorkflow) findExisting(ctx context.Context, meta domain.DocumentMetadata, fingerprint string) (*domain.Document, error) {
	var (
		doc *domain.Document
		err error
	)
	if w.dedupMode == domain.DedupByTitleAuthor {
		doc, err = w.gateway.FindDocumentByTitleAuthor(ctx, strings.TrimSpace(meta.Title), strings.TrimSpace(meta.Author))
	} else {
		doc, err = w.gateway.FindDocumentByFingerprint(ctx, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	return doc, nil
}

func (w *IngestWorkflow) duplicate(run *ingestRun, documentID string, started time.Time) domain.IngestResult {
	run.emit(domain.ProgressComplete, "duplicate")
	w.observe("duplicate", 0, started)
	return domain.IngestResult{DocumentID: documentID, IsDuplicate: true}
}

// register creates the pending document row, or claims and resets a
// resumable one.
func (w *IngestWorkflow) register(ctx context.Context, req domain.IngestRequest, fingerprint string, existing *domain.Document) (*domain.Document, error) {
	if existing != nil {
		won, err := w.gateway.ClaimDocument(ctx, existing.ID, existing.Status, existing.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("claim document: %w", err)
		}
		if !won {
			return nil, errClaimLost
		}
		if _, err := w.gateway.FailOpenJobs(ctx, existing.ID, "superseded by retry"); err != nil {
			return nil, fmt.Errorf("supersede open jobs: %w", err)
		}
		if _, err := w.gateway.DeleteChunks(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("clear stale chunks: %w", err)
		}
		existing.Status = domain.StatusPending
		existing.Error = ""
		return existing, nil
	}

	meta := req.Metadata
	now := w.now()
	storagePath := strings.TrimSpace(req.StoragePath)
	if storagePath == "" {
		storagePath = domain.StorageKey(meta.UserID, meta.Filename, now)
	}
	doc := &domain.Document{
		ID:          w.newID(),
		Title:       strings.TrimSpace(meta.Title),
		Author:      strings.TrimSpace(meta.Author),
		ISBN:        strings.TrimSpace(meta.ISBN),
		Year:        meta.Year,
		Fingerprint: fingerprint,
		FileSize:    int64(len(req.Content)),
		Filename:    meta.Filename,
		MimeType:    meta.MimeType,
		StoragePath: storagePath,
		UserID:      meta.UserID,
		Status:      domain.StatusPending,
		Tags:        normalizeTags(append(append([]string{}, meta.Domains...), meta.Tags...)),
		Metadata:    meta.Extra,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.gateway.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("register document: %w", err)
	}
	return doc, nil
}

func (w *IngestWorkflow) store(ctx context.Context, run *ingestRun, fingerprint string) error {
	if w.storage == nil || strings.TrimSpace(run.req.StoragePath) != "" {
		return nil
	}
	contentType := run.doc.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := w.storage.Save(ctx, run.doc.StoragePath, bytes.NewReader(run.req.Content), contentType); err != nil {
		return fmt.Errorf("save to object storage: %w", err)
	}
	w.logger.Debug("document_stored", "document_id", run.doc.ID, "key", run.doc.StoragePath, "fingerprint", fingerprint)
	return nil
}

func (w *IngestWorkflow) openJob(ctx context.Context, run *ingestRun) error {
	job := &domain.ProcessingJob{
		ID:         w.newID(),
		DocumentID: run.doc.ID,
		Stage:      domain.StageChunking,
		Status:     domain.JobPending,
		CreatedAt:  w.now(),
	}
	if err := w.gateway.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create processing job: %w", err)
	}
	run.jobID = job.ID
	run.stage = job.Stage
	return nil
}

func (w *IngestWorkflow) process(ctx context.Context, run *ingestRun) (int, error) {
	docID := run.doc.ID
	if err := w.gateway.UpdateDocumentStatus(ctx, docID, domain.StatusIngesting, ""); err != nil {
		return 0, fmt.Errorf("set status=ingesting: %w", err)
	}
	if err := w.advance(ctx, run, domain.StageChunking, 10); err != nil {
		return 0, err
	}

	text, err := w.extractText(ctx, run)
	if err != nil {
		return 0, err
	}
	pieces, err := w.chunker.Split(text, run.size, run.overlap)
	if err != nil {
		return 0, fmt.Errorf("chunk document: %w", err)
	}
	if len(pieces) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "chunk document", errors.New("chunking produced zero chunks"))
	}
	if err := w.advance(ctx, run, domain.StageChunking, 40); err != nil {
		return 0, err
	}

	vectors, err := w.embed(ctx, run, pieces)
	if err != nil {
		return 0, err
	}

	now := w.now()
	chunks := make([]domain.Chunk, 0, len(pieces))
	for i, content := range pieces {
		chunk := domain.Chunk{
			ID:         w.newID(),
			DocumentID: docID,
			Index:      i,
			Content:    content,
			TokenCount: domain.EstimateTokens(content),
			CreatedAt:  now,
		}
		if vectors != nil {
			chunk.Embedding = vectors[i]
		}
		chunks = append(chunks, chunk)
	}
	if err := w.gateway.InsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("persist chunks: %w", err)
	}
	if err := w.advance(ctx, run, run.stage, 90); err != nil {
		return 0, err
	}

	meta := run.req.Metadata
	tags := normalizeTags(append(append([]string{}, meta.Domains...), meta.Tags...))
	if w.tagger != nil {
		tags = w.tagger.Tags(meta.Domains, meta.Tags, text)
	}
	if err := w.gateway.SetDocumentTags(ctx, docID, tags); err != nil {
		return 0, fmt.Errorf("set document tags: %w", err)
	}
	return len(chunks), nil
}

func (w *IngestWorkflow) extractText(ctx context.Context, run *ingestRun) (string, error) {
	text := run.req.Text
	if strings.TrimSpace(text) == "" && w.extractor != nil {
		extracted, err := w.extractor.Extract(ctx, run.doc.Filename, run.doc.MimeType, run.req.Content)
		if err != nil {
			return "", fmt.Errorf("extract text: %w", err)
		}
		text = extracted
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}
	return text, nil
}

func (w *IngestWorkflow) embed(ctx context.Context, run *ingestRun, pieces []string) ([][]float32, error) {
	if w.embedder == nil {
		return nil, nil
	}
	if err := w.advance(ctx, run, domain.StageEmbedding, 50); err != nil {
		return nil, err
	}
	vectors, err := w.embedder.Embed(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(pieces) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(pieces)),
		)
	}
	if err := w.advance(ctx, run, domain.StageEmbedding, 70); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (w *IngestWorkflow) advance(ctx context.Context, run *ingestRun, stage domain.JobStage, progress int) error {
	if err := w.gateway.UpdateJob(ctx, run.jobID, stage, domain.JobProcessing, progress, ""); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	run.stage = stage
	run.done = progress
	return nil
}

// fail undoes the partial writes of run and reports the failing stage. It
// runs detached from ctx so a cancelled caller still leaves consistent rows.
func (w *IngestWorkflow) fail(ctx context.Context, run *ingestRun, stage domain.ProgressStage, cause error, started time.Time) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	message := cause.Error()
	var errs []error
	if run.doc != nil {
		if _, err := w.gateway.DeleteChunks(cctx, run.doc.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete chunks: %w", err))
		}
		if err := w.gateway.UpdateDocumentStatus(cctx, run.doc.ID, domain.StatusFailed, message); err != nil {
			errs = append(errs, fmt.Errorf("set status=failed: %w", err))
		}
	}
	if run.jobID != "" {
		if err := w.gateway.UpdateJob(cctx, run.jobID, run.stage, domain.JobFailed, run.done, message); err != nil {
			errs = append(errs, fmt.Errorf("fail job: %w", err))
		}
	}
	if len(errs) > 0 {
		w.logger.Error("ingest_compensation_failed",
			"document_id", run.doc.ID,
			"stage", string(stage),
			"cause", message,
			"error", errors.Join(errs...),
		)
	}

	run.emit(domain.ProgressFailed, message)
	w.observe("failed", 0, started)
	return &domain.StageError{Stage: stage, Err: cause}
}

func (w *IngestWorkflow) observe(outcome string, chunks int, started time.Time) {
	if w.observer != nil {
		w.observer.RecordIngest(outcome, chunks, time.Since(started))
	}
}

func (r *ingestRun) emit(stage domain.ProgressStage, message string) {
	if r.progress == nil {
		return
	}
	r.progress(domain.ProgressEvent{Stage: stage, Percent: stage.Percent(), Message: message})
}
