package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
	"github.com/kirillkom/trading-knowledge/internal/core/ports"
)

const defaultQueryMode = "hybrid"

// EnvelopeObserver records the source of every orchestrator result.
type EnvelopeObserver interface {
	RecordEnvelope(operation, source string, d time.Duration)
}

type OrchestratorOptions struct {
	Storage  ports.ObjectStorage
	Observer EnvelopeObserver
	Logger   *slog.Logger
}

// PipelineOrchestrator sends each operation to the remote pipeline service
// while it is reachable and to the persistence gateway otherwise.
type PipelineOrchestrator struct {
	prober   ports.AvailabilityProber
	remote   ports.PipelineService
	gateway  ports.PersistenceGateway
	ingestor ports.DocumentIngestor
	searcher ports.KnowledgeSearcher
	storage  ports.ObjectStorage
	observer EnvelopeObserver
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewPipelineOrchestrator(
	prober ports.AvailabilityProber,
	remote ports.PipelineService,
	gateway ports.PersistenceGateway,
	ingestor ports.DocumentIngestor,
	searcher ports.KnowledgeSearcher,
	options OrchestratorOptions,
) *PipelineOrchestrator {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineOrchestrator{
		prober:   prober,
		remote:   remote,
		gateway:  gateway,
		ingestor: ingestor,
		searcher: searcher,
		storage:  options.Storage,
		observer: options.Observer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

type remoteCall func(ctx context.Context) (json.RawMessage, error)

// localError marks a remote-path failure that happened on this side, before
// the remote service was reached.
type localError struct{ err error }

func (e localError) Error() string { return e.err.Error() }
func (e localError) Unwrap() error { return e.err }

// run applies the routing policy shared by every operation: probe, try the
// remote call, fall back on any failure, and tag the envelope with its source.
// A nil remote goes straight to the fallback.
func run[T any](ctx context.Context, o *PipelineOrchestrator, op domain.Operation, remote remoteCall, fallback func(context.Context) (T, error)) domain.Envelope {
	started := time.Now()
	env := o.route(ctx, op, remote, func(ctx context.Context) (any, error) {
		return fallback(ctx)
	})
	o.observe(env, started)
	return env
}

func (o *PipelineOrchestrator) observe(env domain.Envelope, started time.Time) {
	if o.observer != nil {
		o.observer.RecordEnvelope(env.Operation.String(), string(env.Source), time.Since(started))
	}
}

func (o *PipelineOrchestrator) route(ctx context.Context, op domain.Operation, remote remoteCall, fallback func(context.Context) (any, error)) domain.Envelope {
	if remote != nil && o.remote != nil && o.prober != nil && o.prober.IsAvailable(ctx) {
		data, err := guard(op, "remote", func() (json.RawMessage, error) { return remote(ctx) })
		if err == nil {
			return domain.SuccessEnvelope(op, domain.SourceRemote, data)
		}
		// neither a caller that gave up nor a local fault says anything
		// about the remote service
		var local localError
		if ctx.Err() == nil && !errors.As(err, &local) {
			o.prober.MarkUnavailable()
		}
		o.logger.Warn("remote_call_failed",
			"operation", op.String(),
			"error", err,
		)
	}

	data, err := guard(op, "fallback", func() (any, error) { return fallback(ctx) })
	if err != nil {
		o.logger.Error("fallback_failed",
			"operation", op.String(),
			"error", err,
		)
		return domain.ErrorEnvelope(op, err)
	}
	return domain.SuccessEnvelope(op, domain.SourceFallback, data)
}

// guard turns a panic inside fn into an error.
func guard[T any](op domain.Operation, path string, fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out = zero
			err = fmt.Errorf("%s %s: panic: %v", op, path, r)
		}
	}()
	return fn()
}

func (o *PipelineOrchestrator) Ingest(ctx context.Context, req domain.IngestRequest, progress domain.ProgressFunc) domain.Envelope {
	if err := o.ingestor.Validate(req); err != nil {
		env := domain.ErrorEnvelope(domain.OpIngest, err)
		o.observe(env, time.Now())
		return env
	}

	var remote remoteCall
	if o.storage != nil {
		remote = func(ctx context.Context) (json.RawMessage, error) {
			if strings.TrimSpace(req.StoragePath) == "" {
				key := domain.StorageKey(req.Metadata.UserID, req.Metadata.Filename, o.now())
				contentType := req.Metadata.MimeType
				if contentType == "" {
					contentType = "application/octet-stream"
				}
				if err := o.storage.Save(ctx, key, bytes.NewReader(req.Content), contentType); err != nil {
					return nil, localError{fmt.Errorf("save to object storage: %w", err)}
				}
				req.StoragePath = key
			}
			data, err := o.remote.Ingest(ctx, req.StoragePath)
			if err != nil {
				return nil, err
			}
			if progress != nil {
				progress(domain.ProgressEvent{Stage: domain.ProgressComplete, Percent: 100, Message: "accepted by pipeline service"})
			}
			return data, nil
		}
	}
	return run(ctx, o, domain.OpIngest, remote, func(ctx context.Context) (domain.IngestResult, error) {
		return o.ingestor.Ingest(ctx, req, progress)
	})
}

func (o *PipelineOrchestrator) Extract(ctx context.Context, documentID string) domain.Envelope {
	remote := func(ctx context.Context) (json.RawMessage, error) {
		return o.remote.Extract(ctx, documentID)
	}
	return run(ctx, o, domain.OpExtract, remote, func(ctx context.Context) (domain.ExtractionTicket, error) {
		return o.enqueueExtraction(ctx, documentID)
	})
}

func (o *PipelineOrchestrator) BuildRegistry(ctx context.Context) domain.Envelope {
	remote := func(ctx context.Context) (json.RawMessage, error) {
		return o.remote.BuildRegistry(ctx)
	}
	return run(ctx, o, domain.OpBuildRegistry, remote, o.buildRegistry)
}

func (o *PipelineOrchestrator) Query(ctx context.Context, req domain.QueryRequest) domain.Envelope {
	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		mode = defaultQueryMode
	}
	remote := func(ctx context.Context) (json.RawMessage, error) {
		return o.remote.Query(ctx, req.Query, mode)
	}
	return run(ctx, o, domain.OpQuery, remote, func(ctx context.Context) (domain.QueryResult, error) {
		results, err := o.searcher.Search(ctx, req.Query, req.Domains, req.Limit)
		if err != nil {
			return domain.QueryResult{}, err
		}
		return domain.QueryResult{Query: req.Query, Mode: mode, Results: results}, nil
	})
}

func (o *PipelineOrchestrator) Status(ctx context.Context) domain.Envelope {
	remote := func(ctx context.Context) (json.RawMessage, error) {
		return o.remote.Status(ctx)
	}
	return run(ctx, o, domain.OpStatus, remote, o.fallbackStatus)
}

func (o *PipelineOrchestrator) Metrics(ctx context.Context) domain.Envelope {
	remote := func(ctx context.Context) (json.RawMessage, error) {
		return o.remote.Metrics(ctx)
	}
	return run(ctx, o, domain.OpMetrics, remote, o.fallbackMetrics)
}
