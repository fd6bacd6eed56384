package availability

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Snapshot is the last probe outcome.
type Snapshot struct {
	Available bool      `json:"available"`
	CheckedAt time.Time `json:"checked_at"`
}

type ResultObserver interface {
	RecordProbe(available bool)
}

// Prober probes HEAD {baseURL}/status and caches the result for ttl.
// Successful and failed probes both refresh the cache window.
type Prober struct {
	baseURL    string
	timeout    time.Duration
	ttl        time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	observer   ResultObserver

	// Clock is replaceable in tests.
	Clock func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot
	group    singleflight.Group
}

type Options struct {
	Timeout    time.Duration
	TTL        time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	Observer   ResultObserver
}

func NewProber(baseURL string, options Options) *Prober {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ttl := options.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		ttl:        ttl,
		httpClient: httpClient,
		logger:     logger,
		observer:   options.Observer,
		Clock:      time.Now,
	}
}

// IsAvailable returns the cached outcome or waits for a shared probe. A
// caller whose ctx ends first gets false, but the probe still completes and
// refreshes the cache for everyone else.
func (p *Prober) IsAvailable(ctx context.Context) bool {
	if snap, ok := p.fresh(); ok {
		return snap.Available
	}

	probeCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan("probe", func() (any, error) {
		if snap, ok := p.fresh(); ok {
			return snap.Available, nil
		}
		available := p.probe(probeCtx)
		p.store(available)
		return available, nil
	})
	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

// MarkUnavailable records a failed remote call so the next IsAvailable
// skips the remote service until the cache window expires.
func (p *Prober) MarkUnavailable() {
	p.store(false)
}

func (p *Prober) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

func (p *Prober) fresh() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snapshot.CheckedAt.IsZero() {
		return p.snapshot, false
	}
	if p.Clock().Sub(p.snapshot.CheckedAt) >= p.ttl {
		return p.snapshot, false
	}
	return p.snapshot, true
}

func (p *Prober) store(available bool) {
	p.mu.Lock()
	p.snapshot = Snapshot{Available: available, CheckedAt: p.Clock()}
	p.mu.Unlock()
}

func (p *Prober) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	available := false
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, p.baseURL+"/status", nil)
	if err == nil {
		var resp *http.Response
		resp, err = p.httpClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			available = resp.StatusCode >= 200 && resp.StatusCode < 300
			if !available {
				p.logger.Warn("pipeline_probe_failed", "status", resp.StatusCode)
			}
		}
	}
	if err != nil {
		p.logger.Warn("pipeline_probe_failed", "error", err)
	}
	if p.observer != nil {
		p.observer.RecordProbe(available)
	}
	return available
}
