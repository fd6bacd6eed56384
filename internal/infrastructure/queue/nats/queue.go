package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/resilience"
)

// ChangeFeed publishes catalog change events on
// {prefix}.{entity}.{action} and fans them back out to subscribers.
type ChangeFeed struct {
	conn     *nats.Conn
	prefix   string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, prefix string, options Options) (*ChangeFeed, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("trading-knowledge"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &ChangeFeed{
		conn:     conn,
		prefix:   strings.TrimSuffix(prefix, "."),
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (f *ChangeFeed) Close() {
	if f.conn != nil {
		f.conn.Close()
	}
}

// Subject is the subject an event is published on.
func (f *ChangeFeed) Subject(event domain.ChangeEvent) string {
	return f.prefix + "." + event.Entity + "." + event.Action
}

func (f *ChangeFeed) PublishChange(ctx context.Context, event domain.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	subject := f.Subject(event)

	call := func(_ context.Context) error {
		if err := f.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if f.executor != nil {
		err = f.executor.Execute(ctx, "nats.publish", call, publishPolicy.Classify)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return publishPolicy.WrapTemporary("nats publish change", err)
	}
	return nil
}

// SubscribeChanges delivers every change event until ctx is done. Each
// subscriber gets its own copy of the stream.
func (f *ChangeFeed) SubscribeChanges(ctx context.Context, handler func(domain.ChangeEvent)) error {
	sub, err := f.conn.Subscribe(f.prefix+".>", func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		var event domain.ChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			f.logger.Warn("change_event_decode_failed", "subject", msg.Subject, "error", err)
			return
		}
		handler(event)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := f.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe: %w", err)
	}
	return nil
}
