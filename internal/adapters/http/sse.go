package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

const (
	sseHeartbeatInterval = 15 * time.Second
	changeBuffer         = 64
)

type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEStream(w http.ResponseWriter) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseStream{w: w, flusher: flusher}, true
}

func (s *sseStream) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStream) comment(text string) error {
	if _, err := io.WriteString(s.w, ": "+text+"\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// streamChanges relays catalog change events until the client disconnects.
// ?document_id= narrows the stream to one document.
func (rt *Router) streamChanges(w http.ResponseWriter, r *http.Request) {
	if rt.changes == nil {
		writeError(w, http.StatusServiceUnavailable, "change feed is not configured")
		return
	}
	documentID := r.URL.Query().Get("document_id")

	stream, ok := newSSEStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported by response writer")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan domain.ChangeEvent, changeBuffer)
	subscribeErr := make(chan error, 1)
	go func() {
		subscribeErr <- rt.changes.SubscribeChanges(ctx, func(event domain.ChangeEvent) {
			if documentID != "" && event.DocumentID != documentID && event.ID != documentID {
				return
			}
			select {
			case events <- event:
			default:
			}
		})
	}()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-subscribeErr:
			if err != nil {
				slog.Warn("change_stream_failed",
					"request_id", requestIDFromContext(r.Context()),
					"error", err,
				)
			}
			return
		case event := <-events:
			if err := stream.send("change", event); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := stream.comment("ping"); err != nil {
				return
			}
		}
	}
}
