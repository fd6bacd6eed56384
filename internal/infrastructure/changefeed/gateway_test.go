package changefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
	"github.com/kirillkom/trading-knowledge/internal/core/ports"
)

type fakeGateway struct {
	ports.PersistenceGateway
	createErr error
	deleted   int
	claimWins bool
}

func (f *fakeGateway) ClaimDocument(context.Context, string, domain.DocumentStatus, time.Time) (bool, error) {
	return f.claimWins, nil
}

func (f *fakeGateway) CreateDocument(context.Context, *domain.Document) error { return f.createErr }

func (f *fakeGateway) UpdateDocumentStatus(context.Context, string, domain.DocumentStatus, string) error {
	return nil
}

func (f *fakeGateway) InsertChunks(context.Context, []domain.Chunk) error { return nil }

func (f *fakeGateway) DeleteChunks(context.Context, string) (int, error) { return f.deleted, nil }

func (f *fakeGateway) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	return &domain.Document{ID: id}, nil
}

type recordingPublisher struct {
	events []domain.ChangeEvent
	err    error
}

func (p *recordingPublisher) PublishChange(_ context.Context, e domain.ChangeEvent) error {
	p.events = append(p.events, e)
	return p.err
}

func newTestGateway(inner *fakeGateway, pub *recordingPublisher) *Gateway {
	g := Wrap(inner, pub, nil)
	g.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return g
}

func TestWritesPublishChangeEvents(t *testing.T) {
	pub := &recordingPublisher{}
	g := newTestGateway(&fakeGateway{deleted: 3}, pub)
	ctx := context.Background()

	if err := g.CreateDocument(ctx, &domain.Document{ID: "doc-1", Status: domain.StatusPending}); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if err := g.UpdateDocumentStatus(ctx, "doc-1", domain.StatusCompleted, ""); err != nil {
		t.Fatalf("UpdateDocumentStatus() error = %v", err)
	}
	if err := g.InsertChunks(ctx, []domain.Chunk{{DocumentID: "doc-1"}, {DocumentID: "doc-1"}}); err != nil {
		t.Fatalf("InsertChunks() error = %v", err)
	}
	if _, err := g.DeleteChunks(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteChunks() error = %v", err)
	}

	if len(pub.events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(pub.events))
	}
	first := pub.events[0]
	if first.Entity != domain.EntityDocument || first.Action != domain.ActionInsert || first.Status != "pending" {
		t.Fatalf("unexpected insert event: %+v", first)
	}
	if first.At != 1_700_000_000_000 {
		t.Fatalf("unexpected timestamp %d", first.At)
	}
	if pub.events[2].Entity != domain.EntityChunk || pub.events[2].Status != "2" {
		t.Fatalf("unexpected chunk event: %+v", pub.events[2])
	}
	if pub.events[3].Action != domain.ActionDelete || pub.events[3].Status != "3" {
		t.Fatalf("unexpected delete event: %+v", pub.events[3])
	}
}

func TestFailedWriteDoesNotPublish(t *testing.T) {
	pub := &recordingPublisher{}
	g := newTestGateway(&fakeGateway{createErr: domain.ErrDuplicate}, pub)

	err := g.CreateDocument(context.Background(), &domain.Document{ID: "doc-1"})
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("expected no events, got %d", len(pub.events))
	}
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats down")}
	g := newTestGateway(&fakeGateway{}, pub)

	if err := g.UpdateDocumentStatus(context.Background(), "doc-1", domain.StatusFailed, "boom"); err != nil {
		t.Fatalf("expected write to succeed, got %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected publish attempt, got %d", len(pub.events))
	}
}

func TestReadsPassThrough(t *testing.T) {
	pub := &recordingPublisher{}
	g := newTestGateway(&fakeGateway{}, pub)

	doc, err := g.GetDocument(context.Background(), "doc-9")
	if err != nil || doc.ID != "doc-9" {
		t.Fatalf("unexpected read result: %+v %v", doc, err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("reads must not publish")
	}
}

func TestOnlyWonClaimsPublish(t *testing.T) {
	pub := &recordingPublisher{}
	inner := &fakeGateway{}
	g := newTestGateway(inner, pub)

	if won, err := g.ClaimDocument(context.Background(), "doc-1", domain.StatusFailed, time.Time{}); err != nil || won {
		t.Fatalf("expected lost claim, got won=%v err=%v", won, err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("lost claim must not publish, got %+v", pub.events)
	}

	inner.claimWins = true
	if won, _ := g.ClaimDocument(context.Background(), "doc-1", domain.StatusFailed, time.Time{}); !won {
		t.Fatalf("expected won claim")
	}
	if len(pub.events) != 1 || pub.events[0].Status != "pending" || pub.events[0].DocumentID != "doc-1" {
		t.Fatalf("unexpected claim events %+v", pub.events)
	}
}
