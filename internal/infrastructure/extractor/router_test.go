package extractor

import (
	"context"
	"strings"
	"testing"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

type stubExtractor struct {
	calls    int
	lastMime string
}

func (s *stubExtractor) Extract(_ context.Context, _, mimeType string, _ []byte) (string, error) {
	s.calls++
	s.lastMime = mimeType
	return "stub", nil
}

func TestResolveMimeUsesExtensionForGenericTypes(t *testing.T) {
	cases := []struct {
		filename, mime, want string
	}{
		{"book.pdf", "", MimePDF},
		{"book.PDF", "application/octet-stream", MimePDF},
		{"notes.md", "", "text/markdown"},
		{"page.html", "text/html; charset=utf-8", MimeHTML},
		{"sheet.bin", MimeXLSX, MimeXLSX},
		{"unknown", "", ""},
	}
	for _, tc := range cases {
		if got := ResolveMime(tc.filename, tc.mime); got != tc.want {
			t.Fatalf("ResolveMime(%q, %q) = %q, want %q", tc.filename, tc.mime, got, tc.want)
		}
	}
}

func TestRouterDispatchesByResolvedMime(t *testing.T) {
	router := NewRouter()
	stub := &stubExtractor{}
	router.Register(MimePDF, stub)

	text, err := router.Extract(context.Background(), "wizards.pdf", "", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "stub" || stub.calls != 1 || stub.lastMime != MimePDF {
		t.Fatalf("expected pdf stub call, got text=%q calls=%d mime=%q", text, stub.calls, stub.lastMime)
	}
}

func TestRouterFallsBackToPlainTextForTextTypes(t *testing.T) {
	text, err := NewRouter().Extract(context.Background(), "notes.md", "", []byte("  # Risk\nSize positions small.  "))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.HasPrefix(text, "# Risk") || strings.HasSuffix(text, " ") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestRouterRejectsUnsupportedType(t *testing.T) {
	_, err := NewRouter().Extract(context.Background(), "movie.mp4", "video/mp4", []byte{0, 1, 2})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRouterRejectsBinaryPlainText(t *testing.T) {
	_, err := NewRouter().Extract(context.Background(), "data.txt", "text/plain", []byte{0xff, 0xfe, 0xfd})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRouterRejectsMalformedPDF(t *testing.T) {
	_, err := NewRouter().Extract(context.Background(), "broken.pdf", MimePDF, []byte("not a pdf"))
	if err == nil {
		t.Fatalf("expected error for malformed pdf")
	}
}
