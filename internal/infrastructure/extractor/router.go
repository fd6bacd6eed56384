package extractor

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
	"github.com/kirillkom/trading-knowledge/internal/core/ports"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/extractor/office"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/trading-knowledge/internal/infrastructure/extractor/xlsx"
)

const (
	MimePDF  = "application/pdf"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeODT  = "application/vnd.oasis.opendocument.text"
	MimeRTF  = "application/rtf"
	MimeHTML = "text/html"
	MimeXML  = "text/xml"
	MimeText = "text/plain"
)

var extensionMime = map[string]string{
	".pdf":      MimePDF,
	".xlsx":     MimeXLSX,
	".docx":     MimeDOCX,
	".odt":      MimeODT,
	".rtf":      MimeRTF,
	".html":     MimeHTML,
	".htm":      MimeHTML,
	".xml":      MimeXML,
	".txt":      MimeText,
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".csv":      "text/csv",
	".json":     "application/json",
}

// Router dispatches extraction by media type, falling back to the file
// extension when the media type is missing or generic.
type Router struct {
	byMime    map[string]ports.TextExtractor
	plaintext ports.TextExtractor
}

func NewRouter() *Router {
	officeDocs := office.NewExtractor(false)
	return &Router{
		byMime: map[string]ports.TextExtractor{
			MimePDF:  pdf.NewExtractor(),
			MimeXLSX: xlsx.NewExtractor(),
			MimeDOCX: officeDocs,
			MimeODT:  officeDocs,
			MimeRTF:  officeDocs,
			MimeHTML: officeDocs,
			MimeXML:  officeDocs,
		},
		plaintext: plaintext.NewExtractor(),
	}
}

// Register overrides the extractor used for a media type.
func (r *Router) Register(mimeType string, extractor ports.TextExtractor) {
	r.byMime[normalizeMime(mimeType)] = extractor
}

func (r *Router) Extract(ctx context.Context, filename, mimeType string, content []byte) (string, error) {
	resolved := ResolveMime(filename, mimeType)
	if ex, ok := r.byMime[resolved]; ok {
		return ex.Extract(ctx, filename, resolved, content)
	}
	if isTextual(resolved) {
		return r.plaintext.Extract(ctx, filename, resolved, content)
	}
	return "", domain.WrapError(domain.ErrInvalidInput, "extract", fmt.Errorf("unsupported document type %q for %s", resolved, filename))
}

// ResolveMime normalizes mimeType, using the extension of filename when the
// declared type is empty or application/octet-stream.
func ResolveMime(filename, mimeType string) string {
	resolved := normalizeMime(mimeType)
	if resolved != "" && resolved != "application/octet-stream" {
		return resolved
	}
	if byExt, ok := extensionMime[strings.ToLower(filepath.Ext(filename))]; ok {
		return byExt
	}
	return resolved
}

func normalizeMime(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		return strings.ToLower(parsed)
	}
	return strings.ToLower(mimeType)
}

func isTextual(mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	switch mimeType {
	case "application/json", "application/x-ndjson", "application/yaml":
		return true
	}
	return false
}
