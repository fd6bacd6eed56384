package office

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

// Extractor converts office and markup formats (docx, odt, rtf, html, xml)
// through docconv.
type Extractor struct {
	useReadability bool
}

func NewExtractor(useReadability bool) *Extractor {
	return &Extractor{useReadability: useReadability}
}

func (e *Extractor) Extract(ctx context.Context, filename, mimeType string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := docconv.Convert(bytes.NewReader(content), mimeType, e.useReadability)
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract document", fmt.Errorf("%s (%s): %w", filename, mimeType, err))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Body), nil
}
