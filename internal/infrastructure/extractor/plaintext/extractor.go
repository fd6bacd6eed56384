package plaintext

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, filename, _ string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !utf8.Valid(content) {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract plain text", fmt.Errorf("binary content in %s", filename))
	}
	return strings.TrimSpace(strings.TrimPrefix(string(content), "\ufeff")), nil
}
