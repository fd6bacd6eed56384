package xlsx

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract flattens every sheet into "# Sheet" headed blocks with one
// tab-separated line per non-empty row.
func (e *Extractor) Extract(ctx context.Context, filename, _ string, content []byte) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract xlsx", fmt.Errorf("%s: %w", filename, err))
	}
	defer func() {
		_ = book.Close()
	}()

	var b strings.Builder
	for _, sheet := range book.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q of %s: %w", sheet, filename, err)
		}
		wroteHeader := false
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			if !wroteHeader {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString("# " + sheet + "\n")
				wroteHeader = true
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String()), nil
}
