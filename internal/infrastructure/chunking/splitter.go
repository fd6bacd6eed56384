package chunking

import (
	"fmt"

	"github.com/kirillkom/trading-knowledge/internal/core/domain"
)

type Splitter struct {
	ChunkSize int
	Overlap   int
}

// NewSplitter validates the default window used when a request does not
// override it.
func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if err := Validate(chunkSize, overlap); err != nil {
		return nil, err
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}, nil
}

// Split chunks text with size/overlap, falling back to the splitter defaults
// when both are zero.
func (s *Splitter) Split(text string, size, overlap int) ([]string, error) {
	if size == 0 && overlap == 0 {
		size, overlap = s.ChunkSize, s.Overlap
	}
	return Chunk(text, size, overlap)
}

func Validate(size, overlap int) error {
	if overlap < 0 {
		return domain.WrapError(domain.ErrInvalidInput, "validate chunk params", fmt.Errorf("overlap %d is negative", overlap))
	}
	if size <= overlap {
		return domain.WrapError(domain.ErrInvalidInput, "validate chunk params", fmt.Errorf("size %d must exceed overlap %d", size, overlap))
	}
	return nil
}

// Chunk splits text into rune windows of at most size runes. Each window
// starts size-overlap runes after the previous one; the last may be shorter.
func Chunk(text string, size, overlap int) ([]string, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	step := size - overlap
	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out, nil
}
