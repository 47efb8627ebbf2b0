package extract

import (
	"fmt"
	"io"
)

// TextExtractor handles plain text and markdown; markdown syntax is left in
// place since it chunks and embeds fine as-is.
type TextExtractor struct{}

func (e *TextExtractor) Extract(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read text failed: %w", err)
	}
	return string(b), nil
}
