package rag

import (
	"errors"
	"strings"
)

const DefaultChunkSize = 200

var (
	ErrEmptyInput        = errors.New("no usable input")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Passage is one retrieval unit of a document. Seq is its 0-based position in
// the ordered passage list and addresses the matching vector in the index.
type Passage struct {
	Text string `json:"text"`
	Seq  int    `json:"seq"`
}

// Chunk splits text into consecutive groups of size words, joined back with
// single spaces. Splitting is purely whitespace-based; punctuation and casing
// survive inside each passage, line breaks do not. The last passage may be
// shorter than size. For W words the result has ceil(W/size) passages.
func Chunk(text string, size int) ([]Passage, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, ErrEmptyInput
	}

	passages := make([]Passage, 0, (len(words)+size-1)/size)
	for i := 0; i < len(words); i += size {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		passages = append(passages, Passage{
			Text: strings.Join(words[i:end], " "),
			Seq:  len(passages),
		})
	}
	return passages, nil
}

// PassageTexts returns the texts in passage order, for batch embedding.
func PassageTexts(passages []Passage) []string {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	return texts
}
