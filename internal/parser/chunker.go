// Package parser splits transcripts and documents into chunks small enough
// for a single extraction pass.
package parser

import (
	"strings"
)

// Chunk is one contiguous slice of the input document.
type Chunk struct {
	Index int
	Text  string
	// StartParagraph is the 1-based paragraph number the chunk opens with,
	// used to keep source citations stable across chunks.
	StartParagraph int
}

// Chunker splits text on paragraph boundaries. A paragraph is never split,
// so a speaker turn stays intact as long as it is written as one block.
type Chunker struct {
	maxChunkSize      int
	overlapParagraphs int
}

const (
	defaultMaxChunkSize      = 8000
	defaultOverlapParagraphs = 1
)

// NewChunker creates a chunker. Non-positive arguments fall back to defaults.
func NewChunker(maxChunkSize, overlapParagraphs int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = defaultMaxChunkSize
	}
	if overlapParagraphs < 0 {
		overlapParagraphs = defaultOverlapParagraphs
	}
	return &Chunker{maxChunkSize: maxChunkSize, overlapParagraphs: overlapParagraphs}
}

// Paragraphs splits text into trimmed, non-empty paragraphs on blank lines.
func Paragraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(normalized, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Split breaks text into chunks of at most maxChunkSize characters, carrying
// the last overlapParagraphs paragraphs of each chunk into the next so that
// requirements spanning a boundary are still seen whole. A single paragraph
// longer than maxChunkSize becomes its own oversized chunk.
func (c *Chunker) Split(text string) []Chunk {
	paragraphs := Paragraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(paragraphs) {
		size := 0
		end := start
		for end < len(paragraphs) {
			pLen := len(paragraphs[end])
			if end > start {
				pLen += 2
			}
			if size+pLen > c.maxChunkSize && end > start {
				break
			}
			size += pLen
			end++
		}

		chunks = append(chunks, Chunk{
			Index:          len(chunks),
			Text:           strings.Join(paragraphs[start:end], "\n\n"),
			StartParagraph: start + 1,
		})

		if end >= len(paragraphs) {
			break
		}

		next := end - c.overlapParagraphs
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}
