package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParagraphsNormalizesAndTrims(t *testing.T) {
	text := "Alice: we need CSV export.\r\n\r\n  Bob: agreed, top priority.  \n\n\n\nAlice: also fix login."
	got := Paragraphs(text)
	require.Len(t, got, 3)
	assert.Equal(t, "Alice: we need CSV export.", got[0])
	assert.Equal(t, "Bob: agreed, top priority.", got[1])
	assert.Equal(t, "Alice: also fix login.", got[2])
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	c := NewChunker(1000, 1)
	chunks := c.Split("Alice: we need CSV export.\n\nBob: agreed.")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[0].StartParagraph)
	assert.Contains(t, chunks[0].Text, "CSV export")
	assert.Contains(t, chunks[0].Text, "Bob: agreed.")
}

func TestSplitEmptyText(t *testing.T) {
	c := NewChunker(1000, 1)
	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("\n\n  \n\n"))
}

func TestSplitRespectsMaxSizeWithOverlap(t *testing.T) {
	paragraphs := []string{
		"Alice: paragraph one with some detail about exports.",
		"Bob: paragraph two about login timeouts.",
		"Carol: paragraph three about dark mode requests.",
		"Dave: paragraph four about SSO integration.",
	}
	text := strings.Join(paragraphs, "\n\n")

	c := NewChunker(110, 1)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		for _, p := range paragraphs {
			if strings.Contains(ch.Text, p[:20]) {
				assert.Contains(t, ch.Text, p, "paragraphs must never be split")
			}
		}
	}

	// Overlap: the first paragraph of each later chunk is the last of the previous.
	for i := 1; i < len(chunks); i++ {
		prevParas := Paragraphs(chunks[i-1].Text)
		curParas := Paragraphs(chunks[i].Text)
		assert.Equal(t, prevParas[len(prevParas)-1], curParas[0])
	}

	// Every paragraph appears somewhere.
	joined := ""
	for _, ch := range chunks {
		joined += ch.Text + "\n\n"
	}
	for _, p := range paragraphs {
		assert.Contains(t, joined, p)
	}
}

func TestSplitOversizedParagraphBecomesOwnChunk(t *testing.T) {
	huge := "Alice: " + strings.Repeat("details ", 100)
	text := "Bob: short intro.\n\n" + huge + "\n\nCarol: short outro."

	c := NewChunker(100, 0)
	chunks := c.Split(text)
	require.GreaterOrEqual(t, len(chunks), 3)

	found := false
	for _, ch := range chunks {
		if strings.Contains(ch.Text, "details details") {
			assert.Equal(t, strings.TrimSpace(huge), ch.Text)
			found = true
		}
	}
	assert.True(t, found, "oversized paragraph must survive whole")
}

func TestSplitStartParagraphTracksPosition(t *testing.T) {
	text := "alpha\n\nbravo\n\ncharlie\n\ndelta"
	c := NewChunker(6, 0)
	chunks := c.Split(text)
	require.Len(t, chunks, 4)
	for i, ch := range chunks {
		assert.Equal(t, i+1, ch.StartParagraph)
	}
}
