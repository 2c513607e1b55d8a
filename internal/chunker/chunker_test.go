package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/models"
)

func doc(pages ...string) models.Document {
	d := models.Document{Name: "doc.pdf"}
	for i, p := range pages {
		d.Pages = append(d.Pages, models.Page{Number: i + 1, Text: p})
	}
	return d
}

func TestNewRejectsBadOverlap(t *testing.T) {
	for _, tc := range []struct{ size, overlap int }{{4, 4}, {4, 5}, {4, -1}, {0, 0}} {
		_, err := New(tc.size, tc.overlap)
		var cfgErr *models.ConfigError
		assert.ErrorAs(t, err, &cfgErr, "size=%d overlap=%d", tc.size, tc.overlap)
	}
}

func TestChunkFixedWindows(t *testing.T) {
	c, err := New(4, 0)
	require.NoError(t, err)

	chunks := c.Chunk(doc("A. B. C."))
	require.Len(t, chunks, 2)
	assert.Equal(t, "A. B", chunks[0].Text)
	assert.Equal(t, ". C.", chunks[1].Text)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, 1, ch.PageNumber)
		assert.Equal(t, "doc.pdf", ch.SourceDocument)
	}
}

func TestChunkRemainder(t *testing.T) {
	c, err := New(4, 0)
	require.NoError(t, err)

	chunks := c.Chunk(doc("abcdefghij"))
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, []string{chunks[0].Text, chunks[1].Text, chunks[2].Text})
}

func TestChunkOverlapStride(t *testing.T) {
	c, err := New(4, 2)
	require.NoError(t, err)

	chunks := c.Chunk(doc("abcdefgh"))
	var texts []string
	for _, ch := range chunks {
		texts = append(texts, ch.Text)
	}
	assert.Equal(t, []string{"abcd", "cdef", "efgh"}, texts)
}

func TestChunkCountsRunes(t *testing.T) {
	c, err := New(2, 0)
	require.NoError(t, err)

	chunks := c.Chunk(doc("héllo"))
	require.Len(t, chunks, 3)
	assert.Equal(t, "hé", chunks[0].Text)
	assert.Equal(t, "o", chunks[2].Text)
}

func TestChunkKeepsPageProvenance(t *testing.T) {
	c, err := New(5, 1)
	require.NoError(t, err)

	d := doc("first page text", "", "third page")
	chunks := c.Chunk(d)

	pages := map[int]bool{}
	for i, ch := range chunks {
		pages[ch.PageNumber] = true
		assert.Equal(t, i, ch.ChunkIndex)
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, pages)
}

func TestChunkEmptyPageYieldsOneEmptyChunk(t *testing.T) {
	c, err := New(5, 1)
	require.NoError(t, err)

	chunks := c.Chunk(doc("abc", "", "def"))
	require.Len(t, chunks, 3)
	assert.Equal(t, models.Chunk{SourceDocument: "doc.pdf", PageNumber: 2, ChunkIndex: 1}, chunks[1])
	assert.Equal(t, "def", chunks[2].Text)
}

func TestChunkDeterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	for _, p := range []struct{ size, overlap int }{{300, 0}, {50, 10}, {7, 6}, {1, 0}} {
		c, err := New(p.size, p.overlap)
		require.NoError(t, err)
		assert.Equal(t, c.Chunk(doc(text, text)), c.Chunk(doc(text, text)))
	}
}

func TestChunkReconstructsPage(t *testing.T) {
	text := "0123456789abcdefghijklmnopqrstuvwxyz"
	for _, p := range []struct{ size, overlap int }{{5, 0}, {5, 2}, {8, 7}, {36, 0}, {100, 3}} {
		c, err := New(p.size, p.overlap)
		require.NoError(t, err)

		chunks := c.Chunk(doc(text))
		var rebuilt strings.Builder
		covered := 0
		for i, ch := range chunks {
			start := i * (p.size - p.overlap)
			runes := []rune(ch.Text)
			rebuilt.WriteString(string(runes[covered-start:]))
			covered = start + len(runes)
		}
		assert.Equal(t, text, rebuilt.String(), "size=%d overlap=%d", p.size, p.overlap)
	}
}
