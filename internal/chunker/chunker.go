package chunker

import (
	"document-qa/internal/config"
	"document-qa/internal/models"
)

// Chunker splits document pages into fixed-size, character (rune) based windows
type Chunker struct {
	size    int
	overlap int
}

// New validates 0 <= overlap < size; out-of-range values are an error, never clamped
func New(size, overlap int) (*Chunker, error) {
	if err := config.ValidateChunking(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits every page of doc. Chunk indexes run across the whole document.
// A page without text yields one empty chunk so every page keeps a chunk.
func (c *Chunker) Chunk(doc models.Document) []models.Chunk {
	var chunks []models.Chunk
	for _, page := range doc.Pages {
		texts := chunkContent(page.Text, c.size, c.overlap)
		if len(texts) == 0 {
			texts = []string{""}
		}
		for _, text := range texts {
			chunks = append(chunks, models.Chunk{
				Text:           text,
				SourceDocument: doc.Name,
				PageNumber:     page.Number,
				ChunkIndex:     len(chunks),
			})
		}
	}
	return chunks
}

// chunk content into windows of maxChars with a stride of maxChars-overlapChars
func chunkContent(content string, maxChars, overlapChars int) []string {
	runes := []rune(content)
	if len(runes) == 0 {
		return nil
	}

	stride := maxChars - overlapChars
	var chunks []string
	for start := 0; ; start += stride {
		end := min(start+maxChars, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
