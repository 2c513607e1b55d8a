package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"document-qa/internal/chunker"
	"document-qa/internal/config"
	"document-qa/internal/embedding"
	"document-qa/internal/index"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"
	"document-qa/internal/parser"
	"document-qa/internal/vectorstore"
)

// recordingLLM returns a fixed reply and keeps the last prompt
type recordingLLM struct {
	reply  string
	err    error
	prompt string
}

func (r *recordingLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if r.err != nil {
		return nil, r.err
	}
	for _, m := range messages {
		for _, p := range m.Parts {
			if text, ok := p.(llms.TextContent); ok {
				r.prompt = text.Text
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: r.reply}}}, nil
}

func (r *recordingLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, r, prompt, options...)
}

func source(doc string, page, idx int) models.Source {
	return models.Source{Chunk: models.Chunk{Text: "x", SourceDocument: doc, PageNumber: page, ChunkIndex: idx}}
}

func buildIndex(t *testing.T) *index.FolderIndex {
	t.Helper()
	c, err := chunker.New(40, 0)
	require.NoError(t, err)
	doc, err := parser.Read([]byte("Paris is the capital of France. Berlin is the capital of Germany. Rome is in Italy."), "capitals.txt")
	require.NoError(t, err)
	factory, err := vectorstore.NewFactory(vectorstore.KindDebug, config.Default())
	require.NoError(t, err)

	idx, err := index.Build(context.Background(), "k", []models.Document{doc}, [][]models.Chunk{c.Chunk(doc)},
		embedding.NewDebugEmbedder(embedding.DebugDimension), factory, index.Options{
			EmbeddingKind:    embedding.KindDebug,
			StoreKind:        vectorstore.KindDebug,
			EmbedBatchSize:   8,
			EmbedConcurrency: 1,
		})
	require.NoError(t, err)
	return idx
}

func TestExtractAnswer(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"marker on own line", "The cat sat.\nSOURCES:\ndoc.pdf page 1", "The cat sat."},
		{"inline marker", "The cat sat. SOURCES: doc.pdf", "The cat sat."},
		{"no marker", "  Just an answer.\n", "Just an answer."},
		{"empty answer", "SOURCES: a.pdf", ""},
		{"first marker wins", "A\nSOURCES: b SOURCES: c", "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractAnswer(tt.raw))
		})
	}
}

func TestCitations(t *testing.T) {
	got, err := Citations([]models.Source{source("a.pdf", 3, 0), source("a.pdf", 1, 1), source("b.pdf", 3, 0), source("a.pdf", 2, 2)})
	require.NoError(t, err)
	assert.Equal(t, "1, 2, 3", got)

	got, err = Citations(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Citations([]models.Source{source("a.pdf", 0, 0)})
	var cfgErr *models.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestFormatAnswer(t *testing.T) {
	out, err := FormatAnswer(&models.QueryResult{Answer: "Paris.", Sources: []models.Source{source("a.txt", 1, 0)}})
	require.NoError(t, err)
	assert.Equal(t, "Paris.\n\nThe information was found on the following pages: 1.", out)

	out, err = FormatAnswer(&models.QueryResult{Answer: "I don't know."})
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", out)
}

func TestBuildPrompt(t *testing.T) {
	e := NewEngine()
	prompt := e.BuildPrompt("Where?", []models.Source{source("a.pdf", 2, 5), source("b.pdf", 1, 0)})
	assert.Contains(t, prompt, "Content: x\nSource: a.pdf p.2-5")
	assert.Contains(t, prompt, "Source: b.pdf p.1-0")
	assert.Contains(t, prompt, "QUESTION: Where?")
	assert.Contains(t, prompt, "SOURCES")
}

func TestQuery(t *testing.T) {
	idx := buildIndex(t)
	e := NewEngine()

	t.Run("top k", func(t *testing.T) {
		llm := &recordingLLM{reply: "Paris.\nSOURCES:\ncapitals.txt p.1-0"}
		res, err := e.Query(context.Background(), idx, "capital of France", llm, Options{Model: "debug", TopK: 1})
		require.NoError(t, err)
		assert.Equal(t, "Paris.", res.Answer)
		assert.Len(t, res.Sources, 1)
		assert.Equal(t, llm.reply, res.RawResponse)
		assert.Contains(t, llm.prompt, "QUESTION: capital of France")
	})

	t.Run("return all", func(t *testing.T) {
		llm := &recordingLLM{reply: "Rome."}
		res, err := e.Query(context.Background(), idx, "Italy", llm, Options{Model: "debug", TopK: 1, ReturnAll: true})
		require.NoError(t, err)
		assert.Len(t, res.Sources, idx.Len())
		for i, s := range res.Sources {
			assert.Equal(t, i, s.Chunk.ChunkIndex)
		}
	})

	t.Run("debug model", func(t *testing.T) {
		res, err := e.Query(context.Background(), idx, "Berlin", llmservice.NewDebugLLM(), Options{Model: "debug", TopK: 2})
		require.NoError(t, err)
		assert.NotEmpty(t, res.Answer)
		assert.NotContains(t, res.Answer, models.SourcesMarker)
	})

	t.Run("generation failure", func(t *testing.T) {
		llm := &recordingLLM{err: errors.New("429 rate limit")}
		res, err := e.Query(context.Background(), idx, "Italy", llm, Options{Model: "gpt-4o", TopK: 1})
		assert.Nil(t, res)
		assert.ErrorIs(t, err, models.ErrRateLimited)
	})

	t.Run("empty question", func(t *testing.T) {
		_, err := e.Query(context.Background(), idx, "  ", &recordingLLM{}, Options{TopK: 1})
		var cfgErr *models.ConfigError
		assert.ErrorAs(t, err, &cfgErr)
	})
}
