package rag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"document-qa/internal/index"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"
)

// Options controls a single question
type Options struct {
	Model       string
	TopK        int
	ReturnAll   bool
	Temperature float64
}

// Engine answers questions against a built FolderIndex. It keeps no per-query state.
type Engine struct {
	template string
}

func NewEngine() *Engine {
	return &Engine{template: models.GroundedPromptTemplate}
}

// Query retrieves the relevant chunks, asks the model and splits its answer from the cited sources
func (e *Engine) Query(ctx context.Context, idx *index.FolderIndex, question string, llm llms.Model, opts Options) (*models.QueryResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, &models.ConfigError{Field: "question", Reason: "must not be empty"}
	}
	if !opts.ReturnAll && opts.TopK <= 0 {
		return nil, &models.ConfigError{Field: "rag.top_k", Reason: "must be positive"}
	}

	sources, err := idx.Retrieve(ctx, question, opts.TopK, opts.ReturnAll)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("sources", len(sources)).Bool("return_all", opts.ReturnAll).Msg("Retrieved context")

	prompt := e.BuildPrompt(question, sources)
	raw, err := llmservice.Generate(ctx, llm, opts.Model, prompt, opts.Temperature)
	if err != nil {
		return nil, err
	}

	return &models.QueryResult{
		Answer:      ExtractAnswer(raw),
		Sources:     sources,
		RawResponse: raw,
	}, nil
}

// BuildPrompt fills the grounded template with one Content/Source block per chunk
func (e *Engine) BuildPrompt(question string, sources []models.Source) string {
	blocks := make([]string, len(sources))
	for i, s := range sources {
		blocks[i] = fmt.Sprintf("Content: %s\nSource: %s", s.Chunk.Text, s.Chunk.Label())
	}
	return fmt.Sprintf(e.template, strings.Join(blocks, models.ContextSeparator), question)
}

// ExtractAnswer returns the text before the first SOURCES: marker, or the whole response when there is none
func ExtractAnswer(raw string) string {
	normalized := strings.ReplaceAll(raw, "\n"+models.SourcesMarker, " "+models.SourcesMarker)
	normalized = strings.ReplaceAll(normalized, models.SourcesMarker+"\n", models.SourcesMarker+" ")
	answer, _, _ := strings.Cut(normalized, models.SourcesMarker)
	return strings.TrimSpace(answer)
}

// Citations lists the distinct page numbers of sources in ascending order
func Citations(sources []models.Source) (string, error) {
	seen := make(map[int]bool)
	var pages []int
	for _, s := range sources {
		page := s.Chunk.PageNumber
		if page < 1 {
			return "", &models.ConfigError{
				Field:  "page_number",
				Reason: fmt.Sprintf("chunk %d of %s has no valid page number", s.Chunk.ChunkIndex, s.Chunk.SourceDocument),
			}
		}
		if !seen[page] {
			seen[page] = true
			pages = append(pages, page)
		}
	}
	sort.Ints(pages)

	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ", "), nil
}

// FormatAnswer renders the assistant turn shown to the user
func FormatAnswer(result *models.QueryResult) (string, error) {
	citations, err := Citations(result.Sources)
	if err != nil {
		return "", err
	}
	if citations == "" {
		return result.Answer, nil
	}
	return result.Answer + "\n\n" + fmt.Sprintf(models.CitationTemplate, citations), nil
}
