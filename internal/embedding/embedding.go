package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

// Kind is the closed set of embedding providers
type Kind int

const (
	KindOpenAI Kind = iota
	KindOllama
	KindDebug
)

func (k Kind) String() string {
	switch k {
	case KindOpenAI:
		return "openai"
	case KindOllama:
		return "ollama"
	case KindDebug:
		return "debug"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a configuration value onto a Kind
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return KindOpenAI, nil
	case "ollama":
		return KindOllama, nil
	case "debug":
		return KindDebug, nil
	}
	return 0, &models.ConfigError{Field: "embed_llm.provider", Reason: fmt.Sprintf("unknown embedding provider %q", s)}
}

// New creates the embedder for kind
func New(kind Kind, llmConfig *config.LLMConfig) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        kind.String(),
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating embedder")

	switch kind {
	case KindDebug:
		return NewDebugEmbedder(DebugDimension), nil
	case KindOpenAI:
		return NewEmbedder(llmConfig.Key, llmConfig.BaseURL, llmConfig.Model)
	case KindOllama:
		return NewOllamaEmbedder(llmConfig)
	}
	return nil, &models.ConfigError{Field: "embed_llm.provider", Reason: "unsupported embedding provider " + kind.String()}
}

// NewEmbedder creates an OpenAI compatible embedder
func NewEmbedder(key, baseURL, embeddingModel string) (*embeddings.EmbedderImpl, error) {
	if key == "" {
		return nil, &models.ConfigError{Field: "embed_llm.key", Reason: "an API key is required for openai embeddings"}
	}
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(key, "Bearer ")),
		openai.WithEmbeddingModel(embeddingModel),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

// new ollama embedder
func NewOllamaEmbedder(llmConfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	opts := []ollama.Option{ollama.WithModel(llmConfig.Model)}
	if llmConfig.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

// EmbedTexts embeds texts in batches of batchSize, running at most concurrency batches at once.
// The result is all-or-nothing: any failed batch discards every vector.
func EmbedTexts(ctx context.Context, embedder embeddings.Embedder, provider string, texts []string, batchSize, concurrency int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			batch, err := embedder.EmbedDocuments(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(batch) != end-start {
				return fmt.Errorf("expected %d vectors for batch at %d, got %d", end-start, start, len(batch))
			}
			for i, v := range batch {
				if len(v) == 0 {
					return fmt.Errorf("empty vector for text %d", start+i)
				}
			}
			// batches write disjoint ranges
			copy(vectors[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, &models.EmbeddingError{Provider: provider, Err: err}
	}

	log.Debug().Str("provider", provider).Int("texts", len(texts)).Int("batch_size", batchSize).Msg("Embedded texts")
	return vectors, nil
}

// EmbedQuery embeds a single question, reporting failures as EmbeddingError
func EmbedQuery(ctx context.Context, embedder embeddings.Embedder, provider, text string) ([]float32, error) {
	vec, err := embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &models.EmbeddingError{Provider: provider, Err: err}
	}
	if len(vec) == 0 {
		return nil, &models.EmbeddingError{Provider: provider, Err: fmt.Errorf("empty query vector")}
	}
	return vec, nil
}
