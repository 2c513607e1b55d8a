package llmservice

import (
	"context"
	"errors"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

// DebugModel selects the deterministic offline model
const DebugModel = "debug"

// ModelList are the selectable chat models
var ModelList = []string{"gpt-4o", "gpt-4-turbo", "gpt-4", "gpt-3.5-turbo", DebugModel}

// ValidateModel checks the model/key combination before any request is made
func ValidateModel(model, key string) error {
	if !slices.Contains(ModelList, model) {
		return &models.ConfigError{Field: "llm.model", Reason: "unsupported model " + model}
	}
	if model != DebugModel && strings.TrimSpace(key) == "" {
		return &models.ConfigError{Field: "llm.key", Reason: "an OpenAI API key is required; set OPENAI_API_KEY"}
	}
	return nil
}

// NewLLM builds the chat model for model
func NewLLM(llmConfig *config.LLMConfig, model string) (llms.Model, error) {
	if err := ValidateModel(model, llmConfig.Key); err != nil {
		return nil, err
	}
	if model == DebugModel {
		return NewDebugLLM(), nil
	}

	log.Debug().Str("model", model).Str("base_url", llmConfig.BaseURL).Msg("Creating chat model")
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(model),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, &models.GenerationError{Model: model, Reason: models.ErrProvider, Err: err}
	}
	return llm, nil
}

// Generate sends a single prompt. Provider failures come back as *models.GenerationError; nothing is retried.
func Generate(ctx context.Context, llm llms.Model, model, prompt string, temperature float64) (string, error) {
	log.Debug().Str("model", model).Int("prompt_chars", len(prompt)).Msg("Generating content")
	out, err := llms.GenerateFromSinglePrompt(ctx, llm, prompt, llms.WithTemperature(temperature))
	if err != nil {
		return "", &models.GenerationError{Model: model, Reason: classify(err), Err: err}
	}
	return out, nil
}

func classify(err error) error {
	var netErr net.Error
	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return models.ErrNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "401", "invalid_api_key", "incorrect api key", "unauthorized"):
		return models.ErrInvalidAPIKey
	case containsAny(msg, "model_not_found", "does not exist", "404", "unsupported model"):
		return models.ErrInvalidModel
	case containsAny(msg, "429", "rate limit", "rate_limit"):
		return models.ErrRateLimited
	case containsAny(msg, "connection refused", "no such host", "timeout", "eof"):
		return models.ErrNetwork
	}
	return models.ErrProvider
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
