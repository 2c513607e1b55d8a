package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

type failingLLM struct{ err error }

func (f *failingLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, f.err
}

func (f *failingLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", f.err
}

func TestValidateModel(t *testing.T) {
	assert.NoError(t, ValidateModel("debug", ""))
	assert.NoError(t, ValidateModel("gpt-4o", "sk-test"))

	var cfgErr *models.ConfigError
	require.ErrorAs(t, ValidateModel("gpt-9", "sk-test"), &cfgErr)
	assert.Equal(t, "llm.model", cfgErr.Field)

	require.ErrorAs(t, ValidateModel("gpt-4", "  "), &cfgErr)
	assert.Equal(t, "llm.key", cfgErr.Field)
}

func TestNewLLM(t *testing.T) {
	llm, err := NewLLM(&config.LLMConfig{}, DebugModel)
	require.NoError(t, err)
	assert.IsType(t, &DebugLLM{}, llm)

	llm, err = NewLLM(&config.LLMConfig{Key: "sk-test", BaseURL: "http://localhost:1"}, "gpt-4o")
	require.NoError(t, err)
	assert.NotNil(t, llm)

	_, err = NewLLM(&config.LLMConfig{}, "gpt-4o")
	var cfgErr *models.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestGenerateDebug(t *testing.T) {
	prompt := "<context>\nContent: The cat sat.\nSource: doc.txt p.1-1\n</context>"
	out, err := Generate(context.Background(), NewDebugLLM(), DebugModel, prompt, 0.2)
	require.NoError(t, err)
	assert.Equal(t, "According to the documents: The cat sat.\nSOURCES: doc.txt p.1-1", out)

	out, err = Generate(context.Background(), NewDebugLLM(), DebugModel, "no passages", 0.2)
	require.NoError(t, err)
	assert.Contains(t, out, "don't know")
}

func TestGenerateClassifiesFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"bad key", errors.New("API returned unexpected status code: 401: Incorrect API key provided"), models.ErrInvalidAPIKey},
		{"bad model", errors.New("status code: 404: The model `gpt-x` does not exist"), models.ErrInvalidModel},
		{"rate limit", errors.New("API returned unexpected status code: 429: Rate limit reached"), models.ErrRateLimited},
		{"network", &url.Error{Op: "Post", URL: "https://api.openai.com", Err: errors.New("dial tcp: refused")}, models.ErrNetwork},
		{"deadline", fmt.Errorf("request: %w", context.DeadlineExceeded), models.ErrNetwork},
		{"other", errors.New("server exploded"), models.ErrProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(context.Background(), &failingLLM{err: tt.err}, "gpt-4o", "prompt", 0)
			var genErr *models.GenerationError
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, "gpt-4o", genErr.Model)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
