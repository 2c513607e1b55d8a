package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"document-qa/internal/models"
)

// DebugLLM answers offline by quoting the first context passage of the prompt and citing its source
type DebugLLM struct{}

func NewDebugLLM() *DebugLLM { return &DebugLLM{} }

func (d *DebugLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var prompt strings.Builder
	for _, m := range messages {
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
			}
		}
	}
	if prompt.Len() == 0 {
		return nil, errors.New("empty prompt")
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: debugAnswer(prompt.String()), StopReason: "stop"}},
	}, nil
}

func (d *DebugLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, d, prompt, options...)
}

func debugAnswer(prompt string) string {
	var content, source string
	for _, line := range strings.Split(prompt, "\n") {
		switch {
		case content == "" && strings.HasPrefix(line, "Content: "):
			content = strings.TrimSpace(strings.TrimPrefix(line, "Content: "))
		case source == "" && strings.HasPrefix(line, "Source: "):
			source = strings.TrimSpace(strings.TrimPrefix(line, "Source: "))
		}
	}
	if content == "" {
		return fmt.Sprintf("I don't know.\n%s", models.SourcesMarker)
	}
	return fmt.Sprintf("According to the documents: %s\n%s %s", content, models.SourcesMarker, source)
}
