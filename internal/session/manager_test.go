package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"document-qa/internal/config"
	"document-qa/internal/embedding"
	"document-qa/internal/index"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"
	"document-qa/internal/vectorstore"
)

type brokenLLM struct{}

func (brokenLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, errors.New("API returned unexpected status code: 401: invalid_api_key")
}

func (brokenLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("unused")
}

func debugConfig() *config.Config {
	cfg := config.Default()
	cfg.RAG.Debug = true
	cfg.LLM.Model = "debug"
	cfg.EmbedLLM.Provider = "debug"
	cfg.VectorStore.Kind = "debug"
	cfg.RAG.ChunkSize = 60
	cfg.RAG.ChunkOverlap = 10
	cfg.RAG.TopK = 2
	return cfg
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(debugConfig())
	require.NoError(t, err)
	return m
}

var notes = []index.File{
	{Name: "france.txt", Data: []byte("Paris is the capital of France. The Seine flows through Paris.")},
	{Name: "italy.txt", Data: []byte("Rome is the capital of Italy. The Tiber flows through Rome.")},
}

func TestCreateStartsWithGreeting(t *testing.T) {
	m := newManager(t)
	id, err := m.Create()
	require.NoError(t, err)

	history, err := m.History(id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.RoleAssistant, history[0].Role)
	assert.Equal(t, models.InitialMessage, history[0].Content)
}

func TestUnknownSession(t *testing.T) {
	m := newManager(t)
	_, err := m.History("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Upload(context.Background(), "missing", notes, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Reset("missing"), ErrNotFound)
}

func TestUploadAndAsk(t *testing.T) {
	m := newManager(t)
	id, err := m.Create()
	require.NoError(t, err)

	res, err := m.Upload(context.Background(), id, notes, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"france.txt", "italy.txt"}, res.Documents)
	assert.Positive(t, res.Chunks)
	assert.False(t, res.Reused)

	answer, err := m.Ask(context.Background(), id, "What is the capital of Italy?", AskOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, answer.Text)
	assert.Equal(t, "1", answer.Citations)
	assert.Contains(t, answer.Text, "The information was found on the following pages: 1.")
	assert.Len(t, answer.Result.Sources, 2)

	history, err := m.History(id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.ConversationTurn{Role: models.RoleUser, Content: "What is the capital of Italy?"}, history[1])
	assert.Equal(t, answer.Text, history[2].Content)
}

func TestAskReturnAll(t *testing.T) {
	m := newManager(t)
	id, err := m.Create()
	require.NoError(t, err)
	res, err := m.Upload(context.Background(), id, notes, "")
	require.NoError(t, err)

	answer, err := m.Ask(context.Background(), id, "Rivers?", AskOptions{ReturnAll: true})
	require.NoError(t, err)
	assert.Len(t, answer.Result.Sources, res.Chunks)
}

func TestAskWithoutUpload(t *testing.T) {
	m := newManager(t)
	id, err := m.Create()
	require.NoError(t, err)
	_, err = m.Ask(context.Background(), id, "Anything?", AskOptions{})
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestAskRejectsUnknownModel(t *testing.T) {
	m := newManager(t)
	id, err := m.Create()
	require.NoError(t, err)
	_, err = m.Upload(context.Background(), id, notes, "")
	require.NoError(t, err)

	_, err = m.Ask(context.Background(), id, "Anything?", AskOptions{Model: "gpt-9"})
	var cfgErr *models.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestFailedAskLeavesHistoryUntouched(t *testing.T) {
	m := newManager(t)
	m.newLLM = func(string) (llms.Model, error) { return brokenLLM{}, nil }
	id, err := m.Create()
	require.NoError(t, err)
	_, err = m.Upload(context.Background(), id, notes, "")
	require.NoError(t, err)

	_, err = m.Ask(context.Background(), id, "What is the capital of France?", AskOptions{})
	var genErr *models.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorIs(t, err, models.ErrInvalidAPIKey)

	history, err := m.History(id)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestFailedUploadKeepsPreviousIndex(t *testing.T) {
	m := newManager(t)
	id, err := m.Create()
	require.NoError(t, err)
	_, err = m.Upload(context.Background(), id, notes, "")
	require.NoError(t, err)

	_, err = m.Upload(context.Background(), id, []index.File{
		{Name: "fine.txt", Data: []byte("Fine text.")},
		{Name: "sheet.xlsx", Data: []byte("PK")},
	}, "")
	var readErr *models.ReadError
	require.ErrorAs(t, err, &readErr)

	docs, err := m.Documents(id)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "france.txt", docs[0].Name)
}

func TestUploadReusesCachedIndex(t *testing.T) {
	m := newManager(t)
	first, err := m.Create()
	require.NoError(t, err)
	second, err := m.Create()
	require.NoError(t, err)

	a, err := m.Upload(context.Background(), first, notes, "")
	require.NoError(t, err)
	b, err := m.Upload(context.Background(), second, []index.File{notes[1], notes[0]}, "")
	require.NoError(t, err)

	assert.True(t, b.Reused)
	assert.Equal(t, a.IndexKey, b.IndexKey)
}

func TestResetKeepsCachedIndex(t *testing.T) {
	m := newManager(t)
	id, err := m.Create()
	require.NoError(t, err)
	_, err = m.Upload(context.Background(), id, notes, "")
	require.NoError(t, err)
	_, err = m.Ask(context.Background(), id, "Capital of France?", AskOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Reset(id))
	history, err := m.History(id)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	_, err = m.Documents(id)
	assert.ErrorIs(t, err, ErrNoIndex)

	res, err := m.Upload(context.Background(), id, notes, "")
	require.NoError(t, err)
	assert.True(t, res.Reused)
}

func TestDebugModelNeedsNoKey(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Key = ""
	cfg.EmbedLLM.Key = ""
	m, err := NewManager(cfg)
	require.NoError(t, err)
	id, err := m.Create()
	require.NoError(t, err)

	res, err := m.Upload(context.Background(), id, notes, "debug")
	require.NoError(t, err)
	assert.Positive(t, res.Chunks)

	answer, err := m.Ask(context.Background(), id, "What is the capital of Italy?", AskOptions{Model: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "1", answer.Citations)

	_, err = m.Upload(context.Background(), id, notes, "gpt-4o")
	var cfgErr *models.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "embed_llm.key", cfgErr.Field)

	docs, err := m.Documents(id)
	require.NoError(t, err)
	assert.Len(t, docs, 2, "the debug index stays attached")
}

func TestKinds(t *testing.T) {
	cfg := config.Default()
	emb, store, err := Kinds(cfg, "debug")
	require.NoError(t, err)
	assert.Equal(t, embedding.KindDebug, emb)
	assert.Equal(t, vectorstore.KindDebug, store)

	emb, store, err = Kinds(cfg, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, embedding.KindOpenAI, emb)
	assert.Equal(t, vectorstore.KindChromem, store)

	cfg.VectorStore.Kind = "faiss"
	_, _, err = Kinds(cfg, "gpt-4o")
	var cfgErr *models.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	_, err = NewManager(cfg)
	assert.ErrorAs(t, err, &cfgErr)
}

func TestUploadRejectsUnknownModel(t *testing.T) {
	m := newManager(t)
	id, err := m.Create()
	require.NoError(t, err)
	_, err = m.Upload(context.Background(), id, notes, "gpt-9")
	var cfgErr *models.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestAskSwitchesIndexWithModel(t *testing.T) {
	cfg := debugConfig()
	cfg.LLM.Key = "sk-test"
	cfg.VectorStore.Kind = "chromem"
	m, err := NewManager(cfg)
	require.NoError(t, err)
	m.newLLM = func(model string) (llms.Model, error) { return llmservice.NewDebugLLM(), nil }
	id, err := m.Create()
	require.NoError(t, err)

	first, err := m.Upload(context.Background(), id, notes, "debug")
	require.NoError(t, err)

	// gpt-4o runs on the configured chromem store, so asking with it builds a second index
	_, err = m.Ask(context.Background(), id, "What is the capital of France?", AskOptions{Model: "gpt-4o"})
	require.NoError(t, err)

	second, err := m.Upload(context.Background(), id, notes, "gpt-4o")
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.NotEqual(t, first.IndexKey, second.IndexKey)
}

func TestEvictedSessionReleasesIndex(t *testing.T) {
	cfg := debugConfig()
	cfg.Server.MaxSessions = 1
	m, err := NewManager(cfg)
	require.NoError(t, err)

	first, err := m.Create()
	require.NoError(t, err)
	_, err = m.Upload(context.Background(), first, notes, "")
	require.NoError(t, err)

	_, err = m.Create()
	require.NoError(t, err)
	_, err = m.History(first)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, m.cache.Len(), "the cache keeps its own reference")
}
