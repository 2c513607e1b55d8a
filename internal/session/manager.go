package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"document-qa/internal/chunker"
	"document-qa/internal/config"
	"document-qa/internal/embedding"
	"document-qa/internal/helper"
	"document-qa/internal/index"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"
	"document-qa/internal/parser"
	"document-qa/internal/rag"
	"document-qa/internal/vectorstore"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrNoIndex  = errors.New("no documents uploaded")
)

type session struct {
	mu      sync.Mutex
	upload  *upload
	index   *index.FolderIndex
	history []models.ConversationTurn
	closed  bool
}

// upload is what a session needs to rebuild its index for another backend
type upload struct {
	files  []index.File
	docs   []models.Document
	chunks [][]models.Chunk
}

// AskOptions overrides the configured model for one question
type AskOptions struct {
	Model     string
	ReturnAll bool
}

// UploadResult describes the index now attached to a session
type UploadResult struct {
	Documents []string `json:"documents"`
	Chunks    int      `json:"chunks"`
	IndexKey  string   `json:"index_key"`
	Reused    bool     `json:"reused"`
}

// Answer is one completed question/answer round
type Answer struct {
	Text      string              `json:"answer"`
	Citations string              `json:"citations"`
	Result    *models.QueryResult `json:"-"`
}

// backend is one embedder and store pairing an index can be built with
type backend struct {
	embedder  embeddings.Embedder
	embModel  string
	embKind   embedding.Kind
	storeKind vectorstore.Kind
	newStore  vectorstore.Factory
}

// Manager owns every conversation. Operations on one session run one at a time.
type Manager struct {
	cfg      *config.Config
	sessions *lru.Cache[string, *session]
	cache    *index.Cache
	engine   *rag.Engine
	chunker  *chunker.Chunker
	newLLM   func(model string) (llms.Model, error)

	debug *backend

	mu         sync.Mutex
	configured *backend
}

// Kinds returns the embedder and store kinds an index for model is built with.
// The debug model always runs offline, whatever the configuration says.
func Kinds(cfg *config.Config, model string) (embedding.Kind, vectorstore.Kind, error) {
	if model == llmservice.DebugModel {
		return embedding.KindDebug, vectorstore.KindDebug, nil
	}
	embKind, err := embedding.ParseKind(cfg.EmbedLLM.Provider)
	if err != nil {
		return 0, 0, err
	}
	storeKind, err := vectorstore.ParseKind(cfg.VectorStore.Kind)
	if err != nil {
		return 0, 0, err
	}
	return embKind, storeKind, nil
}

func NewManager(cfg *config.Config) (*Manager, error) {
	// unknown kinds fail here; missing keys only fail once a non-debug model needs them
	if _, _, err := Kinds(cfg, ""); err != nil {
		return nil, err
	}
	debug, err := newBackend(cfg, embedding.KindDebug, vectorstore.KindDebug)
	if err != nil {
		return nil, err
	}
	c, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	cache, err := index.NewCache(cfg.RAG.CacheSize)
	if err != nil {
		return nil, err
	}
	sessions, err := lru.NewWithEvict(cfg.Server.MaxSessions, func(id string, s *session) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		s.detach()
		log.Debug().Str("session", id).Msg("Evicted session")
	})
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:      cfg,
		sessions: sessions,
		cache:    cache,
		engine:   rag.NewEngine(),
		chunker:  c,
		debug:    debug,
		newLLM: func(model string) (llms.Model, error) {
			return llmservice.NewLLM(&cfg.LLM, model)
		},
	}, nil
}

func newBackend(cfg *config.Config, embKind embedding.Kind, storeKind vectorstore.Kind) (*backend, error) {
	emb, err := embedding.New(embKind, &cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	newStore, err := vectorstore.NewFactory(storeKind, cfg)
	if err != nil {
		return nil, err
	}
	embModel := cfg.EmbedLLM.Model
	if embKind == embedding.KindDebug {
		embModel = llmservice.DebugModel
	}
	return &backend{embedder: emb, embModel: embModel, embKind: embKind, storeKind: storeKind, newStore: newStore}, nil
}

// backendFor returns the debug backend for the debug model and the configured one otherwise.
// The configured backend is created on first use and kept once it succeeds.
func (m *Manager) backendFor(model string) (*backend, error) {
	if model == llmservice.DebugModel {
		return m.debug, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configured != nil {
		return m.configured, nil
	}
	embKind, storeKind, err := Kinds(m.cfg, model)
	if err != nil {
		return nil, err
	}
	b, err := newBackend(m.cfg, embKind, storeKind)
	if err != nil {
		return nil, err
	}
	m.configured = b
	return b, nil
}

// Create starts a conversation holding only the greeting
func (m *Manager) Create() (string, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return "", err
	}
	m.sessions.Add(id, &session{history: greeting()})
	log.Info().Str("session", id).Msg("Created session")
	return id, nil
}

// Upload reads and indexes files for model (empty means the configured model) and attaches
// the result to the session. On any failure the session keeps its previous index.
func (m *Manager) Upload(ctx context.Context, id string, files []index.File, model string) (*UploadResult, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &models.ConfigError{Field: "files", Reason: "at least one file is required"}
	}
	if model == "" {
		model = m.cfg.LLM.Model
	}
	if !slices.Contains(llmservice.ModelList, model) {
		return nil, &models.ConfigError{Field: "llm.model", Reason: "unsupported model " + model}
	}
	b, err := m.backendFor(model)
	if err != nil {
		return nil, err
	}

	u := &upload{
		files:  files,
		docs:   make([]models.Document, 0, len(files)),
		chunks: make([][]models.Chunk, 0, len(files)),
	}
	for _, f := range files {
		doc, err := parser.Read(f.Data, f.Name)
		if err != nil {
			return nil, err
		}
		u.docs = append(u.docs, doc)
		u.chunks = append(u.chunks, m.chunker.Chunk(doc))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, reused, err := m.buildIndex(ctx, u, b)
	if err != nil {
		log.Error().Err(err).Str("session", id).Msg("Failed to index upload")
		return nil, err
	}
	if s.closed {
		idx.Release()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.detach()
	s.upload = u
	s.index = idx

	names := make([]string, len(idx.Documents))
	for i, d := range idx.Documents {
		names[i] = d.Name
	}
	log.Info().Str("session", id).Strs("documents", names).Str("store", b.storeKind.String()).Bool("reused", reused).Msg("Attached index")
	return &UploadResult{Documents: names, Chunks: idx.Len(), IndexKey: idx.Key, Reused: reused}, nil
}

// buildIndex returns an index for u built with b, reusing a cached one when the fingerprint matches.
// The caller owns a reference to the result.
func (m *Manager) buildIndex(ctx context.Context, u *upload, b *backend) (*index.FolderIndex, bool, error) {
	key := index.Fingerprint(u.files, index.Params{
		EmbeddingKind:  b.embKind,
		EmbeddingModel: b.embModel,
		StoreKind:      b.storeKind,
		ChunkSize:      m.chunker.Size(),
		ChunkOverlap:   m.chunker.Overlap(),
	})
	return m.cache.GetOrBuild(ctx, key, func(ctx context.Context) (*index.FolderIndex, error) {
		return index.Build(ctx, key, u.docs, u.chunks, b.embedder, b.newStore, index.Options{
			EmbeddingKind:    b.embKind,
			StoreKind:        b.storeKind,
			EmbedBatchSize:   m.cfg.RAG.EmbedBatchSize,
			EmbedConcurrency: m.cfg.RAG.EmbedConcurrency,
		})
	})
}

// Ask answers question against the session's index and records the exchange on success
func (m *Manager) Ask(ctx context.Context, id, question string, opts AskOptions) (*Answer, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	model := opts.Model
	if model == "" {
		model = m.cfg.LLM.Model
	}
	if err := llmservice.ValidateModel(model, m.cfg.LLM.Key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil, ErrNoIndex
	}
	b, err := m.backendFor(model)
	if err != nil {
		return nil, err
	}
	if s.index.EmbeddingKind != b.embKind || s.index.StoreKind != b.storeKind {
		idx, _, err := m.buildIndex(ctx, s.upload, b)
		if err != nil {
			return nil, err
		}
		s.index.Release()
		s.index = idx
		log.Info().Str("session", id).Str("model", model).Str("store", b.storeKind.String()).Msg("Switched index for model")
	}

	llm, err := m.newLLM(model)
	if err != nil {
		return nil, err
	}
	result, err := m.engine.Query(ctx, s.index, question, llm, rag.Options{
		Model:       model,
		TopK:        m.cfg.RAG.TopK,
		ReturnAll:   opts.ReturnAll,
		Temperature: m.cfg.LLM.Temperature,
	})
	if err != nil {
		return nil, err
	}
	citations, err := rag.Citations(result.Sources)
	if err != nil {
		return nil, err
	}
	text, err := rag.FormatAnswer(result)
	if err != nil {
		return nil, err
	}

	s.history = append(s.history,
		models.ConversationTurn{Role: models.RoleUser, Content: question},
		models.ConversationTurn{Role: models.RoleAssistant, Content: text},
	)
	return &Answer{Text: text, Citations: citations, Result: result}, nil
}

// Reset clears the conversation and detaches the index. The built index stays cached until evicted.
func (m *Manager) Reset(id string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = greeting()
	s.detach()
	log.Info().Str("session", id).Msg("Reset session")
	return nil
}

// History returns a copy of the conversation so far
func (m *Manager) History(id string) ([]models.ConversationTurn, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ConversationTurn, len(s.history))
	copy(out, s.history)
	return out, nil
}

// Documents returns the documents of the attached index
func (m *Manager) Documents(id string) ([]models.Document, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil, ErrNoIndex
	}
	return s.index.Documents, nil
}

func (m *Manager) get(id string) (*session, error) {
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// detach releases the session's index. Callers hold s.mu.
func (s *session) detach() {
	if s.index != nil {
		s.index.Release()
	}
	s.index = nil
	s.upload = nil
}

func greeting() []models.ConversationTurn {
	return []models.ConversationTurn{{Role: models.RoleAssistant, Content: models.InitialMessage}}
}
