package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"document-qa/internal/embedding"
	"document-qa/internal/models"
	"document-qa/internal/vectorstore"
)

// File is one uploaded file: its declared name and raw bytes
type File struct {
	Name string
	Data []byte
}

// FolderIndex is the searchable structure built for one uploaded file set.
// It is never mutated after Build returns. Holders share it by reference count
// and the store is dropped when the last holder releases it.
type FolderIndex struct {
	Key           string
	Documents     []models.Document
	Store         vectorstore.Store
	Chunks        map[int]models.Chunk
	Embedder      embeddings.Embedder
	EmbeddingKind embedding.Kind
	StoreKind     vectorstore.Kind

	refs atomic.Int32
}

// Options controls how Build calls the embedding provider
type Options struct {
	EmbeddingKind    embedding.Kind
	StoreKind        vectorstore.Kind
	EmbedBatchSize   int
	EmbedConcurrency int
}

// Params are the inputs besides file contents that change a built index
type Params struct {
	EmbeddingKind  embedding.Kind
	EmbeddingModel string
	StoreKind      vectorstore.Kind
	ChunkSize      int
	ChunkOverlap   int
}

// Fingerprint derives the cache key of an upload set. File order does not matter.
func Fingerprint(files []File, p Params) string {
	digests := make([]string, len(files))
	for i, f := range files {
		h := sha256.New()
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write(f.Data)
		digests[i] = hex.EncodeToString(h.Sum(nil))
	}
	sort.Strings(digests)

	h := sha256.New()
	for _, d := range digests {
		h.Write([]byte(d))
		h.Write([]byte{'\n'})
	}
	fmt.Fprintf(h, "embedding=%s\nmodel=%s\nstore=%s\nsize=%d\noverlap=%d\n",
		p.EmbeddingKind, p.EmbeddingModel, p.StoreKind, p.ChunkSize, p.ChunkOverlap)
	return hex.EncodeToString(h.Sum(nil))
}

// Build embeds every chunk and inserts the vectors into a fresh store. chunks[i] belongs to docs[i].
// Any failure returns no index at all. The returned index holds one reference owned by the caller.
func Build(ctx context.Context, key string, docs []models.Document, chunks [][]models.Chunk, emb embeddings.Embedder, newStore vectorstore.Factory, opts Options) (*FolderIndex, error) {
	if len(docs) != len(chunks) {
		return nil, fmt.Errorf("documents and chunk lists length mismatch: %d != %d", len(docs), len(chunks))
	}

	meta := make(map[int]models.Chunk)
	var texts []string
	var ids []int
	for _, docChunks := range chunks {
		for _, c := range docChunks {
			id := len(texts)
			meta[id] = c
			texts = append(texts, embedText(c))
			ids = append(ids, id)
		}
	}

	vectors, err := embedding.EmbedTexts(ctx, emb, opts.EmbeddingKind.String(), texts, opts.EmbedBatchSize, opts.EmbedConcurrency)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", opts.StoreKind, err)
	}
	if len(vectors) > 0 {
		if err := store.Insert(ctx, vectors, ids); err != nil {
			if dropErr := store.Drop(ctx); dropErr != nil {
				log.Warn().Err(dropErr).Str("key", shortKey(key)).Msg("Failed to drop partial store")
			}
			return nil, fmt.Errorf("failed to index vectors: %w", err)
		}
	}

	log.Info().Str("key", shortKey(key)).Int("documents", len(docs)).Int("chunks", len(texts)).
		Str("embedding", opts.EmbeddingKind.String()).Str("store", opts.StoreKind.String()).Msg("Built folder index")

	idx := &FolderIndex{
		Key:           key,
		Documents:     docs,
		Store:         store,
		Chunks:        meta,
		Embedder:      emb,
		EmbeddingKind: opts.EmbeddingKind,
		StoreKind:     opts.StoreKind,
	}
	idx.refs.Store(1)
	return idx, nil
}

// Blank chunks stand for pages without text and are embedded by their location
func embedText(c models.Chunk) string {
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Sprintf("%s page %d", c.SourceDocument, c.PageNumber)
	}
	return c.Text
}

// Len returns the number of indexed chunks
func (f *FolderIndex) Len() int { return len(f.Chunks) }

// tryAcquire takes a reference unless the last one is already gone
func (f *FolderIndex) tryAcquire() bool {
	for {
		n := f.refs.Load()
		if n <= 0 {
			return false
		}
		if f.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release gives up one reference. Releasing the last one drops the store.
func (f *FolderIndex) Release() {
	if f.refs.Add(-1) != 0 {
		return
	}
	if err := f.Store.Drop(context.Background()); err != nil {
		log.Warn().Err(err).Str("key", shortKey(f.Key)).Msg("Failed to drop released store")
		return
	}
	log.Debug().Str("key", shortKey(f.Key)).Msg("Dropped released store")
}

// Retrieve embeds question and returns the topK closest chunks, or every chunk
// in id order when returnAll is set. Scores are always similarities to question.
func (f *FolderIndex) Retrieve(ctx context.Context, question string, topK int, returnAll bool) ([]models.Source, error) {
	vec, err := embedding.EmbedQuery(ctx, f.Embedder, f.EmbeddingKind.String(), question)
	if err != nil {
		return nil, err
	}
	var hits []models.VectorHit
	if returnAll {
		hits, err = f.Store.SearchAll(ctx, vec)
	} else {
		hits, err = f.Store.Search(ctx, vec, topK)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search %s store: %w", f.StoreKind, err)
	}

	sources := make([]models.Source, 0, len(hits))
	for _, h := range hits {
		c, ok := f.Chunks[h.ID]
		if !ok {
			return nil, &models.ConfigError{Field: "chunk_metadata", Reason: "no chunk for vector id " + strconv.Itoa(h.ID)}
		}
		sources = append(sources, models.Source{Chunk: c, Score: h.Score})
	}
	return sources, nil
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
