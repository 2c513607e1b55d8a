package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"document-qa/internal/models"
)

// meta data will have source filename, page number, chunk id; chromem only keeps the vector and the chunk id

// VectorDBManager encapsulates the chromem-go database operations for one collection
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string
}

// OpenDB opens the chromem database once. A persistent database lives under dbPath.
func OpenDB(dbPath string, inMemory, compress bool) (*chromem.DB, error) {
	if inMemory {
		return chromem.NewDB(), nil
	}
	db, err := chromem.NewPersistentDB(dbPath, compress)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	return db, nil
}

// NewVectorDBManager initializes a new vector database manager on its own database
func NewVectorDBManager(dbPath, collectionName string, inMemory, compress bool, encryptionKey string) (*VectorDBManager, error) {
	db, err := OpenDB(dbPath, inMemory, compress)
	if err != nil {
		return nil, err
	}
	return NewCollectionManager(db, dbPath, collectionName, compress, encryptionKey), nil
}

// NewCollectionManager manages one collection of an already opened database
func NewCollectionManager(db *chromem.DB, dbPath, collectionName string, compress bool, encryptionKey string) *VectorDBManager {
	ext := ".gob"
	if compress {
		ext += ".gz"
	}
	return &VectorDBManager{
		db:            db,
		dbPath:        dbPath,
		compress:      compress,
		encryptionKey: encryptionKey,
		filePath:      filepath.Join(dbPath, collectionName+ext),
	}
}

// NewCollection drops any previous collection of that name and creates an empty one
func (m *VectorDBManager) NewCollection(collectionName string) (*chromem.Collection, error) {
	if m.db.GetCollection(collectionName, nil) != nil {
		if err := m.db.DeleteCollection(collectionName); err != nil {
			return nil, fmt.Errorf("failed to drop collection: %w", err)
		}
	}
	return m.GetOrCreateCollection(collectionName)
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

// Insert adds one document per vector, keyed by the chunk id
func (m *VectorDBManager) Insert(ctx context.Context, vectors [][]float32, ids []int) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("vectors and ids length mismatch: %d != %d", len(vectors), len(ids))
	}
	docs := make([]chromem.Document, len(vectors))
	for i, v := range vectors {
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(ids[i]),
			Embedding: v,
		}
	}
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search returns the k most similar documents, most similar first
func (m *VectorDBManager) Search(ctx context.Context, query []float32, k int) ([]models.VectorHit, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	n := min(k, m.Len())
	if n <= 0 {
		return []models.VectorHit{}, nil
	}

	results, err := m.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: query,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return toHits(results)
}

// SearchAll scores every stored document against query and returns them in id order
func (m *VectorDBManager) SearchAll(ctx context.Context, query []float32) ([]models.VectorHit, error) {
	hits, err := m.Search(ctx, query, m.Len())
	if err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	return hits, nil
}

func (m *VectorDBManager) Len() int {
	if m.collection == nil {
		return 0
	}
	return m.collection.Count()
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	err := m.db.DeleteCollection(m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// Drop deletes the collection from the shared database
func (m *VectorDBManager) Drop(ctx context.Context) error {
	if m.collection == nil {
		return nil
	}
	if err := m.DeleteCollection(); err != nil {
		return err
	}
	m.collection = nil
	return nil
}

// export to file
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	if m.dbPath == "" {
		return fmt.Errorf("db path is required")
	}

	log.Debug().Str("collection", m.collection.Name).Str("file", m.filePath).Bool("compress", m.compress).Msg("Exporting collection")
	err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// import from file
func (m *VectorDBManager) Import(ctx context.Context) error {
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	err := m.db.ImportFromFile(m.filePath, m.encryptionKey, m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	m.collection = m.db.GetCollection(m.collection.Name, nil)
	return nil
}

func (m *VectorDBManager) FilePath() string { return m.filePath }

func toHits(results []chromem.Result) ([]models.VectorHit, error) {
	hits := make([]models.VectorHit, 0, len(results))
	for _, r := range results {
		id, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, fmt.Errorf("malformed document id %q: %w", r.ID, err)
		}
		hits = append(hits, models.VectorHit{ID: id, Score: r.Similarity})
	}
	return hits, nil
}
