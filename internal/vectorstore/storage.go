package vectorstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/db"
	"document-qa/internal/helper"
	"document-qa/internal/models"
)

// Store persists vectors under integer ids and supports similarity search.
// Implementations are safe for concurrent reads once populated.
type Store interface {
	Insert(ctx context.Context, vectors [][]float32, ids []int) error
	Search(ctx context.Context, query []float32, k int) ([]models.VectorHit, error)
	// SearchAll scores every stored vector against query, in id order
	SearchAll(ctx context.Context, query []float32) ([]models.VectorHit, error)
	Len() int
	// Drop releases everything the store holds. The store is unusable afterwards.
	Drop(ctx context.Context) error
}

// Kind is the closed set of store implementations
type Kind int

const (
	KindChromem Kind = iota
	KindPgvector
	KindDebug
)

func (k Kind) String() string {
	switch k {
	case KindChromem:
		return "chromem"
	case KindPgvector:
		return "pgvector"
	case KindDebug:
		return "debug"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chromem":
		return KindChromem, nil
	case "pgvector":
		return KindPgvector, nil
	case "debug":
		return KindDebug, nil
	}
	return 0, &models.ConfigError{Field: "vector_store.kind", Reason: fmt.Sprintf("unknown vector store %q", s)}
}

// Factory creates a fresh, empty store for an index key. Two stores created for
// the same key never share rows.
type Factory func(ctx context.Context, key string) (Store, error)

// NewFactory binds kind and configuration. The chromem database and the pgvector
// connection are opened once and shared by every store the factory creates.
func NewFactory(kind Kind, cfg *config.Config) (Factory, error) {
	switch kind {
	case KindDebug:
		return func(ctx context.Context, key string) (Store, error) {
			return NewMemoryStore(), nil
		}, nil
	case KindChromem:
		vs := cfg.VectorStore
		vdb, err := chromemdb.OpenDB(vs.Path, vs.Path == "", vs.Compress)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, key string) (Store, error) {
			build, err := helper.GenerateUUID()
			if err != nil {
				return nil, err
			}
			name := collectionName(key, build)
			m := chromemdb.NewCollectionManager(vdb, vs.Path, name, vs.Compress, cfg.RAG.EncryptionKey)
			if _, err := m.NewCollection(name); err != nil {
				return nil, err
			}
			return m, nil
		}, nil
	case KindPgvector:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		bunDB := db.NewDB(sqldb, cfg.Database.Debug)
		return func(ctx context.Context, key string) (Store, error) {
			return db.NewStore(ctx, bunDB, key)
		}, nil
	}
	return nil, &models.ConfigError{Field: "vector_store.kind", Reason: "unsupported vector store " + kind.String()}
}

func collectionName(key, build string) string {
	h := sha1.Sum([]byte(key))
	if len(build) > 8 {
		build = build[:8]
	}
	return "folder_" + hex.EncodeToString(h[:8]) + "_" + build
}
