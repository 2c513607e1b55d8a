package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

// Vector is a pgvector value, sent in its text form "[1,2,3]"
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

// ChunkVector is one embedded chunk of one build of a folder index
type ChunkVector struct {
	bun.BaseModel `bun:"table:chunk_vectors,alias:cv"`
	ID            int64  `bun:"id,pk,autoincrement"`
	IndexKey      string `bun:"index_key,notnull"`
	BuildID       string `bun:"build_id,notnull"`
	ChunkID       int    `bun:"chunk_id,notnull"`
	Embedding     Vector `bun:"embedding,notnull,type:vector"`
}

type scoredRow struct {
	ChunkID  int     `bun:"chunk_id"`
	Distance float64 `bun:"distance"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with the configured driver
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, &models.ConfigError{Field: "database.dsn", Reason: "required for the pgvector store"}
	}
	switch cfg.Driver {
	case "pq":
		// lib/pq reads the password from the dsn itself
		connector, err := pq.NewConnector(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to parse dsn: %w", err)
		}
		return sql.OpenDB(connector), nil
	default:
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	}
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	_, err := db.NewCreateTable().Model((*ChunkVector)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create chunk_vectors table: %w", err)
	}
	// tables created before builds were tracked
	if _, err := db.ExecContext(ctx, "ALTER TABLE chunk_vectors ADD COLUMN IF NOT EXISTS build_id varchar NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("failed to migrate chunk_vectors table: %w", err)
	}
	_, err = db.NewCreateIndex().Model((*ChunkVector)(nil)).Index("chunk_vectors_build_id_idx").IfNotExists().Column("build_id", "chunk_id").Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create chunk_vectors index: %w", err)
	}
	return nil
}

// Store is a pgvector-backed vector store. Its rows belong to one build of one
// index key, so rebuilding a key never touches rows still served by an older build.
type Store struct {
	db    *bun.DB
	key   string
	build string
}

// NewStore prepares the schema and starts a new build for key
func NewStore(ctx context.Context, db *bun.DB, key string) (*Store, error) {
	if err := InitDB(ctx, db); err != nil {
		return nil, err
	}
	return newStore(db, key), nil
}

func newStore(db *bun.DB, key string) *Store {
	return &Store{db: db, key: key, build: uuid.NewString()}
}

func (s *Store) Insert(ctx context.Context, vectors [][]float32, ids []int) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("vectors and ids length mismatch: %d != %d", len(vectors), len(ids))
	}
	if len(vectors) == 0 {
		return nil
	}
	rows := make([]ChunkVector, len(vectors))
	for i, v := range vectors {
		rows[i] = ChunkVector{IndexKey: s.key, BuildID: s.build, ChunkID: ids[i], Embedding: Vector(v)}
	}
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("failed to store vectors: %w", err)
	}
	log.Debug().Str("key", s.key).Str("build", s.build).Int("rows", len(rows)).Msg("Stored vectors")
	return nil
}

// Search orders by cosine distance; score is reported as cosine similarity
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]models.VectorHit, error) {
	if k <= 0 {
		return []models.VectorHit{}, nil
	}
	var rows []scoredRow
	err := s.db.NewSelect().
		Model((*ChunkVector)(nil)).
		Column("chunk_id").
		ColumnExpr("embedding <=> ? AS distance", Vector(query)).
		Where("build_id = ?", s.build).
		OrderExpr("distance ASC, chunk_id ASC").
		Limit(k).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	hits := make([]models.VectorHit, len(rows))
	for i, r := range rows {
		hits[i] = models.VectorHit{ID: r.ChunkID, Score: float32(1 - r.Distance)}
	}
	return hits, nil
}

// SearchAll scores every row of the build against query, in chunk id order
func (s *Store) SearchAll(ctx context.Context, query []float32) ([]models.VectorHit, error) {
	var rows []scoredRow
	err := s.db.NewSelect().
		Model((*ChunkVector)(nil)).
		Column("chunk_id").
		ColumnExpr("embedding <=> ? AS distance", Vector(query)).
		Where("build_id = ?", s.build).
		Order("chunk_id ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list vectors: %w", err)
	}
	hits := make([]models.VectorHit, len(rows))
	for i, r := range rows {
		hits[i] = models.VectorHit{ID: r.ChunkID, Score: float32(1 - r.Distance)}
	}
	return hits, nil
}

func (s *Store) Len() int {
	n, err := s.db.NewSelect().Model((*ChunkVector)(nil)).Where("build_id = ?", s.build).Count(context.Background())
	if err != nil {
		log.Warn().Err(err).Str("key", s.key).Msg("Counting vectors failed")
		return 0
	}
	return n
}

// Drop deletes the rows of this build
func (s *Store) Drop(ctx context.Context) error {
	res, err := s.db.NewDelete().Model((*ChunkVector)(nil)).Where("build_id = ?", s.build).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop build %s: %w", s.build, err)
	}
	n, _ := res.RowsAffected()
	log.Debug().Str("key", s.key).Str("build", s.build).Int64("rows", n).Msg("Dropped vectors")
	return nil
}

// drop table chunk_vectors
func DropVectors(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*ChunkVector)(nil)).IfExists().Exec(ctx)
	return err
}
