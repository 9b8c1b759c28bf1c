// Package vectorstore persists text embeddings in Postgres (pgvector) and
// serves nearest-neighbour queries for the assignment pipeline. Records are
// append-only: parents may be deleted out from under them and callers are
// expected to re-verify references before acting on a match.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Dimensions is the embedding width produced by text-embedding-3-small.
const Dimensions = 1536

// Metadata type discriminators used by the pipeline.
const (
	TypeAssignment      = "assignment"
	TypeAssignmentChunk = "assignment_chunk"
	TypeQuestion        = "question"
	TypeAttachment      = "attachment"
	TypeMessage         = "message"
)

// Record is one stored (text, vector, metadata) row. Rows are never updated.
type Record struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Text      string            `gorm:"type:text;not null"`
	Vector    pgvector.Vector   `gorm:"type:vector(1536)"`
	Timestamp time.Time         `gorm:"not null"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
}

// TableName fixes the table used for embedding rows.
func (Record) TableName() string { return "embedding_records" }

// NewVector wraps a raw embedding so callers do not import pgvector directly.
func NewVector(values []float32) pgvector.Vector { return pgvector.NewVector(values) }

// Match is one nearest-neighbour search result. Score is a cosine distance;
// similarity is 1 - score.
type Match struct {
	Text     string
	Metadata map[string]interface{}
	Score    float64
}

// Similarity converts the distance score into a [0,1] similarity.
func (m Match) Similarity() float64 { return 1 - m.Score }

// Store exposes the embedding persistence operations the pipeline needs.
type Store interface {
	Add(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, limit int) ([]Match, error)
}

type pgStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New prepares the pgvector schema and returns a Postgres-backed store.
func New(db *gorm.DB, logger zerolog.Logger) (Store, error) {
	if err := ensureSchema(db); err != nil {
		return nil, err
	}

	return &pgStore{
		db:     db,
		logger: logger.With().Str("component", "vectorstore").Logger(),
	}, nil
}

func ensureSchema(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("migrate embedding records: %w", err)
	}

	index := "CREATE INDEX IF NOT EXISTS idx_embedding_records_vector " +
		"ON embedding_records USING ivfflat (vector vector_cosine_ops)"
	if err := db.Exec(index).Error; err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}

	return nil
}

func (s *pgStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	for i := range records {
		if records[i].ID == uuid.Nil {
			records[i].ID = uuid.New()
		}
		if records[i].Timestamp.IsZero() {
			records[i].Timestamp = time.Now().UTC()
		}
	}

	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("store embeddings: %w", err)
	}

	s.logger.Debug().Int("count", len(records)).Msg("embeddings stored")
	return nil
}

func (s *pgStore) Search(ctx context.Context, vector []float32, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}

	var rows []struct {
		Text     string
		Metadata datatypes.JSONMap
		Score    float64
	}

	query := "SELECT text, metadata, vector <=> ? AS score FROM embedding_records ORDER BY score ASC LIMIT ?"
	if err := s.db.WithContext(ctx).Raw(query, pgvector.NewVector(vector), limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("search embeddings: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, Match{
			Text:     row.Text,
			Metadata: map[string]interface{}(row.Metadata),
			Score:    row.Score,
		})
	}

	return matches, nil
}
