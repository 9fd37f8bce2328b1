package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type PgVectorIndex struct {
	db *pgxpool.Pool
}

func NewPgVectorIndex(db *pgxpool.Pool) *PgVectorIndex {
	return &PgVectorIndex{db: db}
}

func (s *PgVectorIndex) Upsert(ctx context.Context, namespace uuid.UUID, segments []SegmentVector) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, seg := range segments {
		embedding := pgvector.NewVector(seg.Embedding)

		_, err := tx.Exec(ctx,
			`INSERT INTO file_segments (id, namespace, page, content, embedding)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (namespace, page) DO UPDATE SET content = $4, embedding = $5`,
			uuid.New(), namespace, seg.Page, seg.Content, embedding,
		)
		if err != nil {
			return fmt.Errorf("upsert segment %d: %w", seg.Page, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PgVectorIndex) Query(ctx context.Context, namespace uuid.UUID, vector []float32, k int) ([]ScoredSegment, error) {
	if k <= 0 {
		k = 4
	}

	embedding := pgvector.NewVector(vector)

	rows, err := s.db.Query(ctx,
		`SELECT page, content, 1 - (embedding <=> $1) AS score
		 FROM file_segments
		 WHERE namespace = $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		embedding, namespace, k,
	)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var results []ScoredSegment
	for rows.Next() {
		var r ScoredSegment
		if err := rows.Scan(&r.Page, &r.Content, &r.Score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PgVectorIndex) DeleteNamespace(ctx context.Context, namespace uuid.UUID) error {
	_, err := s.db.Exec(ctx, "DELETE FROM file_segments WHERE namespace = $1", namespace)
	if err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	return nil
}
