package vectorstore

import (
	"context"

	"github.com/google/uuid"
)

// SegmentVector is one embedded document segment bound for the index.
type SegmentVector struct {
	Page      int
	Content   string
	Embedding []float32
}

// ScoredSegment is a retrieval hit, highest similarity first.
type ScoredSegment struct {
	Page    int     `json:"page"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Index partitions vectors into per-file namespaces. A namespace is owned
// exclusively by its file; queries never cross namespaces.
type Index interface {
	Upsert(ctx context.Context, namespace uuid.UUID, segments []SegmentVector) error
	Query(ctx context.Context, namespace uuid.UUID, vector []float32, k int) ([]ScoredSegment, error)
	DeleteNamespace(ctx context.Context, namespace uuid.UUID) error
}
