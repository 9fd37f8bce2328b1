// Package store is the document store: the single source of truth for File
// and Message state.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/luminachat/lumina/internal/apperr"
	"github.com/luminachat/lumina/internal/models"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

type CreateFileParams struct {
	Key     string
	Name    string
	OwnerID string
	URL     string
	Status  string
}

const fileColumns = "id, key, name, owner_id, url, upload_status, failure_reason, create_time"

// CreateFileIfAbsent inserts a File row unless one with the same key already
// exists. The unique key constraint is the idempotency guard: the second
// caller gets the existing row and created=false, and must do no further
// ingestion work.
func (s *Store) CreateFileIfAbsent(ctx context.Context, p CreateFileParams) (*models.File, bool, error) {
	var f models.File
	err := s.db.QueryRow(ctx,
		`INSERT INTO files (id, key, name, owner_id, url, upload_status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (key) DO NOTHING
		 RETURNING `+fileColumns,
		uuid.New(), p.Key, p.Name, p.OwnerID, p.URL, p.Status,
	).Scan(&f.ID, &f.Key, &f.Name, &f.OwnerID, &f.URL, &f.UploadStatus, &f.FailureReason, &f.CreateTime)
	if err == nil {
		return &f, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert file: %w", err)
	}

	existing, err := s.getFileBy(ctx, "key = $1", p.Key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store) GetFile(ctx context.Context, id uuid.UUID) (*models.File, error) {
	return s.getFileBy(ctx, "id = $1", id)
}

func (s *Store) GetFileForOwner(ctx context.Context, id uuid.UUID, ownerID string) (*models.File, error) {
	return s.getFileBy(ctx, "id = $1 AND owner_id = $2", id, ownerID)
}

func (s *Store) GetFileByKeyForOwner(ctx context.Context, key, ownerID string) (*models.File, error) {
	return s.getFileBy(ctx, "key = $1 AND owner_id = $2", key, ownerID)
}

func (s *Store) getFileBy(ctx context.Context, where string, args ...interface{}) (*models.File, error) {
	var f models.File
	err := s.db.QueryRow(ctx,
		"SELECT "+fileColumns+" FROM files WHERE "+where, args...,
	).Scan(&f.ID, &f.Key, &f.Name, &f.OwnerID, &f.URL, &f.UploadStatus, &f.FailureReason, &f.CreateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("file: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return &f, nil
}

func (s *Store) ListFilesByOwner(ctx context.Context, ownerID string) ([]models.File, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+fileColumns+" FROM files WHERE owner_id = $1 ORDER BY create_time DESC",
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []models.File
	for rows.Next() {
		var f models.File
		if err := rows.Scan(&f.ID, &f.Key, &f.Name, &f.OwnerID, &f.URL, &f.UploadStatus, &f.FailureReason, &f.CreateTime); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Store) CountFilesByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM files WHERE owner_id = $1", ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return n, nil
}

// UpdateFileStatus transitions a file's status. Terminal states are final:
// the guard makes any update after SUCCESS or FAILED a no-op, so the
// database arbitrates exactly-once transition regardless of racing workers.
func (s *Store) UpdateFileStatus(ctx context.Context, id uuid.UUID, status, failureReason string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE files SET upload_status = $1, failure_reason = $2
		 WHERE id = $3 AND upload_status NOT IN ($4, $5)`,
		status, failureReason, id, models.UploadStatusSuccess, models.UploadStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	return nil
}

// DeleteFile removes a File and, via ON DELETE CASCADE, its messages and
// index namespace rows. Returns the storage key for blob cleanup.
func (s *Store) DeleteFile(ctx context.Context, id uuid.UUID, ownerID string) (string, error) {
	var key string
	err := s.db.QueryRow(ctx,
		"DELETE FROM files WHERE id = $1 AND owner_id = $2 RETURNING key",
		id, ownerID,
	).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("file: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("delete file: %w", err)
	}
	return key, nil
}
