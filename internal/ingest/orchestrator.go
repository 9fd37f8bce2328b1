// Package ingest drives an uploaded document through its status state
// machine: register → extract → quota check → embed → index → terminal.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/luminachat/lumina/internal/apperr"
	"github.com/luminachat/lumina/internal/extract"
	"github.com/luminachat/lumina/internal/models"
	"github.com/luminachat/lumina/internal/plan"
	"github.com/luminachat/lumina/internal/store"
	"github.com/luminachat/lumina/internal/vectorstore"
)

// FileStore is the slice of the document store the orchestrator needs.
type FileStore interface {
	CreateFileIfAbsent(ctx context.Context, p store.CreateFileParams) (*models.File, bool, error)
	GetFile(ctx context.Context, id uuid.UUID) (*models.File, error)
	GetFileForOwner(ctx context.Context, id uuid.UUID, ownerID string) (*models.File, error)
	CountFilesByOwner(ctx context.Context, ownerID string) (int, error)
	UpdateFileStatus(ctx context.Context, id uuid.UUID, status, failureReason string) error
	DeleteFile(ctx context.Context, id uuid.UUID, ownerID string) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type BlobStore interface {
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, key string) error
}

// Locker is a best-effort mutual exclusion on the storage key, so racing
// ingestion attempts don't both pay for embeddings. Correctness does not
// depend on it: the files.key unique constraint is the real guard.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

const lockTTL = 10 * time.Minute

type Orchestrator struct {
	files     FileStore
	blobs     BlobStore
	bucket    string
	extractor extract.Extractor
	embedder  Embedder
	index     vectorstore.Index
	locks     Locker
}

func NewOrchestrator(files FileStore, blobs BlobStore, bucket string, ex extract.Extractor, emb Embedder, idx vectorstore.Index, locks Locker) *Orchestrator {
	return &Orchestrator{
		files:     files,
		blobs:     blobs,
		bucket:    bucket,
		extractor: ex,
		embedder:  emb,
		index:     idx,
		locks:     locks,
	}
}

type RegisterRequest struct {
	Key     string
	Name    string
	OwnerID string
	URL     string
	Plan    plan.Plan
}

// Register creates the File row in PROCESSING before any pipeline work. If a
// file with the same key already exists it is returned unchanged and
// created=false: retried upload callbacks must not produce duplicate rows or
// duplicate indexing work.
func (o *Orchestrator) Register(ctx context.Context, req RegisterRequest) (*models.File, bool, error) {
	count, err := o.files.CountFilesByOwner(ctx, req.OwnerID)
	if err != nil {
		return nil, false, err
	}
	if err := plan.CheckFileCount(req.Plan, count); err != nil {
		return nil, false, err
	}

	file, created, err := o.files.CreateFileIfAbsent(ctx, store.CreateFileParams{
		Key:     req.Key,
		Name:    req.Name,
		OwnerID: req.OwnerID,
		URL:     req.URL,
		Status:  models.UploadStatusProcessing,
	})
	if err != nil {
		return nil, false, err
	}
	if !created {
		slog.Info("ingestion short-circuited, key already registered",
			"file_id", file.ID, "key", req.Key)
	}
	return file, created, nil
}

// Process runs extraction, quota, embedding and indexing for a registered
// file and drives it to a terminal status exactly once. Failures are
// recorded on the file, never raised: callers learn outcomes by polling.
func (o *Orchestrator) Process(ctx context.Context, fileID uuid.UUID, contentType string, p plan.Plan) error {
	file, err := o.files.GetFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("load file %s: %w", fileID, err)
	}
	if models.Terminal(file.UploadStatus) {
		slog.Info("file already terminal, skipping", "file_id", file.ID, "status", file.UploadStatus)
		return nil
	}

	if o.locks != nil {
		acquired, err := o.locks.AcquireLock(ctx, file.Key, lockTTL)
		if err != nil {
			slog.Warn("ingest lock unavailable, proceeding", "key", file.Key, "error", err)
		} else if !acquired {
			slog.Info("concurrent ingestion in flight, skipping", "key", file.Key)
			return nil
		} else {
			defer o.locks.ReleaseLock(context.WithoutCancel(ctx), file.Key)
		}
	}

	segments, err := o.extractSegments(ctx, file, contentType)
	if err != nil {
		return o.fail(ctx, file, fmt.Errorf("extract: %w", err))
	}

	// Segment count is only known post-extraction; check it before spending
	// anything on embeddings.
	if err := plan.CheckPages(p, len(segments)); err != nil {
		return o.fail(ctx, file, err)
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}

	vectors, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return o.fail(ctx, file, fmt.Errorf("%w: embed: %v", apperr.ErrUpstream, err))
	}

	segVectors := make([]vectorstore.SegmentVector, len(segments))
	for i, seg := range segments {
		segVectors[i] = vectorstore.SegmentVector{
			Page:      seg.Page,
			Content:   seg.Text,
			Embedding: vectors[i],
		}
	}

	if err := o.index.Upsert(ctx, file.ID, segVectors); err != nil {
		// Partial upserts may remain; the FAILED status keeps the namespace
		// unreachable and a later retry overwrites it.
		return o.fail(ctx, file, fmt.Errorf("%w: index: %v", apperr.ErrUpstream, err))
	}

	if err := o.files.UpdateFileStatus(ctx, file.ID, models.UploadStatusSuccess, ""); err != nil {
		return fmt.Errorf("mark success: %w", err)
	}

	slog.Info("document indexed", "file_id", file.ID, "segments", len(segments))
	return nil
}

// Remove deletes a document end to end: its index namespace, its row (and
// with it, by cascade, its messages), and its stored bytes. The index goes
// first so a row that outlives a failed namespace delete can still be
// retried; a failed blob delete only leaks bytes and is logged, not raised.
func (o *Orchestrator) Remove(ctx context.Context, fileID uuid.UUID, ownerID string) error {
	file, err := o.files.GetFileForOwner(ctx, fileID, ownerID)
	if err != nil {
		return err
	}

	if err := o.index.DeleteNamespace(ctx, file.ID); err != nil {
		return fmt.Errorf("%w: delete namespace: %v", apperr.ErrUpstream, err)
	}

	key, err := o.files.DeleteFile(ctx, file.ID, ownerID)
	if err != nil {
		return err
	}

	if err := o.blobs.Delete(ctx, o.bucket, key); err != nil {
		slog.Warn("failed to delete blob", "key", key, "error", err)
	}

	slog.Info("document removed", "file_id", file.ID, "key", key)
	return nil
}

func (o *Orchestrator) extractSegments(ctx context.Context, file *models.File, contentType string) ([]extract.Segment, error) {
	reader, err := o.blobs.Download(ctx, o.bucket, file.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: download: %v", apperr.ErrUpstream, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}

	if contentType == "" {
		contentType = contentTypeFromName(file.Name)
	}
	return o.extractor.Extract(ctx, bytes.NewReader(data), int64(len(data)), contentType)
}

func contentTypeFromName(name string) string {
	if n := len(name); n > 4 && name[n-4:] == ".txt" {
		return "text/plain"
	}
	return "application/pdf"
}

// fail drives the file to FAILED with the reason retained, logs, and
// swallows the pipeline error: ingestion is asynchronous and outcomes are
// observed through status polling.
func (o *Orchestrator) fail(ctx context.Context, file *models.File, cause error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	slog.Error("ingestion failed", "file_id", file.ID, "key", file.Key, "error", cause)

	if err := o.files.UpdateFileStatus(ctx, file.ID, models.UploadStatusFailed, cause.Error()); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}
