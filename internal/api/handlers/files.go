package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/luminachat/lumina/internal/apperr"
	"github.com/luminachat/lumina/internal/auth"
	"github.com/luminachat/lumina/internal/ingest"
	"github.com/luminachat/lumina/internal/models"
	"github.com/luminachat/lumina/internal/plan"
	"github.com/luminachat/lumina/internal/queue"
	"github.com/luminachat/lumina/internal/storage"
)

// FileStore is the slice of the document store the file endpoints read from.
type FileStore interface {
	GetFileForOwner(ctx context.Context, id uuid.UUID, ownerID string) (*models.File, error)
	GetFileByKeyForOwner(ctx context.Context, key, ownerID string) (*models.File, error)
	ListFilesByOwner(ctx context.Context, ownerID string) ([]models.File, error)
	UpdateFileStatus(ctx context.Context, id uuid.UUID, status, failureReason string) error
}

// IngestEnqueuer schedules background ingestion runs.
type IngestEnqueuer interface {
	EnqueueIngestProcess(payload queue.IngestProcessPayload) error
}

type FilesHandler struct {
	store        FileStore
	orchestrator *ingest.Orchestrator
	queueClient  IngestEnqueuer
	blobs        storage.Storage
	bucket       string
	maxBytes     int64
}

func NewFilesHandler(st FileStore, orch *ingest.Orchestrator, qc IngestEnqueuer, blobs storage.Storage, bucket string, maxBytes int64) *FilesHandler {
	return &FilesHandler{
		store:        st,
		orchestrator: orch,
		queueClient:  qc,
		blobs:        blobs,
		bucket:       bucket,
		maxBytes:     maxBytes,
	}
}

// Upload accepts a document, stores the bytes, registers the File and
// enqueues ingestion. The response carries the id for status polling;
// ingestion outcomes are never raised here.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form or file too large"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file required"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType != "application/pdf" && contentType != "text/plain" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported content type"})
		return
	}
	if header.Size > h.maxBytes {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file too large"})
		return
	}

	name := sanitizeFilename(header.Filename)
	key := fmt.Sprintf("%s-%d-%s", ownerID, time.Now().UnixNano(), name)

	if err := h.blobs.Upload(r.Context(), h.bucket, key, file, contentType); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "store document: " + err.Error()})
		return
	}

	h.register(w, r, ingest.RegisterRequest{
		Key:     key,
		Name:    name,
		OwnerID: ownerID,
		URL:     h.blobs.PublicURL(h.bucket, key),
		Plan:    plan.BySlug(auth.PlanFromContext(r.Context())),
	}, contentType)
}

// sanitizeFilename strips any path the client sent and reduces the name to
// characters safe to interpolate into a storage key and its URL path.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, name)

	name = strings.Trim(name, "._")
	if name == "" {
		return "document"
	}
	return name
}

type webhookRequest struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

// Webhook handles the stored-out-of-band notification path: the bytes are
// already in the object store, only registration and ingestion remain. A
// retried delivery with a known key is a no-op.
func (h *FilesHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Key == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key and name required"})
		return
	}

	url := req.URL
	if url == "" {
		url = h.blobs.PublicURL(h.bucket, req.Key)
	}

	h.register(w, r, ingest.RegisterRequest{
		Key:     req.Key,
		Name:    req.Name,
		OwnerID: auth.OwnerFromContext(r.Context()),
		URL:     url,
		Plan:    plan.BySlug(auth.PlanFromContext(r.Context())),
	}, req.ContentType)
}

func (h *FilesHandler) register(w http.ResponseWriter, r *http.Request, req ingest.RegisterRequest, contentType string) {
	f, created, err := h.orchestrator.Register(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	if created {
		if err := h.queueClient.EnqueueIngestProcess(queue.IngestProcessPayload{
			FileID:      f.ID.String(),
			ContentType: contentType,
			Plan:        req.Plan.Slug,
		}); err != nil {
			// The row exists in PROCESSING; without the task it would poll
			// forever, so mark it failed.
			slog.Error("failed to enqueue ingestion", "file_id", f.ID, "error", err)
			h.store.UpdateFileStatus(r.Context(), f.ID, models.UploadStatusFailed, "enqueue ingestion: "+err.Error())
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to schedule ingestion"})
			return
		}
		writeJSON(w, http.StatusAccepted, f)
		return
	}

	writeJSON(w, http.StatusOK, f)
}

func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.store.ListFilesByOwner(r.Context(), auth.OwnerFromContext(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files, "count": len(files)})
}

func (h *FilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid file ID"})
		return
	}

	f, err := h.store.GetFileForOwner(r.Context(), id, auth.OwnerFromContext(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// GetByKey resolves a file by its storage key, used by clients right after
// an upload completes.
func (h *FilesHandler) GetByKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	f, err := h.store.GetFileByKeyForOwner(r.Context(), key, auth.OwnerFromContext(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Status reports the ingestion state for polling. An unknown id reads as
// PENDING: the upload callback may still be in flight. Any other failure is
// a real error, not a file forever pending.
func (h *FilesHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid file ID"})
		return
	}

	f, err := h.store.GetFileForOwner(r.Context(), id, auth.OwnerFromContext(r.Context()))
	if errors.Is(err, apperr.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{"status": models.UploadStatusPending})
		return
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": f.ID.String(), "status": f.UploadStatus})
}

// Delete removes the file, its messages, its index namespace and its blob.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid file ID"})
		return
	}

	if err := h.orchestrator.Remove(r.Context(), id, auth.OwnerFromContext(r.Context())); err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
