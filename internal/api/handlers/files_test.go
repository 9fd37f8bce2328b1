package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/luminachat/lumina/internal/apperr"
	"github.com/luminachat/lumina/internal/auth"
	"github.com/luminachat/lumina/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeFileStore struct {
	file   *models.File
	getErr error
}

func (s *fakeFileStore) GetFileForOwner(_ context.Context, id uuid.UUID, ownerID string) (*models.File, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.file == nil || s.file.ID != id || s.file.OwnerID != ownerID {
		return nil, fmt.Errorf("file: %w", apperr.ErrNotFound)
	}
	return s.file, nil
}

func (s *fakeFileStore) GetFileByKeyForOwner(_ context.Context, key, ownerID string) (*models.File, error) {
	if s.file == nil || s.file.Key != key || s.file.OwnerID != ownerID {
		return nil, fmt.Errorf("file: %w", apperr.ErrNotFound)
	}
	return s.file, nil
}

func (s *fakeFileStore) ListFilesByOwner(context.Context, string) ([]models.File, error) {
	if s.file == nil {
		return nil, nil
	}
	return []models.File{*s.file}, nil
}

func (s *fakeFileStore) UpdateFileStatus(context.Context, uuid.UUID, string, string) error {
	return nil
}

func statusRequest(t *testing.T, h *FilesHandler, fileID, ownerID string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/"+fileID+"/status", nil)

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", fileID)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = auth.WithOwner(ctx, ownerID, "free")

	h.Status(rec, req.WithContext(ctx))
	return rec
}

func TestStatusKnownFile(t *testing.T) {
	file := &models.File{ID: uuid.New(), Key: "k", OwnerID: "owner-1", UploadStatus: models.UploadStatusSuccess}
	h := &FilesHandler{store: &fakeFileStore{file: file}}

	rec := statusRequest(t, h, file.ID.String(), "owner-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, models.UploadStatusSuccess, body["status"])
	require.Equal(t, file.ID.String(), body["id"])
}

func TestStatusUnknownFileReadsPending(t *testing.T) {
	h := &FilesHandler{store: &fakeFileStore{}}

	rec := statusRequest(t, h, uuid.NewString(), "owner-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, models.UploadStatusPending, body["status"])
}

func TestStatusDatabaseErrorIsNotPending(t *testing.T) {
	h := &FilesHandler{store: &fakeFileStore{getErr: errors.New("connection refused")}}

	rec := statusRequest(t, h, uuid.NewString(), "owner-1")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEqual(t, models.UploadStatusPending, body["status"],
		"an outage must not read as a file forever pending")
}

func TestStatusInvalidID(t *testing.T) {
	h := &FilesHandler{store: &fakeFileStore{}}

	rec := statusRequest(t, h, "not-a-uuid", "owner-1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"path traversal", "../../etc/passwd", "passwd"},
		{"nested path", "a/b/report.pdf", "report.pdf"},
		{"windows path", `C:\docs\report.pdf`, "report.pdf"},
		{"spaces and parens", "final report (v2).pdf", "final_report__v2_.pdf"},
		{"dot only", "..", "document"},
		{"empty", "", "document"},
		{"leading dots stripped", "...hidden.pdf", "hidden.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, sanitizeFilename(tt.in))
		})
	}
}
