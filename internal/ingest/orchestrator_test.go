package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/luminachat/lumina/internal/apperr"
	"github.com/luminachat/lumina/internal/extract"
	"github.com/luminachat/lumina/internal/models"
	"github.com/luminachat/lumina/internal/plan"
	"github.com/luminachat/lumina/internal/store"
	"github.com/luminachat/lumina/internal/vectorstore"
	"github.com/stretchr/testify/require"
)

type fakeFileStore struct {
	mu    sync.Mutex
	files map[uuid.UUID]*models.File
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{files: make(map[uuid.UUID]*models.File)}
}

func (s *fakeFileStore) CreateFileIfAbsent(_ context.Context, p store.CreateFileParams) (*models.File, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if f.Key == p.Key {
			cp := *f
			return &cp, false, nil
		}
	}
	f := &models.File{
		ID:           uuid.New(),
		Key:          p.Key,
		Name:         p.Name,
		OwnerID:      p.OwnerID,
		URL:          p.URL,
		UploadStatus: p.Status,
		CreateTime:   time.Now(),
	}
	s.files[f.ID] = f
	cp := *f
	return &cp, true, nil
}

func (s *fakeFileStore) GetFile(_ context.Context, id uuid.UUID) (*models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file: %w", apperr.ErrNotFound)
	}
	cp := *f
	return &cp, nil
}

func (s *fakeFileStore) GetFileForOwner(_ context.Context, id uuid.UUID, ownerID string) (*models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || f.OwnerID != ownerID {
		return nil, fmt.Errorf("file: %w", apperr.ErrNotFound)
	}
	cp := *f
	return &cp, nil
}

func (s *fakeFileStore) DeleteFile(_ context.Context, id uuid.UUID, ownerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || f.OwnerID != ownerID {
		return "", fmt.Errorf("file: %w", apperr.ErrNotFound)
	}
	delete(s.files, id)
	return f.Key, nil
}

func (s *fakeFileStore) CountFilesByOwner(_ context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.files {
		if f.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (s *fakeFileStore) UpdateFileStatus(_ context.Context, id uuid.UUID, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return fmt.Errorf("file: %w", apperr.ErrNotFound)
	}
	if models.Terminal(f.UploadStatus) {
		return nil
	}
	f.UploadStatus = status
	f.FailureReason = reason
	return nil
}

type fakeBlobStore struct {
	blobs     map[string][]byte
	err       error
	deleteErr error
}

func (b *fakeBlobStore) Download(_ context.Context, _, key string) (io.ReadCloser, error) {
	if b.err != nil {
		return nil, b.err
	}
	data, ok := b.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBlobStore) Delete(_ context.Context, _, key string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.blobs, key)
	return nil
}

type fakeExtractor struct {
	segments []extract.Segment
	err      error
}

func (e *fakeExtractor) Extract(context.Context, io.ReaderAt, int64, string) ([]extract.Segment, error) {
	return e.segments, e.err
}

func (e *fakeExtractor) Supports(string) bool { return true }

type fakeEmbedder struct {
	err   error
	calls int
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

type fakeIndex struct {
	mu         sync.Mutex
	namespaces map[uuid.UUID][]vectorstore.SegmentVector
	upsertErr  error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{namespaces: make(map[uuid.UUID][]vectorstore.SegmentVector)}
}

func (i *fakeIndex) Upsert(_ context.Context, ns uuid.UUID, segs []vectorstore.SegmentVector) error {
	if i.upsertErr != nil {
		return i.upsertErr
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.namespaces[ns] = segs
	return nil
}

func (i *fakeIndex) Query(_ context.Context, ns uuid.UUID, _ []float32, k int) ([]vectorstore.ScoredSegment, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []vectorstore.ScoredSegment
	for _, s := range i.namespaces[ns] {
		if len(out) == k {
			break
		}
		out = append(out, vectorstore.ScoredSegment{Page: s.Page, Content: s.Content, Score: 0.9})
	}
	return out, nil
}

func (i *fakeIndex) DeleteNamespace(_ context.Context, ns uuid.UUID) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.namespaces, ns)
	return nil
}

type fakeLocker struct {
	mu    sync.Mutex
	held  map[string]bool
	deny  bool
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: make(map[string]bool)} }

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny || l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

func segmentsOf(n int) []extract.Segment {
	segs := make([]extract.Segment, n)
	for i := range segs {
		segs[i] = extract.Segment{Page: i + 1, Text: fmt.Sprintf("page %d text", i+1)}
	}
	return segs
}

type harness struct {
	files     *fakeFileStore
	blobs     *fakeBlobStore
	extractor *fakeExtractor
	embedder  *fakeEmbedder
	index     *fakeIndex
	orch      *Orchestrator
}

func newHarness(segments []extract.Segment) *harness {
	h := &harness{
		files:     newFakeFileStore(),
		blobs:     &fakeBlobStore{blobs: map[string][]byte{"key-1": []byte("raw pdf bytes")}},
		extractor: &fakeExtractor{segments: segments},
		embedder:  &fakeEmbedder{},
		index:     newFakeIndex(),
	}
	h.orch = NewOrchestrator(h.files, h.blobs, "documents", h.extractor, h.embedder, h.index, newFakeLocker())
	return h
}

func registerReq() RegisterRequest {
	return RegisterRequest{
		Key:     "key-1",
		Name:    "report.pdf",
		OwnerID: "owner-1",
		URL:     "https://blobs.example/key-1",
		Plan:    plan.BySlug("free"),
	}
}

func TestIngestSuccess(t *testing.T) {
	h := newHarness(segmentsOf(3))
	ctx := context.Background()

	f, created, err := h.orch.Register(ctx, registerReq())
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, models.UploadStatusProcessing, f.UploadStatus)

	require.NoError(t, h.orch.Process(ctx, f.ID, "application/pdf", plan.BySlug("free")))

	got, err := h.files.GetFile(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, models.UploadStatusSuccess, got.UploadStatus)
	require.Empty(t, got.FailureReason)
	require.Len(t, h.index.namespaces[f.ID], 3)
}

func TestIngestIdempotentOnKey(t *testing.T) {
	h := newHarness(segmentsOf(3))
	ctx := context.Background()

	f1, created, err := h.orch.Register(ctx, registerReq())
	require.NoError(t, err)
	require.True(t, created)

	f2, created, err := h.orch.Register(ctx, registerReq())
	require.NoError(t, err)
	require.False(t, created, "second registration with same key must be a no-op")
	require.Equal(t, f1.ID, f2.ID)

	count, err := h.files.CountFilesByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// Processing the same file twice indexes exactly one set of segments.
	require.NoError(t, h.orch.Process(ctx, f1.ID, "application/pdf", plan.BySlug("free")))
	require.NoError(t, h.orch.Process(ctx, f1.ID, "application/pdf", plan.BySlug("free")))
	require.Equal(t, 1, h.embedder.calls, "terminal file must not be re-embedded")
	require.Len(t, h.index.namespaces[f1.ID], 3)
}

func TestIngestQuotaExceeded(t *testing.T) {
	h := newHarness(segmentsOf(150))
	ctx := context.Background()

	f, _, err := h.orch.Register(ctx, registerReq())
	require.NoError(t, err)

	require.NoError(t, h.orch.Process(ctx, f.ID, "application/pdf", plan.BySlug("free")))

	got, err := h.files.GetFile(ctx, f.ID)
	require.NoError(t, err)
	require.Equal(t, models.UploadStatusFailed, got.UploadStatus)
	require.Contains(t, got.FailureReason, "quota exceeded")
	require.Zero(t, h.embedder.calls, "no embedding work after quota denial")
	require.Empty(t, h.index.namespaces[f.ID])
}

func TestIngestQuotaBoundary(t *testing.T) {
	free := plan.BySlug("free")

	t.Run("exactly at limit succeeds", func(t *testing.T) {
		h := newHarness(segmentsOf(free.PagesPerPDF))
		f, _, err := h.orch.Register(context.Background(), registerReq())
		require.NoError(t, err)
		require.NoError(t, h.orch.Process(context.Background(), f.ID, "application/pdf", free))

		got, _ := h.files.GetFile(context.Background(), f.ID)
		require.Equal(t, models.UploadStatusSuccess, got.UploadStatus)
	})

	t.Run("one over limit fails", func(t *testing.T) {
		h := newHarness(segmentsOf(free.PagesPerPDF + 1))
		f, _, err := h.orch.Register(context.Background(), registerReq())
		require.NoError(t, err)
		require.NoError(t, h.orch.Process(context.Background(), f.ID, "application/pdf", free))

		got, _ := h.files.GetFile(context.Background(), f.ID)
		require.Equal(t, models.UploadStatusFailed, got.UploadStatus)
	})
}

func TestIngestExtractionFailure(t *testing.T) {
	h := newHarness(nil)
	h.extractor.err = errors.New("corrupt document")
	ctx := context.Background()

	f, _, err := h.orch.Register(ctx, registerReq())
	require.NoError(t, err)

	require.NoError(t, h.orch.Process(ctx, f.ID, "application/pdf", plan.BySlug("free")))

	got, _ := h.files.GetFile(ctx, f.ID)
	require.Equal(t, models.UploadStatusFailed, got.UploadStatus)
	require.Contains(t, got.FailureReason, "corrupt document")
}

func TestIngestEmbeddingFailure(t *testing.T) {
	h := newHarness(segmentsOf(3))
	h.embedder.err = errors.New("embedding provider down")
	ctx := context.Background()

	f, _, err := h.orch.Register(ctx, registerReq())
	require.NoError(t, err)

	require.NoError(t, h.orch.Process(ctx, f.ID, "application/pdf", plan.BySlug("free")))

	got, _ := h.files.GetFile(ctx, f.ID)
	require.Equal(t, models.UploadStatusFailed, got.UploadStatus)
	require.Contains(t, got.FailureReason, "upstream service failure")
	require.Empty(t, h.index.namespaces[f.ID])
}

func TestIngestIndexFailure(t *testing.T) {
	h := newHarness(segmentsOf(3))
	h.index.upsertErr = errors.New("index unavailable")
	ctx := context.Background()

	f, _, err := h.orch.Register(ctx, registerReq())
	require.NoError(t, err)

	require.NoError(t, h.orch.Process(ctx, f.ID, "application/pdf", plan.BySlug("free")))

	got, _ := h.files.GetFile(ctx, f.ID)
	require.Equal(t, models.UploadStatusFailed, got.UploadStatus)
}

func TestRegisterFileCountQuota(t *testing.T) {
	h := newHarness(segmentsOf(1))
	ctx := context.Background()
	free := plan.BySlug("free")

	for i := 0; i < free.Quota; i++ {
		req := registerReq()
		req.Key = fmt.Sprintf("key-%d", i)
		_, _, err := h.orch.Register(ctx, req)
		require.NoError(t, err)
	}

	req := registerReq()
	req.Key = "one-too-many"
	_, _, err := h.orch.Register(ctx, req)
	require.ErrorIs(t, err, apperr.ErrQuotaExceeded)
}

func TestRemoveFile(t *testing.T) {
	h := newHarness(segmentsOf(3))
	ctx := context.Background()

	f, _, err := h.orch.Register(ctx, registerReq())
	require.NoError(t, err)
	require.NoError(t, h.orch.Process(ctx, f.ID, "application/pdf", plan.BySlug("free")))
	require.Len(t, h.index.namespaces[f.ID], 3)

	require.NoError(t, h.orch.Remove(ctx, f.ID, "owner-1"))

	results, err := h.index.Query(ctx, f.ID, []float32{0, 1}, 4)
	require.NoError(t, err)
	require.Empty(t, results, "namespace must be empty after removal, not stale")

	_, err = h.files.GetFileForOwner(ctx, f.ID, "owner-1")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.NotContains(t, h.blobs.blobs, "key-1", "stored bytes removed with the file")
}

func TestRemoveFileWrongOwner(t *testing.T) {
	h := newHarness(segmentsOf(3))
	ctx := context.Background()

	f, _, err := h.orch.Register(ctx, registerReq())
	require.NoError(t, err)
	require.NoError(t, h.orch.Process(ctx, f.ID, "application/pdf", plan.BySlug("free")))

	require.ErrorIs(t, h.orch.Remove(ctx, f.ID, "owner-2"), apperr.ErrNotFound)

	// nothing was touched
	require.Len(t, h.index.namespaces[f.ID], 3)
	_, err = h.files.GetFileForOwner(ctx, f.ID, "owner-1")
	require.NoError(t, err)
	require.Contains(t, h.blobs.blobs, "key-1")
}

func TestRemoveFileBlobFailureIsBestEffort(t *testing.T) {
	h := newHarness(segmentsOf(3))
	h.blobs.deleteErr = errors.New("storage down")
	ctx := context.Background()

	f, _, err := h.orch.Register(ctx, registerReq())
	require.NoError(t, err)
	require.NoError(t, h.orch.Process(ctx, f.ID, "application/pdf", plan.BySlug("free")))

	require.NoError(t, h.orch.Remove(ctx, f.ID, "owner-1"),
		"a leaked blob must not fail the removal")

	results, err := h.index.Query(ctx, f.ID, []float32{0, 1}, 4)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestProcessSkipsWhenLockHeld(t *testing.T) {
	h := newHarness(segmentsOf(3))
	locker := newFakeLocker()
	h.orch = NewOrchestrator(h.files, h.blobs, "documents", h.extractor, h.embedder, h.index, locker)
	ctx := context.Background()

	f, _, err := h.orch.Register(ctx, registerReq())
	require.NoError(t, err)

	locker.held["key-1"] = true
	require.NoError(t, h.orch.Process(ctx, f.ID, "application/pdf", plan.BySlug("free")))
	require.Zero(t, h.embedder.calls, "must not duplicate embedding cost while lock is held")

	got, _ := h.files.GetFile(ctx, f.ID)
	require.Equal(t, models.UploadStatusProcessing, got.UploadStatus)
}
