package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/luminachat/lumina/internal/ingest"
	"github.com/luminachat/lumina/internal/plan"
	"github.com/luminachat/lumina/internal/queue"
)

type IngestWorker struct {
	orchestrator *ingest.Orchestrator
}

func NewIngestWorker(o *ingest.Orchestrator) *IngestWorker {
	return &IngestWorker{orchestrator: o}
}

func (w *IngestWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.IngestProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	fileID, err := uuid.Parse(payload.FileID)
	if err != nil {
		return fmt.Errorf("parse file ID: %w", err)
	}

	slog.Info("processing document", "file_id", fileID)

	if err := w.orchestrator.Process(ctx, fileID, payload.ContentType, plan.BySlug(payload.Plan)); err != nil {
		return fmt.Errorf("process %s: %w", fileID, err)
	}

	slog.Info("document processed", "file_id", fileID)
	return nil
}
