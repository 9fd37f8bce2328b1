package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/luminachat/lumina/internal/cache"
	"github.com/luminachat/lumina/internal/config"
	"github.com/luminachat/lumina/internal/database"
	"github.com/luminachat/lumina/internal/embedding"
	"github.com/luminachat/lumina/internal/extract"
	"github.com/luminachat/lumina/internal/ingest"
	"github.com/luminachat/lumina/internal/llm"
	"github.com/luminachat/lumina/internal/queue"
	"github.com/luminachat/lumina/internal/queue/workers"
	"github.com/luminachat/lumina/internal/storage"
	"github.com/luminachat/lumina/internal/store"
	"github.com/luminachat/lumina/internal/vectorstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.VerifyVectorExtension(ctx, db); err != nil {
		slog.Error("vector extension check failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	st := store.New(db)
	blobs := storage.NewHTTPStorage(cfg.Storage.BaseURL, cfg.Storage.ServiceKey)
	gw := llm.NewGateway(cfg.LLM)
	embedSvc := embedding.NewService(gw, cfg.LLM.EmbeddingModel)
	idx := vectorstore.NewPgVectorIndex(db)
	locks := cache.NewCache(rdb)

	orchestrator := ingest.NewOrchestrator(st, blobs, cfg.Storage.Bucket, extract.New(), embedSvc, idx, locks)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
		},
	)

	registry := queue.NewHandlersRegistry()
	ingestWorker := workers.NewIngestWorker(orchestrator)
	registry.Register(queue.TypeIngestProcess, asynq.HandlerFunc(ingestWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", 10)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
