package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/luminachat/lumina/internal/api/handlers"
	"github.com/luminachat/lumina/internal/api/middleware"
	"github.com/luminachat/lumina/internal/auth"
	"github.com/luminachat/lumina/internal/cache"
	"github.com/luminachat/lumina/internal/chat"
	"github.com/luminachat/lumina/internal/config"
	"github.com/luminachat/lumina/internal/embedding"
	"github.com/luminachat/lumina/internal/extract"
	"github.com/luminachat/lumina/internal/ingest"
	"github.com/luminachat/lumina/internal/llm"
	"github.com/luminachat/lumina/internal/queue"
	"github.com/luminachat/lumina/internal/storage"
	"github.com/luminachat/lumina/internal/store"
	"github.com/luminachat/lumina/internal/vectorstore"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
	jwt   *auth.JWTMiddleware
	llmGW llm.Gateway
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
		jwt:   auth.NewJWTMiddleware(cfg.Auth.JWTSecret),
		llmGW: llm.NewGateway(cfg.LLM),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.AllowedOrigins))

	// Initialize services
	st := store.New(rt.db)
	blobs := storage.NewHTTPStorage(rt.cfg.Storage.BaseURL, rt.cfg.Storage.ServiceKey)
	queueClient := queue.NewClient(rt.cfg.Redis)
	locks := cache.NewCache(rt.redis)

	idx := vectorstore.NewPgVectorIndex(rt.db)
	embedSvc := embedding.NewService(rt.llmGW, rt.cfg.LLM.EmbeddingModel)

	orchestrator := ingest.NewOrchestrator(st, blobs, rt.cfg.Storage.Bucket, extract.New(), embedSvc, idx, locks)
	chatPipeline := chat.NewPipeline(st, embedSvc, idx, rt.llmGW, rt.cfg.LLM.ChatModel)

	filesH := handlers.NewFilesHandler(st, orchestrator, queueClient, blobs, rt.cfg.Storage.Bucket, rt.cfg.Upload.MaxBytes)
	chatH := handlers.NewChatHandler(chatPipeline)

	// Health endpoints (no auth): everything the two pipelines depend on.
	health := handlers.NewHealthHandler()
	health.AddCheck("database", func(ctx context.Context) error { return rt.db.Ping(ctx) })
	health.AddCheck("redis", func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() })
	health.AddCheck("storage", blobs.Healthy)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// One bucket per authenticated owner, so throttling runs after auth.
	rl := middleware.NewRateLimiter(100, 200, func(r *http.Request) string {
		return auth.OwnerFromContext(r.Context())
	})

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)
		r.Use(rl.Limit)

		r.Route("/files", func(r chi.Router) {
			r.Post("/", filesH.Upload)
			r.Post("/webhook", filesH.Webhook)
			r.Get("/", filesH.List)
			r.Get("/key/{key}", filesH.GetByKey)
			r.Get("/{id}", filesH.Get)
			r.Delete("/{id}", filesH.Delete)
			r.Get("/{id}/status", filesH.Status)

			r.Post("/{id}/messages", chatH.Send)
			r.Get("/{id}/messages", chatH.History)
		})
	})

	return r
}
