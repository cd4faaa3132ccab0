package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/leetsync/internal/database"
	"github.com/hitoshi/leetsync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	JWT               middleware.JWTConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// ヘルスチェック・メトリクス
	DB             database.Pinger
	MetricsHandler http.Handler

	// 追跡ユーザーと手動同期
	TrackedUsers TrackedUserServiceInterface
	Syncer       UserSyncer

	// 解答
	Solutions SolutionServiceInterface

	// 手動バッチ
	Batch      BatchRunner
	Production bool
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → JWTAuth → RateLimit(General)
//
// /health と /metrics は認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))

	trackedHandler := NewTrackedUserHandler(deps.TrackedUsers, deps.Syncer)
	solutionHandler := NewSolutionHandler(deps.Solutions, deps.TrackedUsers)
	adminHandler := NewAdminHandler(deps.Batch, deps.Production)

	// --- 認証不要のルート ---
	r.Get("/health", HealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewJWTAuthMiddleware(deps.JWT))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/tracked-users", func(r chi.Router) {
			r.Get("/", trackedHandler.List)
			r.Post("/", trackedHandler.Add)

			r.Route("/{username}", func(r chi.Router) {
				r.Delete("/", trackedHandler.Remove)
				r.Put("/session", trackedHandler.UpdateSession)
				// 上流へのアクセスを伴うため手動同期専用のレート制限を追加
				r.With(deps.RateLimiter.SyncMiddleware()).Post("/sync", trackedHandler.Sync)
			})
		})

		r.Route("/api/solutions", func(r chi.Router) {
			r.Get("/", solutionHandler.List)
			r.Get("/{submissionId}", solutionHandler.Get)
		})

		r.With(deps.RateLimiter.SyncMiddleware()).Post("/api/admin/sync/run", adminHandler.RunSync)
	})

	return r
}
