package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/siteforge/collab/internal/middleware"
)

// HealthChecker はヘルスチェックのDB疎通確認インターフェース。*sql.DBが実装する。
type HealthChecker interface {
	Ping() error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ヘルスチェック
	HealthChecker HealthChecker

	// ミドルウェア依存
	UserFinder        middleware.UserFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// プロジェクト
	ProjectStore ProjectStore

	// セッション
	SessionRegistry SessionRegistryInterface

	// WebSocketエンドポイント
	WSHandler http.Handler

	// Prometheusスクレイプエンドポイント
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → CORS → SecurityHeaders → IdentityMiddleware → RateLimit(General)
//
// /health と /metrics はミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	projectHandler := NewProjectHandler(deps.ProjectStore)
	sessionHandler := NewSessionHandler(deps.SessionRegistry)

	// --- 認証不要のルート ---

	r.Get("/health", newHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Identity → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.UserFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// WebSocket接続（接続確立＝参加試行に参加専用レート制限を追加）
		r.With(deps.RateLimiter.JoinMiddleware()).Get("/ws", deps.WSHandler.ServeHTTP)

		// プロジェクト管理
		r.Route("/api/projects", func(r chi.Router) {
			r.Post("/", projectHandler.CreateProject)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", projectHandler.GetProject)
				r.Put("/collaborators", projectHandler.UpdateCollaborators)

				// GET /api/projects/{id}/session - プロジェクトのアクティブセッション
				r.Get("/session", sessionHandler.GetSessionByProject)
			})
		})

		// セッション照会・操作
		r.Route("/api/sessions/{id}", func(r chi.Router) {
			r.Get("/", sessionHandler.GetSession)
			r.Put("/lock", sessionHandler.SetLock)
		})
	})

	return r
}

// newHealthHandler はロードバランサー向けのヘルスチェックハンドラーを返す。
// checkerが指定されている場合はDB疎通も確認する。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if checker != nil {
			if err := checker.Ping(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
				return
			}
		}

		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
