package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/hirescout/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Controllers        middleware.ControllerSource
	BrowserSession     middleware.BrowserSessionConfig
	CSRF               middleware.CSRFConfig
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	HSTS               bool
	HTTPRecorder       middleware.HTTPRecorder

	// 運用
	HealthCheckers map[string]HealthChecker
	MetricsHandler http.Handler

	// プロフィール
	ProfileValidator ProfileNormalizer
	LinkChecker      LinkChecker

	// お問い合わせ
	ContactService ContactService
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging
//	  /api/*: RateLimit(General) → BrowserSession → CSRF
//
// /health、/metrics、/api/csrf-tokenはブラウザセッションを必要としない。
// Cookieを持たないリクエストのコントローラはサインイン・サインアップ時にだけ生成される。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins...))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPRecorder))

	authHandler := NewAuthHandler()
	profileHandler := NewProfileHandler(deps.ProfileValidator, deps.LinkChecker)
	adminHandler := NewAdminHandler(logger)
	contactHandler := NewContactHandler(deps.ContactService)

	// --- ブラウザセッション不要のルート ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthCheckers))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	// --- ブラウザセッションに紐づくルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewBrowserSessionMiddleware(deps.Controllers, deps.BrowserSession))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/api/session", authHandler.Session)

		// 認証（認証専用レート制限を追加）
		r.Route("/api/auth", func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/signin", authHandler.SignIn)
			r.Post("/signup", authHandler.SignUp)
			r.Post("/signout", authHandler.SignOut)
		})

		// プロフィール
		r.Route("/api/profile", func(r chi.Router) {
			r.Patch("/", profileHandler.UpdateProfile)
			r.Post("/onboarding", profileHandler.CompleteOnboarding)
		})

		// 管理画面
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/users", adminHandler.ListUsers)
			r.Get("/usage", adminHandler.ListUsage)
			r.Get("/stats", adminHandler.Stats)
			r.Post("/admins", adminHandler.CreateAdmin)
			r.Put("/users/{id}/prep-count", adminHandler.SetPrepCount)
		})

		r.Post("/api/contact", contactHandler.Submit)
	})

	return r
}
