package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"

	"github.com/hitoshi/inkpost/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger
	Pages  *Pages

	// ミドルウェア依存
	SessionManager   *middleware.SessionManager
	IdentityResolver middleware.IdentityResolver
	RateLimiter      *middleware.RateLimiter
	MaxBodyBytes     int64
	CookieSecure     bool
	CookieDomain     string

	// サービス
	AuthService AuthServiceInterface
	PostService PostServiceInterface
	UserService UserServiceInterface

	// RSS
	FeedService LatestPostLister
	FeedConfig  FeedConfig

	// 運用
	HealthChecks      map[string]HealthChecker
	MetricsMiddleware func(next http.Handler) http.Handler // nilの場合は計測しない
	MetricsHandler    http.Handler                         // nilの場合は/metricsを公開しない
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → RequestID → Logging → Recovery → SecurityHeaders → Metrics
//	→ Gzip → BodyLimit → Session → CSRF
//
// ログイン・登録にはログイン用、記事の作成・更新・削除には書き込み用のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	// APIとヘルスチェックはミドルウェアのエラーもJSONで返す
	render := middleware.PathRenderer(deps.Pages.RenderAPIError, "/api", "/health")

	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(render))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.MetricsMiddleware != nil {
		r.Use(deps.MetricsMiddleware)
	}
	r.Use(func(h http.Handler) http.Handler { return gzhttp.GzipHandler(h) })
	r.Use(middleware.NewBodyLimitMiddleware(deps.MaxBodyBytes, render))
	r.Use(middleware.NewSessionMiddleware(deps.SessionManager, deps.IdentityResolver))
	r.Use(middleware.NewCSRFMiddleware(middleware.CSRFConfig{
		CookieSecure:  deps.CookieSecure,
		CookieDomain:  deps.CookieDomain,
		ErrorRenderer: render,
	}))

	r.NotFound(deps.Pages.NotFound)
	r.MethodNotAllowed(deps.Pages.MethodNotAllowed)

	postHandler := NewPostHandler(deps.PostService, deps.Pages)
	authHandler := NewAuthHandler(deps.AuthService, deps.SessionManager, deps.Pages)
	userHandler := NewUserHandler(deps.UserService)
	feedHandler := NewFeedHandler(deps.FeedService, deps.FeedConfig)
	healthHandler := NewHealthHandler(deps.HealthChecks)

	// --- 公開ルート ---
	r.Get("/", postHandler.Index)
	r.Get("/feed.xml", feedHandler.RSS)
	r.Get("/health", healthHandler.Health)
	r.Get("/api/user/me", userHandler.Me)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証ルート ---
	r.Route("/auth", func(r chi.Router) {
		r.Post("/logout", authHandler.Logout)

		// ログイン済みの場合はトップへリダイレクト
		r.Group(func(r chi.Router) {
			r.Use(middleware.RedirectIfAuthenticated)
			r.Use(deps.RateLimiter.LoginMiddleware())

			r.Get("/login", authHandler.LoginPage)
			r.Post("/login", authHandler.Login)
			r.Get("/register", authHandler.RegisterPage)
			r.Post("/register", authHandler.Register)
		})
	})

	// --- 記事 ---
	r.Route("/posts", func(r chi.Router) {
		// /posts/{slug} より先に登録する
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Use(deps.RateLimiter.WriteMiddleware())

			r.Get("/create/new", postHandler.New)
			r.Post("/create/new", postHandler.Create)
			r.Get("/{slug}/edit", postHandler.Edit)
			r.Post("/{slug}/edit", postHandler.Update)
			r.Post("/{slug}/delete", postHandler.Delete)
		})

		r.Get("/{slug}", postHandler.Show)
	})

	return r
}
