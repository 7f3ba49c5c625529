package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/inkpost/internal/auth"
	"github.com/hitoshi/inkpost/internal/config"
	"github.com/hitoshi/inkpost/internal/database"
	"github.com/hitoshi/inkpost/internal/handler"
	"github.com/hitoshi/inkpost/internal/logger"
	"github.com/hitoshi/inkpost/internal/markdown"
	"github.com/hitoshi/inkpost/internal/metrics"
	"github.com/hitoshi/inkpost/internal/middleware"
	"github.com/hitoshi/inkpost/internal/post"
	"github.com/hitoshi/inkpost/internal/security"
	"github.com/hitoshi/inkpost/internal/upstream"
	"github.com/hitoshi/inkpost/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンで処理中のリクエストを待つ上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルを反映する
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("record_backend", cfg.RecordBackend),
		slog.String("session_backend", cfg.SessionBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// newRegistry はGoランタイムとプロセスのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newUpstreamClient は外部サービスの共通クライアントを生成する。
func newUpstreamClient(cfg *config.Config, observer upstream.Observer) *upstream.Client {
	return upstream.NewClient(upstream.Config{
		BaseURL:    cfg.UpstreamURL,
		APIKey:     cfg.UpstreamAPIKey,
		HTTPClient: &http.Client{Timeout: cfg.UpstreamTimeout},
		Logger:     slog.Default(),
		Observer:   observer,
	})
}

// runServe はWebサーバーモードで起動する。
// ストレージを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 2. 外部サービスクライアント
	client := newUpstreamClient(cfg, collector)
	authClient := upstream.NewAuthClient(client)
	restClient := upstream.NewRestClient(client)

	// 3. ストレージ
	st, err := openStores(ctx, cfg, restClient)
	if err != nil {
		return err
	}
	defer st.Close()

	// 4. ドメインサービスの初期化
	authService := auth.NewService(
		authClient, st.profiles, st.sessions,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	authService.SetFailureRecorder(collector)

	renderer := markdown.NewRenderer(security.NewContentSanitizer())
	postService := post.NewService(st.posts, st.profiles, renderer)
	postService.SetRecorder(collector)

	// 5. テンプレート
	templates, err := handler.NewTemplates()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	pages := handler.NewPages(templates, cfg.IsDevelopment())

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		LoginRate:       middleware.PerMinute(cfg.RateLimitLogin),
		LoginBurst:      cfg.RateLimitLogin,
		WriteRate:       middleware.PerMinute(cfg.RateLimitWrite),
		WriteBurst:      cfg.RateLimitWrite,
		CleanupInterval: 5 * time.Minute,
		ErrorRenderer:   pages.RenderAPIError,
	})
	defer rateLimiter.Stop()

	checks := st.checks
	checks["upstream"] = authClient

	router := handler.NewRouter(&handler.RouterDeps{
		Logger: slog.Default(),
		Pages:  pages,

		SessionManager: middleware.NewSessionManager(middleware.SessionConfig{
			Secret:       cfg.SessionSecret,
			MaxAge:       cfg.SessionMaxAge,
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		}),
		IdentityResolver: authService,
		RateLimiter:      rateLimiter,
		MaxBodyBytes:     cfg.MaxBodyBytes,
		CookieSecure:     cfg.CookieSecure,
		CookieDomain:     cfg.CookieDomain,

		AuthService: authService,
		PostService: postService,
		UserService: authService,

		FeedService: postService,
		FeedConfig: handler.FeedConfig{
			BaseURL:     cfg.BaseURL,
			Description: "inkpost の最新記事",
		},

		HealthChecks:      checks,
		MetricsMiddleware: collector.Middleware(),
		MetricsHandler:    metrics.Handler(reg),
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return serveUntilDone(ctx, server, "web server")
}

// serveUntilDone はサーバーを起動し、ctxがキャンセルされたらシャットダウンする。
// 起動に失敗した場合はそのエラーを返す。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// セッションストアを開き、期限切れセッションのクリーンアップを定期実行する。
// メトリクスはWORKER_METRICS_PORTの/metricsで公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 2. セッションストア
	sessions, closeFn, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	// 3. クリーンアップジョブの初期化
	job := cleanup.NewCleanupJob(sessions, collector, slog.Default())
	job.Interval = cfg.SessionCleanupInterval

	// 4. メトリクスサーバー
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Start(ctx)
	}()

	err = serveUntilDone(ctx, metricsServer, "worker metrics server")
	cancel()
	<-done

	slog.Info("worker stopped gracefully")
	return err
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
