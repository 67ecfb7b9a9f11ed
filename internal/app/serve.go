package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/config"
	"github.com/hitoshi/hirescout/internal/contact"
	"github.com/hitoshi/hirescout/internal/database"
	"github.com/hitoshi/hirescout/internal/handler"
	"github.com/hitoshi/hirescout/internal/metrics"
	"github.com/hitoshi/hirescout/internal/middleware"
	"github.com/hitoshi/hirescout/internal/queue"
	"github.com/hitoshi/hirescout/internal/repository"
	"github.com/hitoshi/hirescout/internal/security"
	"github.com/hitoshi/hirescout/internal/session"
	"github.com/hitoshi/hirescout/internal/sessionstore"
	"github.com/hitoshi/hirescout/internal/supabase"
)

// errContactDisabled はAMQP_URLが未設定で問い合わせを受け付けられない場合のエラー。
var errContactDisabled = errors.New("contact queue is not configured")

// disabledPublisher は常に送信に失敗するPublisher。問い合わせは503で応答される。
type disabledPublisher struct{}

func (disabledPublisher) Publish(context.Context, string, any) error {
	return errContactDisabled
}

// controllerFactory はブラウザセッションごとにバックエンド一式とControllerを組み立てる。
type controllerFactory struct {
	supabase         supabase.Config
	storage          backend.SessionStorage
	accounts         backend.AccountCreator
	profiles         backend.ProfileStore   // nilの場合はデータAPIを使う
	analytics        backend.AnalyticsStore // profilesと同じ
	recorder         session.Recorder
	logger           *slog.Logger
	defaultPrepCount int
}

// New は認証クライアントをブラウザセッションIDをストレージキーとして生成し、
// データAPIクライアントにはその認証クライアントのアクセストークンを使わせる。
func (f *controllerFactory) New(browserSessionID string) (*session.Controller, error) {
	authClient, err := supabase.NewAuthClient(f.supabase, supabase.AuthOptions{
		Storage:    f.storage,
		StorageKey: browserSessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create auth client: %w", err)
	}

	b := backend.Backend{
		Auth:      authClient,
		Profiles:  f.profiles,
		Analytics: f.analytics,
		Accounts:  f.accounts,
	}
	if b.Profiles == nil {
		rest, err := supabase.NewRestClient(f.supabase, authClient)
		if err != nil {
			authClient.Close()
			return nil, fmt.Errorf("failed to create rest client: %w", err)
		}
		b.Profiles, b.Analytics = rest, rest
	}

	return session.NewController(b, session.Options{
		Logger:           f.logger.With(slog.String("browser_session", shortID(browserSessionID))),
		Recorder:         f.recorder,
		DefaultPrepCount: f.defaultPrepCount,
	}), nil
}

// shortID はログ出力用にブラウザセッションIDの先頭8文字を返す。
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// runServe はAPIサーバーモードで起動する。
// セッションストレージ・データストア・キューを接続し、全依存関係をワイヤリングして
// HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()
	logger := slog.Default()
	checkers := map[string]handler.HealthChecker{}

	sbConfig := supabase.Config{
		URL:       cfg.SupabaseURL,
		AnonKey:   cfg.SupabaseAnonKey,
		JWTSecret: cfg.SupabaseJWTSecret,
		Logger:    logger,
	}

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. セッションストレージ
	var storage backend.SessionStorage
	if cfg.RedisURL != "" {
		client, err := sessionstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()
		storage = sessionstore.NewRedis(client, cfg.SessionTTL)
		checkers["redis"] = handler.HealthCheckFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		slog.Info("session storage: redis")
	} else {
		storage = sessionstore.NewMemory(cfg.SessionTTL)
		slog.Warn("REDIS_URL is not set; auth sessions are kept in memory and lost on restart")
	}

	// 3. データストア
	factory := &controllerFactory{
		supabase:         sbConfig,
		storage:          storage,
		recorder:         collector,
		logger:           logger,
		defaultPrepCount: cfg.DefaultPrepCount,
	}
	accounts, err := supabase.NewAccountCreator(sbConfig)
	if err != nil {
		return fmt.Errorf("failed to create account creator: %w", err)
	}
	factory.accounts = accounts

	if cfg.StoreBackend == config.StoreBackendPostgres {
		db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		if err := database.Ping(ctx, db); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")

		factory.profiles = repository.NewPostgresProfileRepo(db)
		factory.analytics = repository.NewPostgresUsageRepo(db)
		checkers["database"] = db
	}

	// 4. セッションコントローラ
	registry := session.NewRegistry(factory.New, session.RegistryConfig{
		IdleTimeout: cfg.ControllerIdleTimeout,
	}, logger, collector)
	defer registry.Shutdown()

	// 5. 問い合わせ
	var publisher contact.Publisher = disabledPublisher{}
	if cfg.AMQPURL != "" {
		p := queue.NewPublisher(cfg.AMQPURL, logger)
		defer p.Close()
		publisher = p
	} else {
		slog.Warn("AMQP_URL is not set; contact form submissions will be rejected")
	}
	sanitizer := security.NewContentSanitizer()
	contactService := contact.NewService(publisher, sanitizer, logger)

	// 6. ルーターの構築
	links := security.NewLinkGuard(cfg.LinkCheckTimeout)
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのレートはreq/min単位なのでreq/secに変換する
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitAuth > 0 {
		rateLimiterCfg.AuthRate = rate.Limit(float64(cfg.RateLimitAuth) / 60.0)
		rateLimiterCfg.AuthBurst = cfg.RateLimitAuth
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      logger,
		Controllers: registry,
		BrowserSession: middleware.BrowserSessionConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionTTL,
			ReadyTimeout: cfg.ControllerReadyWait,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,
		HSTS:               cfg.CookieSecure,
		HTTPRecorder:       collector,
		HealthCheckers:     checkers,
		MetricsHandler:     metrics.Handler(reg),
		ProfileValidator:   security.NewProfileValidator(sanitizer, links),
		LinkChecker:        links,
		ContactService:     contactService,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}
