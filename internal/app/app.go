package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/siteforge/collab/internal/changefeed"
	"github.com/siteforge/collab/internal/collab"
	"github.com/siteforge/collab/internal/config"
	"github.com/siteforge/collab/internal/database"
	"github.com/siteforge/collab/internal/genai"
	"github.com/siteforge/collab/internal/handler"
	"github.com/siteforge/collab/internal/logger"
	"github.com/siteforge/collab/internal/metrics"
	"github.com/siteforge/collab/internal/middleware"
	"github.com/siteforge/collab/internal/repository"
	"github.com/siteforge/collab/internal/security"
	"github.com/siteforge/collab/internal/worker/reaper"
	"github.com/siteforge/collab/internal/ws"
)

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
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はコラボレーションサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	projectRepo := repository.NewPostgresProjectRepo(db)

	// 3. 変更フィードの初期化
	// REDIS_ADDRが設定されていればRedis Pub/Sub、未設定ならインメモリ
	var feed changefeed.Feed
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisFeed, err := changefeed.NewRedisFeed(ctx, cfg.RedisAddr, slog.Default())
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		feed = redisFeed
		slog.Info("redis change feed enabled", slog.String("addr", cfg.RedisAddr))
	} else {
		feed = changefeed.NewMemoryFeed()
		slog.Info("in-memory change feed enabled")
	}
	defer feed.Close()

	// 4. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	if cfg.GenAIEndpoint != "" {
		if err := ssrfGuard.ValidateURL(cfg.GenAIEndpoint); err != nil {
			return fmt.Errorf("invalid generation endpoint: %w", err)
		}
	}

	// 5. コンフリクト解決の初期化
	// エンドポイント未設定の場合、Resolverは常にフォールバックする
	generator := genai.NewHTTPGenerator(
		ssrfGuard.NewSafeClient(cfg.GenAITimeout),
		slog.Default(), cfg.GenAIEndpoint, cfg.GenAIAPIKey,
	)
	resolver := collab.NewResolver(generator, slog.Default())

	// 6. メトリクスの初期化
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	// 7. セッションレジストリとWebSocketハブの初期化
	registry := collab.NewSessionRegistry(
		projectRepo, userRepo, feed, sanitizer, resolver,
		collector, slog.Default(), cfg.ChangeLogLimit,
	)
	hub := ws.NewHub(slog.Default())
	registry.SetSender(hub)

	wsHandler := ws.NewHandler(hub, registry, slog.Default(), cfg.CORSAllowedOrigin)

	// 8. ルーターの構築
	// configのレートはreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.JoinRate = rate.Limit(float64(cfg.RateLimitJoin) / 60.0)
	rateLimiterCfg.JoinBurst = cfg.RateLimitJoin

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:     db,
		UserFinder:        userRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		ProjectStore:    projectRepo,
		SessionRegistry: registry,

		WSHandler:      wsHandler,
		MetricsHandler: metrics.SetupMetricsRoute(promRegistry),
	})

	// 9. アイドルセッションリーパーの起動
	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	defer cancelReaper()

	sessionReaper := reaper.NewReaper(registry, slog.Default(), cfg.SessionIdleTTL)
	go sessionReaper.Start(reaperCtx, cfg.ReaperInterval)

	// 10. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocketの長寿命接続のため無制限
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("collaboration server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down collaboration server...")
	cancelReaper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("collaboration server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
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
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
