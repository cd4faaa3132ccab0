package app

import (
	"context"
	"database/sql"
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

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/leetsync/internal/config"
	"github.com/hitoshi/leetsync/internal/database"
	"github.com/hitoshi/leetsync/internal/handler"
	"github.com/hitoshi/leetsync/internal/logger"
	"github.com/hitoshi/leetsync/internal/metrics"
	"github.com/hitoshi/leetsync/internal/middleware"
	"github.com/hitoshi/leetsync/internal/worker/cleanup"
	"github.com/hitoshi/leetsync/internal/worker/daily"
)

const (
	shutdownTimeout = 30 * time.Second
	devTokenTTL     = 24 * time.Hour
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、設定に従って構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.Options{})

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルと形式でログを作り直す
	l := logger.SetupDefault(w, logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, l, nil
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

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("app_env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg, log)
	case CommandMigrate:
		return runMigrate(cfg, log, MigrateDirection(args))
	case CommandToken:
		return runToken(w, cfg, args[1:])
	default:
		return runServe(ctx, cfg, log)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.EnsureConnected(ctx, db, 3, time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	c := buildComponents(ctx, cfg, db, log)
	defer c.Close()

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitPerMin))
	defer rl.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		JWT:               middleware.JWTConfig{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		Logger:            log,
		DB:                db,
		MetricsHandler:    metrics.Handler(c.registry),
		TrackedUsers:      c.tracking,
		Syncer:            c.syncer,
		Solutions:         c.solutionSvc,
		Batch:             c.scheduler,
		Production:        cfg.IsProduction(),
	})

	// 手動同期は上流への待機を含むため書き込みタイムアウトを長めにとる
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, log)
}

// serveUntilDone はctxがキャンセルされるまでserverを動かし、その後グレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, log *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		log.Info("HTTP server stopped gracefully")
		return nil
	})

	return g.Wait()
}

// runWorker はワーカーモードで起動する。
// 日次のバッチ同期とクリーンアップを実行し、/health と /metrics を公開する。
// ctxがキャンセルされると全てのループを停止する。
func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	c := buildComponents(ctx, cfg, db, log)
	defer c.Close()

	cleanupJob := cleanup.NewCleanupJob(db, log)
	cleanupJob.RetentionDays = cfg.CleanupRetentionDays

	mux := http.NewServeMux()
	mux.Handle("/health", handler.HealthHandler(db))
	mux.Handle("/metrics", metrics.Handler(c.registry))
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("worker starting",
		slog.String("sync_daily_at", cfg.SyncTime().String()),
		slog.String("cleanup_daily_at", cfg.CleanupTime().String()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.scheduler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		daily.Run(gctx, cfg.CleanupTime(), cleanupJob.Run, log, daily.Options{Name: "cleanup"})
		return nil
	})
	g.Go(func() error {
		return serveUntilDone(gctx, server, log)
	})

	err = g.Wait()
	log.Info("worker stopped gracefully")
	return err
}

// runMigrate はデータベースマイグレーションを実行する。
// directionがdownの場合は1段階ロールバックし、それ以外は未適用のマイグレーションを全て適用する。
func runMigrate(cfg *config.Config, log *slog.Logger, direction string) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("direction", direction),
	)

	var err error
	if direction == "down" {
		err = database.RollbackMigration(cfg.DatabaseURL)
	} else {
		err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	log.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runToken は開発用のアクセストークンを発行してwに書き出す。
// argsの先頭に所有アカウントIDを指定する。
func runToken(w io.Writer, cfg *config.Config, args []string) error {
	if cfg.IsProduction() {
		return errors.New("token command is disabled in production")
	}
	if len(args) == 0 || args[0] == "" {
		return errors.New("usage: token <account-id>")
	}

	token, err := middleware.IssueToken(
		middleware.JWTConfig{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer},
		args[0], devTokenTTL,
	)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
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
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
