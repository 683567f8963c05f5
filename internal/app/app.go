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
	"go.etcd.io/bbolt"

	"github.com/hitoshi/assignman/internal/assignment"
	"github.com/hitoshi/assignman/internal/auth"
	"github.com/hitoshi/assignman/internal/config"
	"github.com/hitoshi/assignman/internal/database"
	"github.com/hitoshi/assignman/internal/handler"
	"github.com/hitoshi/assignman/internal/logger"
	"github.com/hitoshi/assignman/internal/metrics"
	"github.com/hitoshi/assignman/internal/middleware"
	"github.com/hitoshi/assignman/internal/repository"
	"github.com/hitoshi/assignman/internal/user"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logger.SetupDefault(w, level)

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
		slog.String("storage_driver", cfg.StorageDriver),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// storage はストレージドライバーごとのリポジトリと後始末をまとめる。
type storage struct {
	users       repository.UserRepository
	assignments repository.AssignmentRepository
	health      handler.HealthChecker
	close       func() error
}

// openStorage はSTORAGE_DRIVERに応じてストレージを開く。
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return &storage{
			users:       repository.NewPostgresUserRepo(db),
			assignments: repository.NewPostgresAssignmentRepo(db),
			health:      db,
			close:       db.Close,
		}, nil

	case config.DriverBolt:
		db, err := database.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		if err := repository.InitBoltBuckets(db); err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("bolt database opened", slog.String("path", cfg.BoltPath))
		return &storage{
			users:       repository.NewBoltUserRepo(db),
			assignments: repository.NewBoltAssignmentRepo(db),
			health:      boltHealthCheck(db),
			close:       db.Close,
		}, nil

	case config.DriverMemory:
		slog.Warn("using in-memory storage; data is lost on restart")
		return &storage{
			users:       repository.NewMemoryUserRepo(),
			assignments: repository.NewMemoryAssignmentRepo(),
			close:       func() error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

func boltHealthCheck(db *bbolt.DB) handler.HealthCheckFunc {
	return func(context.Context) error {
		return db.View(func(*bbolt.Tx) error { return nil })
	}
}

// application はserveモードで組み立てた依存関係を保持する。
type application struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	storage     *storage
}

// Close はレート制限のクリーンアップを止め、ストレージを閉じる。
func (a *application) Close() error {
	a.rateLimiter.Stop()
	return a.storage.close()
}

// newApplication はストレージを開き、全依存関係をワイヤリングしてHTTPハンドラーを構築する。
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	// 1. ストレージ
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 3. ドメインサービス
	userService, err := user.NewService(store.users, store.assignments, cfg.BcryptCost)
	if err != nil {
		store.close()
		return nil, fmt.Errorf("failed to create user service: %w", err)
	}
	assignmentService := assignment.NewService(store.assignments, store.users, collector)

	tokens, err := auth.NewTokenService(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenTTL)
	if err != nil {
		store.close()
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}
	authService := auth.NewService(userService, tokens, collector)

	// 4. 管理者アカウントの用意
	if cfg.BootstrapAdminEnabled() {
		admin, created, err := userService.EnsureAdmin(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword)
		if err != nil {
			store.close()
			return nil, fmt.Errorf("failed to bootstrap admin: %w", err)
		}
		slog.Info("bootstrap admin ready",
			slog.String("username", admin.Username),
			slog.Bool("created", created),
		)
	}

	// 5. ルーターの構築（設定値はreq/min単位）
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)

	deps := &handler.RouterDeps{
		TokenVerifier:     tokens,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),
		HealthChecker:  store.health,

		AuthService:       authService,
		UserService:       userService,
		AssignmentService: assignmentService,

		AllowAdminSignup: cfg.AllowAdminSignup,
	}

	return &application{
		handler:     handler.NewRouter(deps),
		rateLimiter: rateLimiter,
		storage:     store,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	app, err := newApplication(startCtx, cfg)
	cancelStart()
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はストレージのスキーマを最新にする。
// postgresではすべての未適用マイグレーションを順番に適用する。
// boltではバケットを作成する。memoryでは何もしない。
func runMigrate(cfg *config.Config) error {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		version, err := database.RunMigrations(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))

	case config.DriverBolt:
		db, err := database.OpenBolt(cfg.BoltPath)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		defer db.Close()
		if err := repository.InitBoltBuckets(db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("bolt buckets initialised", slog.String("path", cfg.BoltPath))

	default:
		slog.Info("nothing to migrate", slog.String("storage_driver", cfg.StorageDriver))
	}
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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
