package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/donalert/internal/alert"
	"github.com/hitoshi/donalert/internal/auth"
	"github.com/hitoshi/donalert/internal/backup"
	"github.com/hitoshi/donalert/internal/config"
	"github.com/hitoshi/donalert/internal/database"
	"github.com/hitoshi/donalert/internal/donation"
	"github.com/hitoshi/donalert/internal/handler"
	"github.com/hitoshi/donalert/internal/ledger"
	"github.com/hitoshi/donalert/internal/locker"
	"github.com/hitoshi/donalert/internal/logger"
	"github.com/hitoshi/donalert/internal/metrics"
	"github.com/hitoshi/donalert/internal/middleware"
	"github.com/hitoshi/donalert/internal/repository"
	"github.com/hitoshi/donalert/internal/security"
	"github.com/hitoshi/donalert/internal/slipverify"
	"github.com/hitoshi/donalert/internal/truewallet"
	"github.com/hitoshi/donalert/internal/webhook"
	"github.com/hitoshi/donalert/internal/worker/cleanup"
	"github.com/hitoshi/donalert/internal/worker/rental"
)

const (
	webhookTimeout  = 10 * time.Second
	shutdownTimeout = 30 * time.Second
	cleanupInterval = 24 * time.Hour
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

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
		slog.String("database_driver", cfg.DatabaseDriver),
		slog.String("backup_driver", cfg.BackupDriver),
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

// storage はドライバーに応じて選んだリポジトリ群。dbはmemoryドライバーではnil。
type storage struct {
	db       *sql.DB
	accounts repository.AccountRepository
	sessions repository.SessionRepository
	alertLog repository.AlertLogRepository

	sessionPruner cleanup.SessionPruner
	alertPruner   cleanup.AlertLogPruner
}

func (s *storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// openStorage はDATABASE_DRIVERに従ってDB接続を開き、リポジトリを初期化する。
// postgresはマイグレーション済みであることを前提とする（migrateコマンドで適用する）。
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.DatabaseDriver {
	case config.DriverMemory:
		slog.Warn("using in-memory storage; data is lost on restart")
		sessions := repository.NewMemorySessionRepo()
		alertLog := repository.NewMemoryAlertLogRepo()
		return &storage{
			accounts:      repository.NewMemoryAccountRepo(),
			sessions:      sessions,
			alertLog:      alertLog,
			sessionPruner: sessions,
			alertPruner:   alertLog,
		}, nil

	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("sqlite database opened", slog.String("path", cfg.DatabaseURL))
		sessions := repository.NewSQLiteSessionRepo(db)
		alertLog := repository.NewSQLiteAlertLogRepo(db)
		return &storage{
			db:            db,
			accounts:      repository.NewSQLiteAccountRepo(db),
			sessions:      sessions,
			alertLog:      alertLog,
			sessionPruner: sessions,
			alertPruner:   alertLog,
		}, nil

	default:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		sessions := repository.NewPostgresSessionRepo(db)
		alertLog := repository.NewPostgresAlertLogRepo(db)
		return &storage{
			db:            db,
			accounts:      repository.NewPostgresAccountRepo(db),
			sessions:      sessions,
			alertLog:      alertLog,
			sessionPruner: sessions,
			alertPruner:   alertLog,
		}, nil
	}
}

// openBackupStore はBACKUP_DRIVERに従ってバックアップの保存先を初期化する。
func openBackupStore(ctx context.Context, cfg *config.Config) (backup.Store, error) {
	if cfg.BackupDriver == config.BackupS3 {
		store, err := backup.NewS3Store(ctx, backup.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 backup store: %w", err)
		}
		return store, nil
	}
	return backup.NewFileStore(cfg.BackupDir), nil
}

// application はサーバーとワーカーが共有する依存関係一式。
type application struct {
	config   *config.Config
	logger   *slog.Logger
	storage  *storage
	registry *prometheus.Registry

	locks     *locker.KeyedMutex
	collector *metrics.Collector
	ledger    *ledger.Ledger
	auth      *auth.Service
	hub       *alert.Hub
	queue     *alert.Queue
	notifier  *webhook.Notifier
	donations *donation.Service
	backups   *backup.Service
	sweeper   *rental.Sweeper
	cleanup   *cleanup.CleanupJob
	limiter   *middleware.RateLimiter
}

// newApplication は全依存関係をワイヤリングする。バックグラウンド処理は起動しない。
func newApplication(ctx context.Context, cfg *config.Config, st *storage, logger *slog.Logger) (*application, error) {
	backupStore, err := openBackupStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	locks := locker.New()

	ledgerService := ledger.New(st.accounts, locks, logger, ledger.Config{
		Retention: cfg.DonationRetention,
		Location:  cfg.StatsLocation,
	})

	authConfig := auth.DefaultServiceConfig()
	authConfig.SessionTTL = cfg.SessionTTL
	authConfig.MaxLoginAttempts = cfg.LoginMaxAttempts
	authConfig.LockDuration = cfg.LoginLockDuration
	authService := auth.NewService(st.accounts, st.sessions, locks, logger, authConfig)

	hub := alert.NewHub()
	queue := alert.NewQueue(hub, st.alertLog, collector, logger, alert.QueueConfig{
		Interval:    cfg.AlertInterval,
		HistorySize: cfg.AlertHistorySize,
	})

	guard := security.NewOutboundGuard()
	notifier := webhook.NewNotifier(guard.NewClient(webhookTimeout), logger)

	providerClient := &http.Client{Timeout: cfg.ProviderTimeout}
	wallet := truewallet.NewClient(providerClient, logger, cfg.WalletEndpoint)
	slips := slipverify.NewClient(providerClient, logger, cfg.SlipEndpoint, cfg.SlipClientID, cfg.SlipClientSecret)

	donations := donation.NewService(
		ledgerService, authService, wallet, slips, queue, notifier,
		security.NewTextSanitizer(), collector, logger, donation.DefaultConfig(),
	)

	backups := backup.NewService(st.accounts, locks, ledgerService, backupStore, logger)

	sweeper := rental.NewSweeper(st.accounts, st.sessions, locks, backups, logger, rental.SweepConfig{
		Interval:       cfg.RentalSweepInterval,
		PurgeGraceDays: cfg.RentalPurgeGraceDays,
	})

	cleanupJob := cleanup.NewCleanupJob(st.sessionPruner, st.alertPruner, logger)
	cleanupJob.SessionTTL = cfg.SessionTTL
	if cfg.AlertLogRetentionDays > 0 {
		cleanupJob.RetentionDays = cfg.AlertLogRetentionDays
	}

	limiterConfig := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitDonate > 0 {
		limiterConfig.DonateRate, limiterConfig.DonateBurst = perMinute(cfg.RateLimitDonate)
	}
	if cfg.RateLimitLogin > 0 {
		limiterConfig.LoginRate, limiterConfig.LoginBurst = perMinute(cfg.RateLimitLogin)
	}
	limiterConfig.TrustProxy = cfg.TrustProxy

	return &application{
		config:    cfg,
		logger:    logger,
		storage:   st,
		registry:  registry,
		locks:     locks,
		collector: collector,
		ledger:    ledgerService,
		auth:      authService,
		hub:       hub,
		queue:     queue,
		notifier:  notifier,
		donations: donations,
		backups:   backups,
		sweeper:   sweeper,
		cleanup:   cleanupJob,
		limiter:   middleware.NewRateLimiter(limiterConfig, logger),
	}, nil
}

// perMinute はreq/minの設定値をrate.Limitとバーストサイズに変換する。
func perMinute(n int) (rate.Limit, int) {
	return rate.Limit(float64(n) / 60.0), n
}

// router はHTTPハンドラーを構築する。
func (a *application) router() http.Handler {
	// memoryドライバーではDBがないため、型付きnilではなくnilインターフェースを渡す
	var health handler.HealthChecker
	if a.storage.db != nil {
		health = a.storage.db
	}

	return handler.NewRouter(&handler.RouterDeps{
		Logger:            a.logger,
		Sessions:          a.auth,
		Guard:             a.auth,
		AdminToken:        a.config.AdminToken,
		CORSAllowedOrigin: a.config.CORSAllowedOrigin,
		RateLimiter:       a.limiter,
		StatusRecorder:    a.collector,

		AuthService:   a.auth,
		LoginRecorder: a.collector,
		SessionTTL:    a.config.SessionTTL,

		Donations: a.donations,
		Ledger:    a.ledger,
		URLs:      security.NewOutboundGuard(),
		AlertLog:  a.storage.alertLog,

		StatsLocation: a.config.StatsLocation,

		Hub: a.hub,

		Admin: handler.AdminDeps{
			Accounts: a.auth,
			Ledger:   a.ledger,
			Sweeper:  a.sweeper,
			Backups:  a.backups,
			Queue:    a.queue,
			Slips:    a.donations,
		},

		HealthChecker:  health,
		MetricsHandler: metrics.Handler(a.registry),
	})
}

// Close はバックグラウンドの通知を待ってからリソースを解放する。
func (a *application) Close() error {
	a.limiter.Stop()
	a.notifier.Wait()
	return a.storage.Close()
}

// runServe はAPIサーバーモードで起動する。
// アラートキューを起動し、HTTPサーバーを公開する。
// 単一プロセスで完結するドライバー（memory/sqlite）ではレンタルのスイープとクリーンアップも同じプロセスで行う。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	app, err := newApplication(ctx, cfg, st, slog.Default())
	if err != nil {
		st.Close()
		return err
	}
	defer app.Close()

	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go app.queue.Start(bgCtx)
	if cfg.DatabaseDriver != config.DriverPostgres {
		go app.sweeper.Start(bgCtx)
		go app.cleanup.Start(bgCtx, cleanupInterval)
	}

	// WebSocket接続を切らないよう、ReadTimeoutとWriteTimeoutは設定しない
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           app.router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// レンタル期限のスイープと日次クリーンアップを定期実行する。共有DBが必要なためmemoryドライバーでは起動できない。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.DatabaseDriver == config.DriverMemory {
		return errors.New("worker mode requires a shared database; serve runs the sweeper in-process for the memory driver")
	}

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	app, err := newApplication(ctx, cfg, st, slog.Default())
	if err != nil {
		st.Close()
		return err
	}
	defer app.Close()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.RentalSweepInterval),
		slog.Int("purge_grace_days", cfg.RentalPurgeGraceDays),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go app.cleanup.Start(ctx, cleanupInterval)

	// スイープをメインgoroutineで実行（ブロッキング）
	app.sweeper.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// postgresのみ対象。sqliteは接続時にスキーマを適用し、memoryは何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseDriver != config.DriverPostgres {
		slog.Info("migrations are only applied for postgres; nothing to do",
			slog.String("database_driver", cfg.DatabaseDriver),
		)
		return nil
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
