package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/netutil"

	"github.com/hitoshi/lockerclaim/internal/auth"
	"github.com/hitoshi/lockerclaim/internal/config"
	"github.com/hitoshi/lockerclaim/internal/database"
	"github.com/hitoshi/lockerclaim/internal/handler"
	"github.com/hitoshi/lockerclaim/internal/ledger"
	"github.com/hitoshi/lockerclaim/internal/lifecycle"
	"github.com/hitoshi/lockerclaim/internal/logger"
	"github.com/hitoshi/lockerclaim/internal/metrics"
	"github.com/hitoshi/lockerclaim/internal/middleware"
	"github.com/hitoshi/lockerclaim/internal/model"
	"github.com/hitoshi/lockerclaim/internal/notify"
	"github.com/hitoshi/lockerclaim/internal/points"
	"github.com/hitoshi/lockerclaim/internal/registry"
	"github.com/hitoshi/lockerclaim/internal/repository"
	"github.com/hitoshi/lockerclaim/internal/security"
	"github.com/hitoshi/lockerclaim/internal/worker/expiry"
)

// errPersistentStoreRequired はメモリストアでは意味を持たないコマンドで返す。
var errPersistentStoreRequired = errors.New("this command requires DATABASE_DRIVER=postgres or pgx")

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

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

	var opts Options
	if len(args) > 0 && string(cmd) == args[0] {
		parsed, err := ParseOptions(cmd, args[1:])
		if err != nil {
			return err
		}
		opts = parsed
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("database_driver", cfg.DatabaseDriver),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, opts)
	case CommandMember:
		return runMember(w, cfg, opts)
	case CommandToken:
		return runToken(w, cfg, opts)
	default:
		return runServe(cfg)
	}
}

// openStore は設定に応じたデータストアを開く。
// メモリドライバの場合、返す*sql.DBはnilとなる。
func openStore(cfg *config.Config) (repository.Store, *sql.DB, error) {
	if cfg.DatabaseDriver == config.DriverMemory {
		slog.Warn("using in-memory store; data is lost on shutdown")
		return repository.NewMemoryStore(), nil, nil
	}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return repository.NewPostgresStore(db, cfg.LockTimeout), db, nil
}

// newPublisher はロッカー通知の送信先を構築する。
// LOCKER_WEBHOOK_URLが未設定の場合は通知をログに記録するだけとなる。
// 返すcloseは送信待ちの通知を送り切ってから戻る。
func newPublisher(ctx context.Context, cfg *config.Config, recorder metrics.Recorder) (notify.Publisher, func(), error) {
	if cfg.LockerWebhookURL == "" {
		return notify.NewLogPublisher(slog.Default()), func() {}, nil
	}

	guard := security.NewURLGuard(cfg.LockerWebhookAllowPrivate)
	publisher, err := notify.NewWebhookPublisher(notify.WebhookConfig{
		URL:       cfg.LockerWebhookURL,
		Timeout:   cfg.LockerWebhookTimeout,
		QueueSize: cfg.SignalQueueSize,
	}, guard, slog.Default(), recorder)
	if err != nil {
		return nil, nil, err
	}
	publisher.Start(ctx)
	return publisher, publisher.Close, nil
}

// services はドメインサービスの組。
type services struct {
	registry  *registry.Service
	points    *points.Service
	lifecycle *lifecycle.Controller
	ledger    *ledger.Service
	auth      *auth.Service
	members   repository.MemberRepository
}

// newServices はデータストアの上にドメインサービスをワイヤリングする。
func newServices(cfg *config.Config, store repository.Store, publisher notify.Publisher, recorder metrics.Recorder) *services {
	log := slog.Default()
	sanitizer := security.NewTextSanitizer()

	pointsService := points.NewService(store, cfg.FinderRewardPoints, recorder, log)

	return &services{
		registry: registry.NewService(store, pointsService, sanitizer, cfg.TimeZone, log),
		points:   pointsService,
		lifecycle: lifecycle.NewController(store, lifecycle.Config{
			LockDuration:          cfg.ClaimLockDuration,
			AutoRejectStaleClaims: cfg.AutoRejectStaleClaims,
		}, sanitizer, publisher, recorder, log),
		ledger:  ledger.NewService(store.Repos().Claims, log),
		auth:    auth.NewService(store.Repos().Members, auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)),
		members: store.Repos().Members,
	}
}

// newRouter はHTTPルーターを構築する。dbがnilの場合、ヘルスチェックは常にokを返す。
func newRouter(cfg *config.Config, svc *services, db *sql.DB, gatherer prometheus.Gatherer, limiter *middleware.RateLimiter) http.Handler {
	var checker handler.HealthChecker
	if db != nil {
		checker = db
	}

	return handler.NewRouter(&handler.RouterDeps{
		TokenVerifier:     svc.auth,
		MemberLookup:      svc.members,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Logger:            slog.Default(),

		HealthChecker:  checker,
		MetricsHandler: metrics.Handler(gatherer),

		ObjectService: svc.registry,

		ClaimController: svc.lifecycle,
		ClaimLedger:     svc.ledger,
	})
}

// runServe はAPIサーバーモードで起動する。
// データストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. データストア
	store, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 3. ロッカー通知
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher, closePublisher, err := newPublisher(ctx, cfg, collector)
	if err != nil {
		return fmt.Errorf("failed to set up locker signal: %w", err)
	}
	defer closePublisher()

	// 4. ドメインサービスとルーター
	svc := newServices(cfg, store, publisher, collector)

	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitClaim))
	defer limiter.Stop()

	router := newRouter(cfg, svc, db, reg, limiter)

	// 5. HTTPサーバーの起動
	listener, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if cfg.ServerMaxConns > 0 {
		listener = netutil.LimitListener(listener, cfg.ServerMaxConns)
	}

	server := &http.Server{
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", listener.Addr().String()),
			slog.Int("max_conns", cfg.ServerMaxConns),
		)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-stop:
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れロックの掃除を定期実行する。遷移自体はlifecycleが行い、
// 掃除しなくても参照時の判定で期限切れは利用可能として扱われる。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. データストア
	store, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// 2. 期限切れの掃除は通知を送らないため、通知先はログのみ
	controller := lifecycle.NewController(store, lifecycle.Config{
		LockDuration:          cfg.ClaimLockDuration,
		AutoRejectStaleClaims: cfg.AutoRejectStaleClaims,
	}, security.NewTextSanitizer(), notify.NewLogPublisher(slog.Default()), metrics.Nop{}, slog.Default())

	sweeper := expiry.NewSweeper(controller, slog.Default(), cfg.ExpirySweepBatch)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		select {
		case <-stop:
			slog.Info("shutting down worker...")
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.ExpirySweepInterval),
		slog.Int("sweep_batch", cfg.ExpirySweepBatch),
	)

	// 掃除ループをメインgoroutineで実行（ブロッキング）
	sweeper.Start(ctx, cfg.ExpirySweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// --downが指定された場合は巻き戻し、それ以外は未適用のマイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, opts Options) error {
	if cfg.DatabaseDriver == config.DriverMemory {
		return errPersistentStoreRequired
	}

	if opts.MigrateDown {
		slog.Info("rolling back database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
			slog.Int("steps", opts.MigrateSteps),
		)
		if err := database.RollbackMigrations(cfg.DatabaseURL, opts.MigrateSteps); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back successfully")
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

// runMember は会員を作成し、その会員のトークンをwに出力する。
func runMember(w io.Writer, cfg *config.Config, opts Options) error {
	authService, closeStore, err := openAuthService(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	member, err := authService.CreateMember(ctx, opts.MemberName, model.MemberRole(opts.MemberRole))
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	token, err := authService.IssueToken(ctx, member.ID)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintf(w, "member_id=%s role=%s\ntoken=%s\n", member.ID, member.Role, token)
	return nil
}

// runToken は既存会員のトークンを再発行してwに出力する。
func runToken(w io.Writer, cfg *config.Config, opts Options) error {
	authService, closeStore, err := openAuthService(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	token, err := authService.IssueToken(context.Background(), opts.MemberID)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintf(w, "token=%s\n", token)
	return nil
}

// openAuthService は永続ストア上の認証サービスを返す。
func openAuthService(cfg *config.Config) (*auth.Service, func(), error) {
	if cfg.DatabaseDriver == config.DriverMemory {
		return nil, nil, errPersistentStoreRequired
	}
	store, db, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	return auth.NewService(store.Repos().Members, issuer), func() { db.Close() }, nil
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
