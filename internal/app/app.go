package app

import (
	"context"
	"database/sql"
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

	"github.com/hitoshi/shelfmate/internal/auth"
	"github.com/hitoshi/shelfmate/internal/cache"
	"github.com/hitoshi/shelfmate/internal/catalog"
	"github.com/hitoshi/shelfmate/internal/config"
	"github.com/hitoshi/shelfmate/internal/database"
	"github.com/hitoshi/shelfmate/internal/discussion"
	"github.com/hitoshi/shelfmate/internal/handler"
	"github.com/hitoshi/shelfmate/internal/logger"
	"github.com/hitoshi/shelfmate/internal/metrics"
	"github.com/hitoshi/shelfmate/internal/middleware"
	"github.com/hitoshi/shelfmate/internal/recs"
	"github.com/hitoshi/shelfmate/internal/repository"
	"github.com/hitoshi/shelfmate/internal/security"
	"github.com/hitoshi/shelfmate/internal/shelf"
	"github.com/hitoshi/shelfmate/internal/user"
	"github.com/hitoshi/shelfmate/internal/validation"
	"github.com/hitoshi/shelfmate/internal/worker/cleanup"
	"github.com/hitoshi/shelfmate/internal/worker/ingest"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ったJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを再構成する
	logger.SetupDefaultWithLevel(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	inv, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if inv.Command == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting shelfmate",
		slog.String("command", string(inv.Command)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch inv.Command {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, inv)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// snapshotCache は本棚スナップショットキャッシュとその付随処理をまとめる。
type snapshotCache struct {
	shelf.SnapshotCache
	// pinger はRedis使用時のみ設定される。
	pinger interface{ Ping(ctx context.Context) error }
	// memory はインメモリ使用時のみ設定される。
	memory *cache.MemoryCache
	close  func() error
}

// newSnapshotCache はREDIS_URLが設定されていればRedis、なければインメモリのキャッシュを生成する。
func newSnapshotCache(cfg *config.Config) (*snapshotCache, error) {
	if cfg.RedisURL == "" {
		mem := cache.NewMemoryCache(cfg.SnapshotTTL)
		return &snapshotCache{
			SnapshotCache: mem,
			memory:        mem,
			close:         func() error { return nil },
		}, nil
	}

	client, err := cache.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	rc := cache.NewRedisCache(client, cfg.SnapshotTTL)
	return &snapshotCache{
		SnapshotCache: rc,
		pinger:        rc,
		close:         rc.Close,
	}, nil
}

// healthCheckers は複数の依存先の疎通をまとめて確認する。
type healthCheckers []handler.HealthChecker

// PingContext は全ての依存先を順に確認し、最初のエラーを返す。
func (h healthCheckers) PingContext(ctx context.Context) error {
	for _, c := range h {
		if err := c.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// pingerFunc はPing(ctx)をHealthCheckerに適合させる。
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// newMetricsRegistry はGo/プロセスメトリクスとアプリケーションメトリクスを登録したレジストリを返す。
func newMetricsRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	bookRepo := repository.NewPostgresBookRepo(db)
	shelfRepo := repository.NewPostgresShelfRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)
	commentRepo := repository.NewPostgresCommentRepo(db)
	chatRepo := repository.NewPostgresChatRepo(db)
	sourceRepo := repository.NewPostgresCatalogSourceRepo(db)

	// 3. 横断的なコンポーネントの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()
	validator := validation.New()
	registry, collector := newMetricsRegistry()

	snapshots, err := newSnapshotCache(cfg)
	if err != nil {
		return err
	}
	defer snapshots.close()

	checks := healthCheckers{db}
	if snapshots.pinger != nil {
		checks = append(checks, pingerFunc(snapshots.pinger.Ping))
	}

	// 4. ドメインサービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	catalogService := catalog.NewService(bookRepo, sourceRepo, catalog.NewSourceDetector(ssrfGuard), cfg.SearchLimit)
	shelfController := shelf.NewController(shelfRepo, catalogService, snapshots, collector, slog.Default())
	discussionService := discussion.NewService(postRepo, commentRepo, chatRepo, catalogService, sanitizer, validator)
	userService := user.NewService(userRepo, sessionRepo, snapshots)
	recsClient := recs.NewClient(cfg.RecsServiceURL, cfg.RecsTimeout, slog.Default())
	if !recsClient.Enabled() {
		slog.Warn("RECS_SERVICE_URL is not set; recommendation routes will return RECS_UNAVAILABLE")
	}

	// 5. ルーターの構築（レート制限はreq/min単位で設定する）
	limits := middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitPosting)
	limits.Recorder = collector
	rateLimiter := middleware.NewRateLimiter(limits)
	defer rateLimiter.Stop()
	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Validator:      validator,
		Logger:         slog.Default(),
		HealthChecker:  checks,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ShelfService:      shelfController,
		CatalogService:    catalogService,
		DiscussionService: discussionService,
		RecsService:       recsClient,
		UserService:       userService,
	}

	router := handler.NewRouter(deps)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// インメモリキャッシュの期限切れエントリを定期的に掃除する
	if snapshots.memory != nil {
		go purgeLoop(ctx, snapshots.memory, cfg.SnapshotTTL)
	}

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serveUntilDone(ctx, server, "API server")
}

// serveUntilDone はサーバーを起動し、ctxが終了したらグレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// purgeLoop はinterval間隔でインメモリキャッシュの期限切れエントリを削除する。
func purgeLoop(ctx context.Context, mem *cache.MemoryCache, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mem.Purge(); n > 0 {
				slog.Debug("snapshot cache purged", slog.Int("removed", n))
			}
		}
	}
}

// runWorker はワーカーモードで起動する。
// カタログ取り込みスケジューラと期限切れセッションの削除ジョブを起動し、
// /health と /metrics を SERVER_PORT で公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	bookRepo := repository.NewPostgresBookRepo(db)
	sourceRepo := repository.NewPostgresCatalogSourceRepo(db)

	// 3. セキュリティサービスとメトリクスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()
	registry, collector := newMetricsRegistry()

	// 4. フェッチャーとスケジューラの初期化
	fetcher := ingest.NewFetcher(
		sourceRepo, bookRepo,
		ingest.NewConverter(sanitizer, ssrfGuard),
		ssrfGuard, collector, slog.Default(),
		ingest.FetcherConfig{
			Timeout:     cfg.IngestTimeout,
			MaxBodySize: cfg.IngestMaxSize,
			Interval:    cfg.IngestInterval,
		},
	)
	scheduler := ingest.NewScheduler(sourceRepo, fetcher, slog.Default(), cfg.IngestMaxConcurrent)

	// 5. セッションクリーンアップジョブの初期化
	cleanupJob := cleanup.NewSessionCleanupJob(db, slog.Default())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("ingest_interval", cfg.IngestInterval),
		slog.Int("max_concurrent", cfg.IngestMaxConcurrent),
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	go cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	// ヘルスチェックとメトリクス公開用の管理サーバー
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	admin := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := serveUntilDone(ctx, admin, "worker admin server"); err != nil {
			slog.Error("worker admin server failed", slog.String("error", err.Error()))
		}
	}()

	// 取り込みスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.IngestInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はマイグレーションを適用・ロールバックし、または現在のスキーマを表示する。
func runMigrate(cfg *config.Config, inv Invocation) error {
	log := slog.With(
		slog.String("action", string(inv.Migrate)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	var (
		state database.SchemaState
		err   error
	)
	switch inv.Migrate {
	case MigrateDown:
		log.Warn("rolling back schema", slog.Int("steps", inv.Steps))
		state, err = database.MigrateDown(cfg.DatabaseURL, inv.Steps)
	case MigrateVersion:
		state, err = database.CurrentSchema(cfg.DatabaseURL)
	default:
		state, err = database.MigrateUp(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migrate %s failed: %w", inv.Migrate, err)
	}

	log.Info("schema state",
		slog.Uint64("version", uint64(state.Version)),
		slog.Uint64("latest", uint64(state.Latest)),
		slog.Bool("dirty", state.Dirty),
		slog.Bool("up_to_date", state.UpToDate()),
	)
	if state.Dirty {
		return fmt.Errorf("schema version %d is dirty; fix the failed migration and rerun", state.Version)
	}
	return nil
}

// maskDatabaseURL はログ出力用にパスワードを伏せた接続URLを返す。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
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
