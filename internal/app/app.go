package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hitoshi/libfinder/internal/barcode"
	"github.com/hitoshi/libfinder/internal/bot"
	"github.com/hitoshi/libfinder/internal/cache"
	"github.com/hitoshi/libfinder/internal/calil"
	"github.com/hitoshi/libfinder/internal/config"
	"github.com/hitoshi/libfinder/internal/database"
	"github.com/hitoshi/libfinder/internal/handler"
	"github.com/hitoshi/libfinder/internal/line"
	"github.com/hitoshi/libfinder/internal/logger"
	"github.com/hitoshi/libfinder/internal/metrics"
	"github.com/hitoshi/libfinder/internal/middleware"
	"github.com/hitoshi/libfinder/internal/repository"
	"github.com/hitoshi/libfinder/internal/security"
	"github.com/hitoshi/libfinder/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
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
// argsにはos.Args[1:]を渡す。ctxがキャンセルされるとサーバーとワーカーは停止する。
func Run(ctx context.Context, w io.Writer, args []string) error {
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
		slog.String("log_level", cfg.LogLevel),
	)

	switch cmd {
	case CommandServe:
		return runServe(ctx, cfg)
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

// newResultCache はREDIS_ADDRが設定されている場合にRedisキャッシュを生成する。
// 接続できない場合はnilを返し、キャッシュなしで動作する。
func newResultCache(ctx context.Context, cfg *config.Config) (*cache.RedisCache, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}

	c, err := cache.NewRedisCache(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		slog.Warn("Redisに接続できないため蔵書検索結果のキャッシュを無効にします",
			slog.String("redis_addr", cfg.RedisAddr),
			slog.String("error", err.Error()),
		)
		return nil, func() {}
	}

	slog.Info("availability cache enabled",
		slog.String("redis_addr", cfg.RedisAddr),
		slog.Duration("ttl", cfg.CalilCheckCacheTTL),
	)
	return c, func() { c.Close() }
}

// runServe はWebhookサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. 外部サービスクライアントの初期化
	apiClient := &http.Client{Timeout: cfg.HTTPTimeout}
	ssrfGuard := security.NewSSRFGuard()

	redisCache, closeCache := newResultCache(ctx, cfg)
	defer closeCache()

	// 型付きnilをインターフェースに入れないよう、接続できた場合のみ設定する
	var resultCache calil.ResultCache
	var cachePinger handler.CachePinger
	if redisCache != nil {
		resultCache = redisCache
		cachePinger = redisCache
	}

	calilClient := calil.NewClient(apiClient, slog.Default(), calil.Config{
		AppKey:            cfg.CalilAppKey,
		PollInterval:      cfg.CalilPollInterval,
		CheckTimeout:      cfg.CalilCheckTimeout,
		MaxPolls:          cfg.CalilMaxPolls,
		RequestsPerSecond: cfg.CalilRateLimit,
		CacheTTL:          cfg.CalilCheckCacheTTL,
	}, resultCache)

	lineClient := line.NewClient(apiClient, slog.Default(), cfg.LineChannelAccessToken, cfg.ContentMaxSize)
	contentLoader := line.NewContentLoader(
		lineClient,
		ssrfGuard.NewSafeClient(cfg.HTTPTimeout),
		ssrfGuard,
		cfg.ContentMaxSize,
	)

	// 4. 会話ディスパッチャーの初期化
	dispatcher := bot.NewDispatcher(bot.Deps{
		Store:     repository.NewPostgresUserStateRepo(db),
		Searcher:  calilClient,
		Checker:   calilClient,
		Content:   contentLoader,
		Decoder:   barcode.NewDecoder(),
		Replier:   lineClient,
		Sanitizer: security.NewTextSanitizer(),
		Metrics:   collector,
		Logger:    slog.Default(),
	})

	// 5. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.Rate = rate.Limit(cfg.WebhookRateLimit)
	rateLimiterCfg.Burst = cfg.WebhookRateBurst
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg, slog.Default())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger: slog.Default(),
		Webhook: handler.WebhookConfig{
			ChannelSecret: cfg.LineChannelSecret,
			Timeout:       cfg.WebhookTimeout,
		},
		Dispatcher:  dispatcher,
		Metrics:     collector,
		RateLimiter: rateLimiter,
		DB:          db,
		Cache:       cachePinger,
		Gatherer:    reg,
	})

	// 6. HTTPサーバーの起動
	// 書き込みタイムアウトはWebhookの処理時間の上限より長くする
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WebhookTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, "webhook server")
}

// serveUntilDone はHTTPサーバーを起動し、ctxがキャンセルされるとシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
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
// DB接続を開き、候補図書館のクリーンアップジョブを定期実行する。
// メトリクスはMETRICS_PORTで公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, collector, slog.Default())
	cleanupJob.CandidateTTL = cfg.CandidateTTL

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("candidate_ttl", cfg.CandidateTTL),
	)

	if err := superviseWorker(ctx, cleanupJob, cfg.CleanupInterval, metricsServer); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// periodicJob はctxがキャンセルされるまでintervalごとに処理を繰り返すジョブ。
type periodicJob interface {
	Start(ctx context.Context, interval time.Duration)
}

// superviseWorker はジョブとメトリクスサーバーを並行して動かす。
// メトリクスサーバーが起動に失敗した場合はジョブを止めてエラーを返す。
func superviseWorker(ctx context.Context, job periodicJob, interval time.Duration, metricsServer *http.Server) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsErr := make(chan error, 1)
	go func() {
		metricsErr <- serveUntilDone(ctx, metricsServer, "metrics server")
	}()

	jobDone := make(chan struct{})
	go func() {
		job.Start(ctx, interval)
		close(jobDone)
	}()

	select {
	case err := <-metricsErr:
		cancel()
		<-jobDone
		if err != nil {
			return fmt.Errorf("worker stopped: %w", err)
		}
		return nil
	case <-jobDone:
		cancel()
		return <-metricsErr
	}
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

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
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
