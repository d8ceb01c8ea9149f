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

	"github.com/hitoshi/luckywheel/internal/auth"
	"github.com/hitoshi/luckywheel/internal/config"
	"github.com/hitoshi/luckywheel/internal/database"
	"github.com/hitoshi/luckywheel/internal/donehub"
	"github.com/hitoshi/luckywheel/internal/handler"
	"github.com/hitoshi/luckywheel/internal/ledger"
	"github.com/hitoshi/luckywheel/internal/logger"
	"github.com/hitoshi/luckywheel/internal/metrics"
	"github.com/hitoshi/luckywheel/internal/middleware"
	"github.com/hitoshi/luckywheel/internal/policy"
	"github.com/hitoshi/luckywheel/internal/profilecache"
	"github.com/hitoshi/luckywheel/internal/repository"
	"github.com/hitoshi/luckywheel/internal/reward"
	"github.com/hitoshi/luckywheel/internal/worker"
	"github.com/hitoshi/luckywheel/internal/worker/cleanup"
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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
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
	sessionRepo := repository.NewPostgresSessionRepo(db)
	signRepo := repository.NewPostgresSignRepo(db)
	lotteryRepo := repository.NewPostgresLotteryRepo(db)
	purchaseRepo := repository.NewPostgresPurchaseRepo(db)

	// 3. 台帳と抽選ポリシーの初期化
	ledgerStore := ledger.NewStore(signRepo, lotteryRepo, purchaseRepo)

	drawer, err := policy.NewDrawer(
		cfg.SignRewardMin, cfg.SignRewardMax,
		cfg.LotteryOptions, cfg.LotteryWeights,
	)
	if err != nil {
		return fmt.Errorf("failed to build lottery policy: %w", err)
	}

	// 4. DoneHubクライアントの初期化とトークン確認
	donehubClient := donehub.NewClient(
		&http.Client{Timeout: cfg.DoneHubTimeout},
		slog.Default(),
		cfg.DoneHubBaseURL,
		cfg.DoneHubAccessToken,
	)

	// トークン不備は起動を止めず、警告に留める。
	// DoneHub側の一時障害で起動できなくなるのを避ける。
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DoneHubTimeout)
	if self, err := donehubClient.GetSelf(ctx); err != nil {
		slog.Warn("DoneHub access token verification failed",
			slog.String("error", err.Error()),
		)
	} else {
		slog.Info("DoneHub access token verified",
			slog.Int64("account_id", self.ID),
		)
	}
	cancel()

	// 5. メトリクスとオーケストレーターの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	profileCache := profilecache.New(cfg.ProfileCacheTTL)

	rewardService := reward.NewService(
		ledgerStore, donehubClient, profileCache, drawer, collector, slog.Default(),
		reward.Options{
			CurrencyUnit:       cfg.CurrencyUnit,
			LotteryCost:        cfg.LotteryCost,
			MaxDailySpins:      cfg.LotteryMaxDailySpins,
			ExtraPurchaseCost:  cfg.ExtraPurchaseCost,
			ExtraPurchaseLimit: cfg.ExtraPurchaseLimit,
		},
	)

	// 6. 認証サービスの初期化
	oauthProvider := auth.NewLinuxDoOAuthProvider(auth.LinuxDoOAuthConfig{
		ClientID:     cfg.LinuxDoClientID,
		ClientSecret: cfg.LinuxDoClientSecret,
		RedirectURL:  cfg.LinuxDoRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, sessionRepo,
		auth.ServiceConfig{
			SessionMaxAge:      cfg.SessionMaxAge,
			RefreshDisplayName: cfg.RefreshDisplayName,
		},
	)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigFromPerMinute(cfg.RateLimitGeneral, cfg.RateLimitSpin),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		RewardService: rewardService,
		UserFinder:    userRepo,
	})

	// /metricsはセッション認証の外でPrometheusスクレイプに公開する
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	mux.Handle("/", router)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
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
// DB接続を開き、クリーンアップジョブのスケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. ジョブの登録
	scheduler := worker.NewScheduler(slog.Default())
	scheduler.Register("cleanup", cleanup.NewCleanupJob(db, slog.Default()))

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting")

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, 24*time.Hour)

	slog.Info("worker stopped gracefully")
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
