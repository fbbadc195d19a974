package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/xela07ax/assetdesk/internal/audit"
	"github.com/xela07ax/assetdesk/internal/console/handler"
	"github.com/xela07ax/assetdesk/internal/console/server"
	"github.com/xela07ax/assetdesk/internal/console/service"
	"github.com/xela07ax/assetdesk/internal/infra"
	"github.com/xela07ax/assetdesk/internal/infra/auth"
	"github.com/xela07ax/assetdesk/internal/metrics"
	"github.com/xela07ax/assetdesk/internal/provider"
	"github.com/xela07ax/assetdesk/internal/repository/postgres"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("console stopped with error", zap.Error(err))
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст жизни фоновых горутин, отменяется по SIGINT/SIGTERM
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Инфраструктура: миграции, пул Postgres, Redis
	if cfg.Database.MigrateOnBoot {
		if err := postgres.RunMigrations(cfg.Database.URL, cfg.Database.Schema, logger); err != nil {
			return err
		}
	}

	initCtx, cancel := context.WithTimeout(appCtx, 10*time.Second)
	pool, err := postgres.InitDB(initCtx, postgres.PoolConfig{
		URL:      cfg.Database.URL,
		Schema:   cfg.Database.Schema,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}, logger)
	cancel()
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(appCtx).Err(); err != nil {
		// Без Redis консоль работает: блокировку регистрации страхует уникальный индекс, сигналы агентам best-effort
		logger.Warn("redis unreachable, locks and wake-up signals degraded", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	// 2. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	// 3. Аутентификация операторов
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return err
	}
	validator := auth.NewRSAValidator(pubKey)

	// 4. Репозитории, провайдер, аудит
	remoteRepo := postgres.NewRemoteRepo(pool)
	deviceRepo := postgres.NewDeviceRepo(pool)
	commandRepo := postgres.NewCommandRepo(pool)

	providerClient := provider.NewClient(provider.Config{
		BaseURL:       cfg.Provider.BaseURL,
		APIKey:        cfg.Provider.APIKey,
		APISecret:     cfg.Provider.APISecret,
		Timeout:       cfg.Provider.Timeout,
		RateLimit:     cfg.Provider.RateLimit,
		RateBurst:     cfg.Provider.RateBurst,
		CBMaxRequests: cfg.Provider.CBMaxRequests,
		CBInterval:    cfg.Provider.CBInterval,
		CBTimeout:     cfg.Provider.CBTimeout,
		CBFailures:    cfg.Provider.CBFailures,
	}, m, logger)

	recorder := audit.NewRecorder(postgres.NewAuditRepo(pool), audit.Config{
		BufferSize:    cfg.Audit.BufferSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, m, logger)
	recorder.Start()
	defer recorder.Stop()

	locker := service.NewRedisLocker(rdb)

	// 5. Сервисы
	remoteSvc := service.NewRemoteService(service.RemoteDeps{
		Store:    remoteRepo,
		Devices:  deviceRepo,
		Provider: providerClient,
		Locker:   locker,
		Auditor:  recorder,
		Metrics:  m,
	}, logger)

	commandSvc := service.NewCommandService(service.CommandDeps{
		Queue:    commandRepo,
		Inbox:    commandRepo,
		Devices:  deviceRepo,
		Notifier: service.NewRedisNotifier(rdb),
		Auditor:  recorder,
		Metrics:  m,
	}, logger)

	sweeper := service.NewSweeper(commandRepo, locker, cfg.Commands.PendingTTL, cfg.Commands.SweepInterval, m, logger)
	go sweeper.Run(appCtx)

	// 6. Метрики и health probe
	metricsSrv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	go watchDatabase(appCtx, pool, healthSrv, logger)

	lis, err := net.Listen("tcp", cfg.Health.Addr)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("health probe started", zap.String("addr", cfg.Health.Addr))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("health probe failed", zap.Error(err))
		}
	}()

	// 7. HTTP API
	api := server.NewConsoleServer(logger, validator,
		handler.NewRemoteHandler(remoteSvc, logger),
		handler.NewCommandHandler(commandSvc, logger),
		handler.NewInboxHandler(commandSvc, logger),
	)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-appCtx.Done():
		logger.Info("console stopping...")
	case err := <-serveErr:
		return err
	}

	// 8. Graceful Shutdown: 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	healthSrv.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	logger.Info("console exited properly")
	return nil
}

// watchDatabase переводит health probe в NOT_SERVING, пока Postgres недоступен.
func watchDatabase(ctx context.Context, pool *pgxpool.Pool, hs *health.Server, logger *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := healthpb.HealthCheckResponse_SERVING
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := pool.Ping(pingCtx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if last != status {
				logger.Warn("database unreachable", zap.Error(err))
			}
		}
		cancel()
		if status != last {
			hs.SetServingStatus("", status)
			last = status
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
