package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-control/internal/config"
	"admission-control/internal/domain"
	"admission-control/internal/handler"
	"admission-control/internal/logger"
	"admission-control/internal/metrics"
	"admission-control/internal/middleware"
	"admission-control/internal/service"
	"admission-control/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	// Carregar configurações
	configLoader := config.NewConfigLoader()
	cfg, err := configLoader.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Inicializar logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	appLogger.Info("Starting Admission Control API", map[string]interface{}{
		"version":   "1.0.0",
		"log_level": cfg.LogLevel,
		"port":      cfg.ServerPort,
		"storage":   cfg.StorageType,
		"fail_open": cfg.FailOpen,
	})

	if structured, ok := appLogger.(*logger.StructuredLogger); ok {
		structured.LogConfigEvent("security_policy_loaded", map[string]interface{}{
			"policy_file":          cfg.SecurityPolicyFile,
			"rate_limits":          cfg.Security.RateLimits,
			"token_limits":         cfg.Security.TokenLimits,
			"escalation_actions":   cfg.Security.SuspiciousActivity.Actions,
			"escalation_threshold": cfg.Security.SuspiciousActivity.Threshold,
			"trusted_proxies":      cfg.TrustedProxies,
		})
	}

	appMetrics := metrics.New()

	// Inicializar storage
	storageConfig := storage.BuildStorageConfigFromEnv(
		cfg.StorageType,
		cfg.RedisHost,
		cfg.RedisPort,
		cfg.RedisPassword,
		cfg.RedisDB,
		cfg.RedisNamespace,
	)
	storageConfig.Breaker = &storage.BreakerConfig{
		MaxFailures: cfg.BreakerMaxFailures,
		Timeout:     cfg.BreakerTimeout,
	}

	store, err := storage.NewStorageFactory().CreateStorage(storageConfig, appLogger)
	if err != nil {
		appLogger.Error("Failed to create storage", err, nil)
		os.Exit(1)
	}
	defer store.Close()

	deps, sweeper, err := buildServices(cfg, store, appLogger, appMetrics)
	if err != nil {
		appLogger.Error("Failed to build services", err, nil)
		os.Exit(1)
	}

	// Inicializar handlers
	handlers := handler.NewHandlers(deps, appLogger)

	// Configurar Gin
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))

	if err := middleware.ConfigureClientIP(router, cfg.TrustedProxies); err != nil {
		appLogger.Error("Invalid trusted proxies", err, map[string]interface{}{"trusted_proxies": cfg.TrustedProxies})
		os.Exit(1)
	}

	handlers.SetupRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Sweeper roda até o shutdown
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(sweepCtx, cfg.SweepInterval, cfg.QuotaRetention)
	}()

	go func() {
		appLogger.Info("Starting HTTP server", map[string]interface{}{
			"port": cfg.ServerPort,
			"addr": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Failed to start server", err, nil)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	appLogger.Info("Admission Control API is running", map[string]interface{}{
		"port": cfg.ServerPort,
		"endpoints": []string{
			"GET    /health",
			"GET    /metrics",
			"POST   /v1/admission",
			"POST   /v1/suspicious",
			"GET    /v1/usage/:agentId",
			"GET    /api/ping          (api)",
			"POST   /agents/run        (agents)",
			"POST   /messages          (messages)",
			"GET    /admin/status/:identifier",
			"POST   /admin/reset",
			"POST   /admin/block",
			"POST   /admin/suspend",
			"POST   /admin/sweep",
		},
	})

	<-quit
	appLogger.Info("Shutting down server...", nil)

	stopSweeper()
	<-sweepDone

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", err, nil)
		os.Exit(1)
	}

	appLogger.Info("Server stopped gracefully", nil)
}

// buildServices liga os serviços de admissão ao store compartilhado
func buildServices(
	cfg *config.Config,
	store domain.KeyValueStore,
	appLogger domain.Logger,
	appMetrics *metrics.Metrics,
) (handler.Dependencies, *service.RetentionSweeper, error) {
	security := cfg.Security

	blocks := service.NewBlockListService(store, appLogger)
	suspensions := service.NewSuspensionService(store, appLogger, nil)
	monitoring := service.NewMonitoringService(store, appLogger, nil)
	alerts := service.NewAlertLogService(store, appLogger)

	dispatcher, err := service.NewEscalationDispatcher(
		security.SuspiciousActivity.Actions,
		service.NewActionRegistry(blocks, suspensions, alerts, monitoring),
		appLogger,
		appMetrics,
	)
	if err != nil {
		return handler.Dependencies{}, nil, err
	}

	limiter := service.NewSlidingWindowService(store, security, appLogger, appMetrics, nil)
	quota := service.NewQuotaService(store, security, appLogger, appMetrics, nil)
	monitor := service.NewActivityMonitorService(store, dispatcher, security, appLogger, appMetrics, nil)
	sweeper := service.NewRetentionSweeper(store, appLogger, appMetrics, nil)

	facade := service.NewAdmissionFacade(
		blocks, suspensions, limiter, quota, monitor,
		service.AdmissionOptions{CheckTimeout: cfg.CheckTimeout, FailOpen: cfg.FailOpen},
		appLogger,
		appMetrics,
	)

	return handler.Dependencies{
		Store:          store,
		Admission:      facade,
		Limiter:        limiter,
		Quota:          quota,
		Monitor:        monitor,
		Blocks:         blocks,
		Suspensions:    suspensions,
		Monitoring:     monitoring,
		Alerts:         alerts,
		Sweeper:        sweeper,
		Metrics:        appMetrics,
		QuotaRetention: cfg.QuotaRetention,
	}, sweeper, nil
}
