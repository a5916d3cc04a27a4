package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appdelivery "github.com/storefront/backend/internal/application/delivery"
	"github.com/storefront/backend/internal/infrastructure/cache"
	"github.com/storefront/backend/internal/infrastructure/carrier"
	"github.com/storefront/backend/internal/infrastructure/config"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/infrastructure/messaging"
	"github.com/storefront/backend/internal/infrastructure/persistence"
	"github.com/storefront/backend/internal/infrastructure/telemetry"
	"github.com/storefront/backend/internal/infrastructure/vault"
	"github.com/storefront/backend/internal/interfaces/http/handler"
	"github.com/storefront/backend/internal/interfaces/http/middleware"
	"github.com/storefront/backend/internal/interfaces/http/router"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting delivery dispatch service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx := context.Background()

	// Telemetry
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	meter := meterProvider.Meter(cfg.Telemetry.ServiceName)

	dispatchMetrics, err := telemetry.NewDispatchMetrics(meter, log)
	if err != nil {
		log.Fatal("Failed to create dispatch metrics", zap.Error(err))
	}

	// Database
	dbTracing := telemetry.DefaultDBTracingConfig()
	dbTracing.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled
	dbTracing.LogFullSQL = cfg.Telemetry.DBLogFullSQL
	dbTracing.SlowQueryThresh = cfg.Telemetry.DBSlowQueryThresh
	dbTracing.DBSystem = telemetry.DBSystemForDriver(cfg.Database.Driver)

	db, err := persistence.NewDatabase(&cfg.Database,
		persistence.WithLogger(log),
		persistence.WithTracing(telemetry.NewDBTracingPlugin(dbTracing, log)),
	)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if cfg.Database.Driver == config.DriverSQLite {
		if err := db.AutoMigrate(); err != nil {
			log.Fatal("Failed to migrate sqlite schema", zap.Error(err))
		}
	}
	log.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))

	// Repositories
	companyRepo := persistence.NewGormDeliveryCompanyRepository(db.DB)
	orderRepo := persistence.NewGormDeliveryOrderRepository(db.DB)
	snapshotProvider := persistence.NewGormOrderSnapshotProvider(db.DB)

	// Credential vault
	masterKey := cfg.Vault.MasterKey
	if masterKey == "" {
		// development only, config validation rejects this in production
		masterKey, err = vault.GenerateMasterKey()
		if err != nil {
			log.Fatal("Failed to generate vault master key", zap.Error(err))
		}
		log.Warn("vault.master_key not set, using an ephemeral key. Stored credentials will not survive a restart.")
	}
	credentialVault, err := vault.New(masterKey, companyRepo, log)
	if err != nil {
		log.Fatal("Failed to initialize credential vault", zap.Error(err))
	}

	// Dispatch lock
	lock, err := cache.NewDispatchLockFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(!cfg.Delivery.RequireRedisLock),
	).CreateLock(cfg.Delivery.LockBackend)
	if err != nil {
		log.Fatal("Failed to create dispatch lock", zap.Error(err))
	}
	defer func() { _ = lock.Close() }()

	// Carrier adapters
	carrierCfg := carrier.DefaultConfig()
	carrierCfg.Timeout = cfg.Delivery.AdapterTimeout
	carrierCfg.MaxResponseBytes = cfg.Delivery.MaxResponseBytes
	carrierCfg.RateLimit = cfg.Delivery.RateLimit
	carrierCfg.RateBurst = cfg.Delivery.RateBurst
	carrierCfg.JSONRPCMethod = cfg.Delivery.JSONRPCMethod
	carrierCfg.SOAPNamespace = cfg.Delivery.SOAPNamespace
	carrierCfg.SOAPAction = cfg.Delivery.SOAPAction
	if cfg.Delivery.GraphQLMutation != "" {
		carrierCfg.GraphQLMutation = cfg.Delivery.GraphQLMutation
	}
	adapters, err := carrier.NewDefaultRegistry(carrierCfg)
	if err != nil {
		log.Fatal("Failed to build carrier adapters", zap.Error(err))
	}
	log.Info("Carrier adapters registered", zap.Any("api_formats", adapters.Formats()))

	// Attempt events
	var publisher messaging.AttemptPublisher = messaging.NoopAttemptPublisher{}
	if cfg.Kafka.Enabled {
		kafkaPublisher, err := messaging.NewKafkaAttemptPublisher(messaging.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, log)
		if err != nil {
			log.Fatal("Failed to create Kafka publisher", zap.Error(err))
		}
		publisher = kafkaPublisher
		log.Info("Publishing attempt events to Kafka", zap.String("topic", cfg.Kafka.Topic))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error("Error closing event publisher", zap.Error(err))
		}
	}()

	dispatchService := appdelivery.NewDispatchService(
		companyRepo,
		orderRepo,
		snapshotProvider,
		credentialVault,
		adapters,
		lock,
		appdelivery.Config{
			AdapterTimeout: cfg.Delivery.AdapterTimeout,
			LockTTL:        cfg.Delivery.LockTTL,
		},
		appdelivery.WithLogger(log),
		appdelivery.WithEventPublisher(publisher),
		appdelivery.WithMetrics(dispatchMetrics),
	)

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Fatal("Invalid trusted proxies", zap.Error(err))
	}
	middleware.SetupValidator()

	httpMetrics, err := middleware.HTTPMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create HTTP metrics", zap.Error(err))
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.HTTP.AllowOrigins
	securityCfg := middleware.DefaultSecurityConfig()
	securityCfg.HSTSEnabled = cfg.App.Env == "production"

	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		logger.GinMiddleware(log),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		}),
		middleware.SpanAttributes(),
		httpMetrics,
		middleware.SecureWithConfig(securityCfg),
		middleware.CORSWithConfig(corsCfg),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)
	if cfg.HTTP.RateLimit > 0 {
		engine.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst)))
	}
	engine.Use(middleware.Timeout(cfg.HTTP.RequestTimeout))

	systemHandler := handler.NewSystemHandler(version).
		AddCheck("database", func(context.Context) error { return db.Ping() })
	engine.GET("/health", systemHandler.Health)

	router.NewRouter(engine, router.WithAPIVersion("v1")).
		Register(router.NewDeliveryRoutes(handler.NewDeliveryHandler(dispatchService))).
		Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// in-flight carrier calls are bounded by the adapter timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Delivery.AdapterTimeout+15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracer provider shutdown failed", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Meter provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
