package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/auth"
	"github.com/ekaya-inc/substation-labeler/pkg/catalog"
	"github.com/ekaya-inc/substation-labeler/pkg/config"
	"github.com/ekaya-inc/substation-labeler/pkg/database"
	"github.com/ekaya-inc/substation-labeler/pkg/geo"
	"github.com/ekaya-inc/substation-labeler/pkg/handlers"
	"github.com/ekaya-inc/substation-labeler/pkg/logging"
	"github.com/ekaya-inc/substation-labeler/pkg/mapview"
	"github.com/ekaya-inc/substation-labeler/pkg/metrics"
	"github.com/ekaya-inc/substation-labeler/pkg/middleware"
	"github.com/ekaya-inc/substation-labeler/pkg/repositories"
	"github.com/ekaya-inc/substation-labeler/pkg/retry"
	"github.com/ekaya-inc/substation-labeler/pkg/services"
	"github.com/ekaya-inc/substation-labeler/pkg/shapefile"
	"github.com/ekaya-inc/substation-labeler/pkg/storage"
	"github.com/ekaya-inc/substation-labeler/pkg/uploadlog"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("redis", cfg.Redis.Host),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("strict_completion", cfg.Annotate.StrictCompletion))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	waitCfg := retry.DefaultConfig()
	waitCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("Dependency not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			logging.Error(err))
	}

	// Database
	db, err := retry.DoWithResult(ctx, waitCfg, func() (*database.DB, error) {
		return database.NewConnection(ctx, database.ConfigFrom(&cfg.Database))
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", logging.Error(err))
	}
	defer db.Close()

	if err := migrate(ctx, cfg, waitCfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", logging.Error(err))
	}

	// Upload status log: Redis when configured, in-process otherwise.
	var statusLog uploadlog.Store
	redisClient, err := retry.DoWithResult(ctx, waitCfg, func() (*redis.Client, error) {
		return database.NewRedisClient(ctx, &cfg.Redis)
	})
	switch {
	case err != nil:
		logger.Fatal("Failed to connect to Redis", logging.Error(err))
	case redisClient != nil:
		defer redisClient.Close()
		statusLog = uploadlog.NewRedisStore(redisClient, cfg.Annotate.UploadLogTTL)
		logger.Info("Upload status log backed by Redis", zap.String("addr", cfg.Redis.Addr()))
	default:
		statusLog = uploadlog.NewMemoryStore(cfg.Annotate.UploadLogTTL)
		logger.Info("Redis not configured, upload status log kept in memory")
	}

	bucket, err := storage.New(&cfg.Storage, logger.Named("storage"))
	if err != nil {
		logger.Fatal("Failed to initialize storage", logging.Error(err))
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Catalog and map scene builder
	cat := catalog.Default()
	builder := mapview.NewBuilder(cat, mapview.Options{
		DefaultCenter: geo.LatLng{cfg.Map.DefaultLat, cfg.Map.DefaultLng},
		DefaultZoom:   cfg.Map.DefaultZoom,
		PaddingPx:     cfg.Map.FitPaddingPx,
	})

	// Repositories
	entityRepo := repositories.NewEntityRepository()
	annotationRepo := repositories.NewAnnotationRepository()
	pointRepo := repositories.NewPointAnnotationRepository()

	// Services
	sessionService := services.NewSessionService(entityRepo, annotationRepo, cat, builder, m,
		services.SessionOptions{StrictCompletion: cfg.Annotate.StrictCompletion, TTL: cfg.Annotate.SessionTTL},
		logger)
	entityService := services.NewEntityService(entityRepo, annotationRepo, logger)
	uploadService := services.NewUploadService(bucket, shapefile.NewParser(), entityRepo, annotationRepo, statusLog, m, logger)
	exportService := services.NewExportService(entityRepo, annotationRepo, pointRepo, m, logger)
	pointService := services.NewPointAnnotationService(pointRepo, entityRepo, cat, logger)

	// Auth
	jwksClient, err := auth.NewJWKSClient(ctx, &cfg.Auth)
	if err != nil {
		logger.Fatal("Failed to initialize JWKS client", zap.Error(err))
	}
	defer jwksClient.Close()
	if !cfg.Auth.EnableVerification {
		logger.Warn("JWT signature verification is disabled")
	}
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, logger), logger)
	scope := handlers.ScopeMiddleware(database.WithScope(db, logger))

	mux := http.NewServeMux()

	// Public routes
	handlers.NewHealthHandler(cfg, db.Pool, logger).RegisterRoutes(mux)
	handlers.NewConfigHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewCatalogHandler(cat, builder, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", m.Handler())

	// Authenticated routes
	handlers.NewSessionHandler(sessionService, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewEntityHandler(entityService, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewUploadHandler(uploadService, cfg.Annotate.MaxUploadMB, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewExportHandler(exportService, logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewPointHandler(pointService, logger).RegisterRoutes(mux, authMiddleware, scope)

	// The local backend serves its own objects at the public base URL.
	if cfg.Storage.Backend == config.StorageBackendLocal {
		mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(cfg.Storage.LocalDir))))
	}

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger, m)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting substation-labeler",
			zap.String("addr", server.Addr),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func newLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if strings.EqualFold(env, "local") || strings.EqualFold(env, "dev") {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// migrate applies schema migrations over a database/sql handle, which
// golang-migrate requires.
func migrate(ctx context.Context, cfg *config.Config, waitCfg *retry.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := retry.DoIfRetryable(ctx, waitCfg, func() error { return sqlDB.PingContext(ctx) }); err != nil {
		return err
	}
	return database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger)
}
