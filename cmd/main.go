package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"catalog-specs-service/internal/api"
	"catalog-specs-service/internal/attrvalue"
	"catalog-specs-service/internal/config"
	"catalog-specs-service/internal/filterimport"
	"catalog-specs-service/internal/jobs"
	"catalog-specs-service/internal/logging"
	"catalog-specs-service/internal/matching"
	"catalog-specs-service/internal/store"
	"catalog-specs-service/internal/store/memstore"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: error building logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	logger.Info("starting service", zap.String("app_env", cfg.AppEnv), zap.String("store_driver", cfg.Store.Driver))

	// --- Store ---
	st, db, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}

	// --- Services ---
	runner := jobs.NewRunner(jobs.Config{Concurrency: cfg.Jobs.Concurrency, Timeout: cfg.Jobs.Timeout}, logger, jobs.FailRun(st, logger))
	engine := matching.NewEngine(st, logger, matching.EngineConfig{
		StagingCategoryID:      cfg.Match.StagingCategoryID,
		NumberConflictStrategy: attrvalue.ConflictStrategy(cfg.Match.NumberConflictStrategy),
	})
	svc := api.NewService(st, engine, filterimport.NewService(st, logger), runner, logger)

	// --- HTTP Server ---
	httpHandler := api.NewHTTPHandler(svc)
	if db != nil {
		httpHandler.AddHealthCheck("database", db.PingContext)
	}
	httpRouter := chi.NewRouter()
	setupBaseMiddleware(httpRouter, logger)
	httpHandler.RegisterRoutes(httpRouter)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HttpServer.Port,
		Handler:      httpRouter,
		ReadTimeout:  cfg.HttpServer.TimeoutRead,
		WriteTimeout: cfg.HttpServer.TimeoutWrite,
		IdleTimeout:  cfg.HttpServer.TimeoutIdle,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.HttpServer.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe error", zap.Error(err))
		}
		logger.Info("HTTP server has stopped")
	}()

	// --- gRPC Server ---
	grpcServer := setupGRPCServer(logger, api.NewGRPCHandler(svc))
	grpcListener, err := net.Listen("tcp", ":"+cfg.GrpcServer.Port)
	if err != nil {
		logger.Fatal("failed to listen for gRPC", zap.String("port", cfg.GrpcServer.Port), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("port", cfg.GrpcServer.Port))
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Fatal("gRPC server Serve error", zap.Error(err))
		}
		logger.Info("gRPC server has stopped")
	}()

	// --- Graceful Shutdown ---
	shutdownComplete := make(chan struct{})
	go waitForShutdown(logger, httpServer, grpcServer, runner, db, shutdownComplete)

	<-shutdownComplete
	logger.Info("service shutdown sequence finished")
}

// openStore returns the configured store. db is nil for the memory driver.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, *sql.DB, error) {
	if cfg.Store.Driver == config.DriverMemory {
		logger.Warn("using the in-memory store; data is lost on restart")
		return memstore.New(), nil, nil
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	if cfg.Postgres.AutoMigrate {
		if err := store.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("database schema applied")
	}
	logger.Info("database connection established",
		zap.String("host", cfg.Postgres.Host),
		zap.String("dbname", cfg.Postgres.DBName),
		zap.Int("max_open_conns", cfg.Postgres.MaxOpenConns))
	return store.NewPostgresStore(db), db, nil
}

func setupBaseMiddleware(router *chi.Mux, logger *zap.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(logging.RequestLogger(logger.Named("http")))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
}

func setupGRPCServer(logger *zap.Logger, handler *api.GRPCHandler) *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(logging.UnaryServerInterceptor(logger.Named("grpc"))))

	api.RegisterSpecsMatchServer(s, handler)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(api.SpecsMatchServiceDesc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(s, healthServer)

	// Enable gRPC server reflection (useful for tools like grpcurl).
	reflection.Register(s)
	return s
}

func waitForShutdown(
	logger *zap.Logger,
	httpServer *http.Server,
	grpcServer *grpc.Server,
	runner *jobs.Runner,
	db *sql.DB,
	shutdownComplete chan struct{},
) {
	defer close(shutdownComplete)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	receivedSignal := <-sigChan
	logger.Info("received signal, starting graceful shutdown", zap.String("signal", receivedSignal.String()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	stoppedGrpc := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedGrpc)
	}()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		logger.Info("HTTP server gracefully shut down")
	}

	select {
	case <-stoppedGrpc:
		logger.Info("gRPC server gracefully shut down")
	case <-shutdownCtx.Done():
		logger.Warn("gRPC server graceful shutdown timed out, forcing stop", zap.Error(shutdownCtx.Err()))
		grpcServer.Stop()
	}

	// Runs still executing when the deadline hits are cancelled and marked failed.
	if err := runner.Wait(shutdownCtx); err != nil {
		logger.Warn("background runs were cancelled", zap.Error(err))
	} else {
		logger.Info("background runs drained")
	}

	if db != nil {
		if err := db.Close(); err != nil {
			logger.Warn("error closing database connection", zap.Error(err))
		}
	}
}
