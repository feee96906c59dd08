package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/healthtrack/platform/pkg/common/config"
	"github.com/healthtrack/platform/pkg/common/database"
	"github.com/healthtrack/platform/pkg/common/kafka"
	"github.com/healthtrack/platform/pkg/common/logger"
	"github.com/healthtrack/platform/pkg/common/middleware"
	"github.com/healthtrack/platform/pkg/importer"
	"github.com/healthtrack/platform/pkg/observability/metrics"
	"github.com/healthtrack/platform/pkg/progress"
	"github.com/healthtrack/platform/pkg/storage"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()

	repo := storage.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate import tables")
	}

	redisClient := database.GetRedis()
	defer database.CloseRedis()
	tracker := progress.NewRedisTracker(redisClient, cfg.ProgressTTL)

	producer := kafka.NewProducer(cfg.ImportEventsTopic)
	defer producer.Close()

	svc, err := importer.NewServiceFromConfig(cfg, repo, importer.WithProgress(tracker), importer.WithEvents(producer))
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to build import service")
	}
	sweeper := importer.NewSweeper(repo, cfg.StaleImportAfter, tracker, producer)

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err == nil {
			err = redisClient.Ping(ctx).Err()
		}
		if err != nil {
			logger.Log.WithError(err).Warn("readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	importer.NewHTTPHandler(svc, cfg.MaxUploadBytes).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Import Service started")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(gctx, cfg.SweepInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Shutting down Import Service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Log.WithError(err).Error("Import Service stopped with error")
		return
	}
	logger.Log.Info("Import Service stopped")
}
