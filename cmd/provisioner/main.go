// Package main is the entry point for the provisioner API server and its
// embedded job worker.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pubwiki/provisioner/internal/bus"
	"github.com/pubwiki/provisioner/internal/config"
	"github.com/pubwiki/provisioner/internal/database"
	"github.com/pubwiki/provisioner/internal/handler"
	"github.com/pubwiki/provisioner/internal/middleware"
	"github.com/pubwiki/provisioner/internal/provision"
	"github.com/pubwiki/provisioner/internal/repository"
	"github.com/pubwiki/provisioner/internal/worker"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting provisioner",
		slog.String("listen_addr", cfg.ListenAddr),
		slog.String("instance", cfg.Wikifarm.Instance),
	)

	db, err := database.NewMySQL(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to MariaDB")

	if err := db.RunMigrations(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	eventBus := bus.New(redis.Client(), logger)

	tasks := repository.NewTaskRepository(db.DB())
	wikis := repository.NewWikiRepository(db.DB())
	perms := repository.NewPermissionRepository(db.DB())

	permsWriter := provision.NewPermissionsWriter(perms, cfg.Wikifarm.ConfigDir, logger)
	runner := provision.NewRunner(cfg.DockerHost, cfg.Wikifarm.Instance)
	orchestrator := provision.NewOrchestrator(cfg, db.DB(), eventBus, wikis, perms, permsWriter, runner, logger)

	// Background worker drains the job queue until shutdown.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	w := worker.New(cfg, eventBus, tasks, orchestrator, logger)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Run(workerCtx)
	}()

	wikiHandler := handler.NewWikiHandler(cfg, db.DB(), tasks, wikis, perms, eventBus, logger)
	eventHandler := handler.NewEventHandler(tasks, eventBus, logger)
	manageHandler := handler.NewManageHandler(wikis, perms, permsWriter, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics())

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/provisioner/v1", func(r chi.Router) {
		r.Get("/health", wikiHandler.Health)

		r.Get("/wikis", wikiHandler.ListFeatured)
		r.Get("/wikis/public", wikiHandler.ListPublic)
		r.Get("/wikis/slug/{slug}/exists", wikiHandler.CheckSlug)
		r.Get("/users/{user_id}/wikis", wikiHandler.ListUserWikis)
		r.Get("/tasks/{task_id}/events", eventHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Post("/wikis", wikiHandler.Create)
			r.Delete("/wikis/{slug}", wikiHandler.Delete)
		})
	})

	r.Route("/manage/v1/wikis/{slug}", func(r chi.Router) {
		r.Get("/permissions", manageHandler.GetPermissions)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Post("/permissions", manageHandler.SetPermissions)
			r.Put("/visibility", manageHandler.SetVisibility)
		})
	})

	// No WriteTimeout: SSE streams stay open until the task terminates.
	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", slog.String("error", err.Error()))
	}

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("Worker did not stop in time")
	}

	logger.Info("Shutdown complete")
}
