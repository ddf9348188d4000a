// Package worker drains the provisioning job queue and drives the pipeline
// for each dequeued job.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pubwiki/provisioner/internal/bus"
	"github.com/pubwiki/provisioner/internal/config"
	"github.com/pubwiki/provisioner/internal/events"
	"github.com/pubwiki/provisioner/internal/provision"
	"github.com/pubwiki/provisioner/internal/repository"
)

const dequeueTimeout = 5 * time.Second

var (
	jobsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioner_jobs_dropped_total",
		Help: "Total number of malformed jobs dropped from the queue",
	})

	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioner_jobs_total",
		Help: "Total number of provisioning jobs processed by outcome",
	}, []string{"outcome"})
)

// Owner identifies the requesting user inside a job payload.
type Owner struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
}

// Job is the queued provisioning request. The payload is produced by the
// create handler and consumed here; both sides must agree on the shape.
type Job struct {
	TaskID     string `json:"task_id"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	Language   string `json:"language"`
	Visibility string `json:"visibility"`
	Owner      Owner  `json:"owner"`
}

// Provisioner is the pipeline surface the worker drives. Satisfied by
// provision.Orchestrator.
type Provisioner interface {
	Run(ctx context.Context, pc *provision.Context) (uint64, error)
	Rollback(ctx context.Context, pc *provision.Context)
}

// Worker processes one job at a time. Provisioning touches a single shared
// container and database, so there is nothing to gain from concurrency here.
type Worker struct {
	cfg            *config.Config
	bus            *bus.Bus
	tasks          repository.TaskRepository
	prov           Provisioner
	logger         *slog.Logger
	dequeueTimeout time.Duration
}

// New creates a worker.
func New(cfg *config.Config, b *bus.Bus, tasks repository.TaskRepository, prov Provisioner, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:            cfg,
		bus:            b,
		tasks:          tasks,
		prov:           prov,
		logger:         logger,
		dequeueTimeout: dequeueTimeout,
	}
}

// Run loops until ctx is canceled. Errors are logged and the loop continues;
// the queue must keep draining no matter what a single job does.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		if err := w.processOne(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopped")
				return
			}
			w.logger.Error("worker iteration failed", slog.String("error", err.Error()))
		}
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return
		}
	}
}

func (w *Worker) processOne(ctx context.Context) error {
	payload, ok, err := w.bus.DequeueJob(ctx, w.dequeueTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		// A payload that cannot be parsed would fail forever on retry;
		// drop it and account for it.
		jobsDropped.Inc()
		w.logger.Error("dropping malformed job",
			slog.String("payload", string(payload)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	log := w.logger.With(slog.String("task_id", job.TaskID), slog.String("slug", job.Slug))
	log.Info("dequeued provisioning job", slog.String("name", job.Name))

	if err := w.tasks.MarkRunning(ctx, job.TaskID); err != nil {
		log.Warn("failed to mark task running", slog.String("error", err.Error()))
	}

	wikiID, err := w.runJob(ctx, &job)
	if err != nil {
		jobsProcessed.WithLabelValues("failed").Inc()
		msg := "provision error: " + err.Error()
		log.Warn("provisioning failed", slog.String("error", err.Error()))
		if dbErr := w.tasks.MarkFailed(ctx, job.TaskID, msg); dbErr != nil {
			log.Error("failed to mark task failed", slog.String("error", dbErr.Error()))
		}
		return w.bus.Publish(ctx, job.TaskID, events.Status{
			Status:  events.StateFailed,
			Message: msg,
		})
	}

	jobsProcessed.WithLabelValues("succeeded").Inc()
	log.Info("provisioning succeeded", slog.Uint64("wiki_id", wikiID))
	if dbErr := w.tasks.MarkSucceeded(ctx, job.TaskID, wikiID); dbErr != nil {
		log.Error("failed to mark task succeeded", slog.String("error", dbErr.Error()))
	}
	return w.bus.Publish(ctx, job.TaskID, events.Status{
		Status: events.StateSucceeded,
		WikiID: &wikiID,
	})
}

func (w *Worker) runJob(ctx context.Context, job *Job) (uint64, error) {
	// The database password never leaves the rendered ini file.
	password := strings.ReplaceAll(uuid.New().String(), "-", "")

	pc := &provision.Context{
		TaskID:        job.TaskID,
		Name:          job.Name,
		Slug:          job.Slug,
		Language:      job.Language,
		Visibility:    job.Visibility,
		OwnerUserID:   job.Owner.ID,
		OwnerUsername: job.Owner.Username,
		TargetDir:     filepath.Join(w.cfg.Wikifarm.Dir, job.Slug),
		DBName:        job.Slug,
		DBUser:        job.Slug,
		DBPassword:    password,
	}

	wikiID, err := w.prov.Run(ctx, pc)
	if err == nil {
		return wikiID, nil
	}

	if w.cfg.DisableRollback {
		w.logger.Warn("rollback disabled, leaving partial state",
			slog.String("task_id", job.TaskID),
			slog.String("slug", job.Slug),
		)
		return 0, err
	}
	w.prov.Rollback(ctx, pc)
	return 0, err
}
