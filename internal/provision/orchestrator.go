package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pubwiki/provisioner/internal/bus"
	"github.com/pubwiki/provisioner/internal/config"
	"github.com/pubwiki/provisioner/internal/events"
	"github.com/pubwiki/provisioner/internal/models"
	apierrors "github.com/pubwiki/provisioner/internal/pkg/apierrors"
	"github.com/pubwiki/provisioner/internal/repository"
	"github.com/pubwiki/provisioner/internal/validate"
)

// stepKind identifies a completed pipeline step for rollback. Steps past the
// wiki row insert are not undone individually: once the row exists the docker
// phases are idempotent against a rerun and the db/fs teardown removes their
// output wholesale.
type stepKind int

const (
	stepFsDir stepKind = iota
	stepIniWritten
	stepDBProvisioned
	stepInsertWiki
	stepWritePermissions
	stepDockerInstalled
	stepDockerIndexCfg
	stepBootstrapFlipped
	stepIndexedNoLinks
	stepIndexedNoParse
	stepRebuildData
)

type step struct {
	kind   stepKind
	wikiID uint64
}

// ownerGroups are granted to the creator on the freshly installed wiki.
var ownerGroups = []string{"bureaucrat", "translator", "sysop"}

var (
	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provisioner_phase_duration_seconds",
		Help:    "Duration of provisioning pipeline phases",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioner_rollbacks_total",
		Help: "Total number of rollback walks executed",
	})
)

// Context carries one provisioning run. The step stack records completed
// side effects so Rollback can unwind exactly what happened.
type Context struct {
	TaskID        string
	Name          string
	Slug          string
	Language      string
	Visibility    string
	OwnerUserID   uint64
	OwnerUsername string

	TargetDir  string
	DBName     string
	DBUser     string
	DBPassword string

	steps []step
}

// Orchestrator sequences the provisioning pipeline for one wiki at a time.
type Orchestrator struct {
	cfg    *config.Config
	db     *sqlx.DB
	bus    *bus.Bus
	wikis  repository.WikiRepository
	perms  repository.PermissionRepository
	writer *PermissionsWriter
	runner Runner
	logger *slog.Logger
}

// NewOrchestrator wires the pipeline dependencies.
func NewOrchestrator(
	cfg *config.Config,
	db *sqlx.DB,
	b *bus.Bus,
	wikis repository.WikiRepository,
	perms repository.PermissionRepository,
	writer *PermissionsWriter,
	runner Runner,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		db:     db,
		bus:    b,
		wikis:  wikis,
		perms:  perms,
		writer: writer,
		runner: runner,
		logger: logger,
	}
}

func (o *Orchestrator) progress(ctx context.Context, pc *Context, phase events.Phase, message string) {
	ev := events.Progress{Status: events.StateRunning, Message: message, Phase: phase}
	if err := o.bus.Publish(ctx, pc.TaskID, ev); err != nil {
		o.logger.Warn("failed to publish progress",
			slog.String("task_id", pc.TaskID),
			slog.String("phase", string(phase)),
			slog.String("error", err.Error()),
		)
	}
}

// phase announces a pipeline phase, runs it, and records its duration.
func (o *Orchestrator) phase(ctx context.Context, pc *Context, ph events.Phase, message string, fn func() error) error {
	o.progress(ctx, pc, ph, message)
	start := time.Now()
	err := fn()
	phaseDuration.WithLabelValues(string(ph)).Observe(time.Since(start).Seconds())
	return err
}

// Run executes the pipeline and returns the new wiki ID. On error the caller
// owns the context and decides whether to Rollback.
func (o *Orchestrator) Run(ctx context.Context, pc *Context) (uint64, error) {
	log := o.logger.With(slog.String("slug", pc.Slug), slog.String("task_id", pc.TaskID))
	log.Info("provision run started", slog.String("name", pc.Name))

	if err := o.phase(ctx, pc, events.PhaseDirCopy, "symlink template", func() error {
		return MaterializeTemplate(o.cfg.Wikifarm.Template, pc.TargetDir)
	}); err != nil {
		return 0, err
	}
	pc.steps = append(pc.steps, step{kind: stepFsDir})

	ini := &WikiINI{
		Name:       pc.Name,
		Slug:       pc.Slug,
		Language:   pc.Language,
		DBName:     pc.DBName,
		DBUser:     pc.DBUser,
		DBPassword: pc.DBPassword,
	}
	if err := o.phase(ctx, pc, events.PhaseRenderINI, "render ini", func() error {
		if err := RenderWikiINI(o.cfg.Wikifarm.ConfigDir, &o.cfg.Wikifarm, ini, true); err != nil {
			return err
		}
		return WriteSlugMarker(pc.TargetDir, pc.Slug)
	}); err != nil {
		return 0, err
	}
	pc.steps = append(pc.steps, step{kind: stepIniWritten})

	if err := o.phase(ctx, pc, events.PhaseDBProvision, "db provision", func() error {
		return ProvisionDB(ctx, o.db, pc.DBName, pc.DBUser, pc.DBPassword, o.cfg.Wikifarm.SharedDBName)
	}); err != nil {
		return 0, err
	}
	pc.steps = append(pc.steps, step{kind: stepDBProvisioned})

	log.Debug("insert wiki row")
	wikiID, err := o.wikis.Insert(ctx, &models.Wiki{
		Name:          pc.Name,
		Slug:          pc.Slug,
		Language:      pc.Language,
		OwnerUserID:   pc.OwnerUserID,
		OwnerUsername: []byte(pc.OwnerUsername),
		Visibility:    pc.Visibility,
		Status:        models.WikiStatusReady,
	})
	if err != nil {
		return 0, apierrors.NewDBError(err)
	}
	pc.steps = append(pc.steps, step{kind: stepInsertWiki, wikiID: wikiID})

	if err := o.applyDefaultPermissions(ctx, wikiID, pc.Slug); err != nil {
		return 0, err
	}
	pc.steps = append(pc.steps, step{kind: stepWritePermissions, wikiID: wikiID})

	if err := o.phase(ctx, pc, events.PhaseDockerInstall, "install site", func() error {
		return o.runner.Exec(ctx, []string{"php", "maintenance/run", "installPreConfigured"}, pc.TargetDir)
	}); err != nil {
		return 0, err
	}
	pc.steps = append(pc.steps, step{kind: stepDockerInstalled})

	if err := o.phase(ctx, pc, events.PhaseDockerIdxCfg, "update search index config", func() error {
		return o.runner.Exec(ctx, []string{
			"php", "maintenance/run",
			"./extensions/CirrusSearch/maintenance/UpdateSearchIndexConfig.php",
		}, pc.TargetDir)
	}); err != nil {
		return 0, err
	}
	pc.steps = append(pc.steps, step{kind: stepDockerIndexCfg})

	if err := o.phase(ctx, pc, events.PhaseFlipBootstrap, "flip bootstrap", func() error {
		return RenderWikiINI(o.cfg.Wikifarm.ConfigDir, &o.cfg.Wikifarm, ini, false)
	}); err != nil {
		return 0, err
	}
	pc.steps = append(pc.steps, step{kind: stepBootstrapFlipped})

	if err := o.phase(ctx, pc, events.PhaseIndex, "initial index", func() error {
		if err := o.runner.Exec(ctx, []string{
			"php", "maintenance/run",
			"./extensions/CirrusSearch/maintenance/ForceSearchIndex.php",
			"--skipLinks", "--indexOnSkip",
		}, pc.TargetDir); err != nil {
			return err
		}
		pc.steps = append(pc.steps, step{kind: stepIndexedNoLinks})

		if err := o.runner.Exec(ctx, []string{
			"php", "maintenance/run",
			"./extensions/CirrusSearch/maintenance/ForceSearchIndex.php",
			"--skipParse",
		}, pc.TargetDir); err != nil {
			return err
		}
		pc.steps = append(pc.steps, step{kind: stepIndexedNoParse})

		if err := o.runner.Exec(ctx, []string{
			"php", "maintenance/run",
			"./extensions/SemanticMediaWiki/maintenance/rebuildData.php",
		}, pc.TargetDir); err != nil {
			return err
		}
		pc.steps = append(pc.steps, step{kind: stepRebuildData})
		return nil
	}); err != nil {
		return 0, err
	}

	if err := o.grantOwnerGroups(ctx, pc); err != nil {
		return 0, err
	}

	log.Info("provision run finished", slog.Uint64("wiki_id", wikiID))
	return wikiID, nil
}

// applyDefaultPermissions loads <template>/permissions.json and applies it to
// the new wiki.
func (o *Orchestrator) applyDefaultPermissions(ctx context.Context, wikiID uint64, slug string) error {
	path := filepath.Join(o.cfg.Wikifarm.Template, "permissions.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return apierrors.NewFSError(fmt.Errorf("read %s: %w", path, err))
	}
	var doc PermissionsDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return apierrors.NewFSError(fmt.Errorf("parse %s: %w", path, err))
	}
	return o.writer.Apply(ctx, wikiID, slug, &doc)
}

// grantOwnerGroups gives the creator elevated rights on the new wiki. The
// schema name cannot be parameterized, so it is re-validated and inlined.
// INSERT IGNORE keeps a rerun from failing on duplicates.
func (o *Orchestrator) grantOwnerGroups(ctx context.Context, pc *Context) error {
	if err := validate.Identifier(pc.DBName); err != nil {
		return err
	}
	query := "INSERT IGNORE INTO `" + pc.DBName + "`.user_groups (ug_user, ug_group) VALUES (?, ?), (?, ?), (?, ?)"
	_, err := o.db.ExecContext(ctx, query,
		pc.OwnerUserID, ownerGroups[0],
		pc.OwnerUserID, ownerGroups[1],
		pc.OwnerUserID, ownerGroups[2],
	)
	if err != nil {
		return apierrors.NewDBError(fmt.Errorf("grant owner groups: %w", err))
	}
	return nil
}

// Rollback unwinds completed steps in reverse. Every undo is best-effort:
// a failed undo is logged and the walk continues so one stuck resource does
// not strand the rest.
func (o *Orchestrator) Rollback(ctx context.Context, pc *Context) {
	log := o.logger.With(slog.String("slug", pc.Slug), slog.String("task_id", pc.TaskID))
	log.Warn("rollback start", slog.Int("steps", len(pc.steps)))
	rollbacksTotal.Inc()

	for i := len(pc.steps) - 1; i >= 0; i-- {
		s := pc.steps[i]
		switch s.kind {
		case stepDBProvisioned:
			if err := DeprovisionDB(ctx, o.db, pc.DBName, pc.DBUser); err != nil {
				log.Warn("rollback: deprovision db failed", slog.String("error", err.Error()))
			}
		case stepIniWritten:
			if err := RemoveConfigDir(o.cfg.Wikifarm.ConfigDir, pc.Slug); err != nil {
				log.Warn("rollback: remove config dir failed", slog.String("error", err.Error()))
			}
		case stepFsDir:
			if err := RemoveDirIfExists(pc.TargetDir); err != nil {
				log.Warn("rollback: remove target dir failed", slog.String("error", err.Error()))
			}
		case stepInsertWiki:
			if err := o.wikis.Delete(ctx, s.wikiID); err != nil {
				log.Warn("rollback: delete wiki row failed", slog.String("error", err.Error()))
			}
		case stepWritePermissions:
			if err := o.perms.DeleteByWiki(ctx, s.wikiID); err != nil {
				log.Warn("rollback: delete permission rows failed", slog.String("error", err.Error()))
			}
		}
	}
	pc.steps = pc.steps[:0]

	log.Warn("rollback complete")
}
