// Package handler implements the HTTP API.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pubwiki/provisioner/internal/bus"
	"github.com/pubwiki/provisioner/internal/config"
	"github.com/pubwiki/provisioner/internal/events"
	"github.com/pubwiki/provisioner/internal/middleware"
	"github.com/pubwiki/provisioner/internal/models"
	apierrors "github.com/pubwiki/provisioner/internal/pkg/apierrors"
	"github.com/pubwiki/provisioner/internal/pkg/response"
	"github.com/pubwiki/provisioner/internal/provision"
	"github.com/pubwiki/provisioner/internal/repository"
	"github.com/pubwiki/provisioner/internal/validate"
	"github.com/pubwiki/provisioner/internal/worker"
)

// WikiHandler serves the wiki lifecycle endpoints.
type WikiHandler struct {
	cfg       *config.Config
	db        *sqlx.DB
	tasks     repository.TaskRepository
	wikis     repository.WikiRepository
	perms     repository.PermissionRepository
	bus       *bus.Bus
	validator *validator.Validate
	logger    *slog.Logger
}

// NewWikiHandler creates a wiki handler.
func NewWikiHandler(
	cfg *config.Config,
	db *sqlx.DB,
	tasks repository.TaskRepository,
	wikis repository.WikiRepository,
	perms repository.PermissionRepository,
	b *bus.Bus,
	logger *slog.Logger,
) *WikiHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WikiHandler{
		cfg:       cfg,
		db:        db,
		tasks:     tasks,
		wikis:     wikis,
		perms:     perms,
		bus:       b,
		validator: validator.New(),
		logger:    logger,
	}
}

// CreateWikiRequest is the create endpoint body.
type CreateWikiRequest struct {
	Name       string `json:"name" validate:"required,max=255"`
	Slug       string `json:"slug" validate:"required"`
	Language   string `json:"language"`
	Visibility string `json:"visibility"`
}

// Health handles GET /provisioner/v1/health.
func (h *WikiHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

// Create handles POST /provisioner/v1/wikis. It records the task, enqueues
// the job, and returns immediately; all heavy lifting happens in the worker.
func (h *WikiHandler) Create(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		response.Error(w, apierrors.ErrAuthHeadersMissing)
		return
	}

	var req CreateWikiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.NewBadRequest("param_invalid", "invalid request body"))
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, apierrors.NewParamInvalid("name"))
		return
	}
	if err := validate.Check(req.Slug, validate.Slug); err != nil {
		response.Error(w, err)
		return
	}

	h.logger.Info("create wiki request",
		slog.String("slug", req.Slug),
		slog.String("name", req.Name),
		slog.Uint64("user_id", auth.UserID),
	)

	language := req.Language
	if language == "" {
		language = "en"
	}
	visibility := models.NormalizeVisibility(req.Visibility)

	exists, err := h.wikis.SlugExists(r.Context(), req.Slug)
	if err != nil {
		response.Error(w, apierrors.NewDBError(err))
		return
	}
	if exists || validate.SlugReserved(req.Slug) {
		response.Error(w, apierrors.ErrConflict)
		return
	}

	taskID := uuid.New().String()
	task := &models.Task{
		ID:                taskID,
		Type:              models.TaskTypeCreateWiki,
		Status:            events.StateQueued,
		CreatedByUserID:   auth.UserID,
		CreatedByUsername: []byte(auth.Username),
	}
	if err := h.tasks.Create(r.Context(), task); err != nil {
		response.Error(w, apierrors.NewDBError(err))
		return
	}

	job := worker.Job{
		TaskID:     taskID,
		Name:       req.Name,
		Slug:       req.Slug,
		Language:   language,
		Visibility: visibility,
		Owner:      worker.Owner{ID: auth.UserID, Username: auth.Username},
	}
	payload, err := json.Marshal(job)
	if err != nil {
		response.Error(w, apierrors.ErrInternal.WithMessage(err.Error()))
		return
	}
	if err := h.bus.EnqueueJob(r.Context(), payload); err != nil {
		response.Error(w, apierrors.NewRedisError(err))
		return
	}
	if err := h.bus.Publish(r.Context(), taskID, events.Progress{
		Status:  events.StateQueued,
		Message: "queued",
	}); err != nil {
		response.Error(w, apierrors.NewRedisError(err))
		return
	}

	h.logger.Info("create wiki queued",
		slog.String("task_id", taskID),
		slog.String("slug", req.Slug),
	)
	response.Accepted(w, map[string]string{"task_id": taskID})
}

// ListFeatured handles GET /provisioner/v1/wikis. featured=1 (the default)
// returns featured public wikis; featured=0 falls back to all public ones.
func (h *WikiHandler) ListFeatured(w http.ResponseWriter, r *http.Request) {
	featured := queryInt(r, "featured", 1)
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	var (
		wikis []models.Wiki
		err   error
	)
	if featured == 1 {
		wikis, err = h.wikis.ListFeatured(r.Context(), limit, offset)
	} else {
		wikis, err = h.wikis.ListPublic(r.Context(), limit, offset)
	}
	if err != nil {
		response.Error(w, apierrors.NewDBError(err))
		return
	}
	writeWikiPage(w, wikis, offset)
}

// ListPublic handles GET /provisioner/v1/wikis/public.
func (h *WikiHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	wikis, err := h.wikis.ListPublic(r.Context(), limit, offset)
	if err != nil {
		response.Error(w, apierrors.NewDBError(err))
		return
	}
	writeWikiPage(w, wikis, offset)
}

// ListUserWikis handles GET /provisioner/v1/users/{user_id}/wikis.
func (h *WikiHandler) ListUserWikis(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil {
		response.Error(w, apierrors.NewParamInvalid("user_id"))
		return
	}

	wikis, err := h.wikis.ListByOwner(r.Context(), userID)
	if err != nil {
		response.Error(w, apierrors.NewDBError(err))
		return
	}
	response.OK(w, map[string]any{"wikis": wikis})
}

// CheckSlug handles GET /provisioner/v1/wikis/slug/{slug}/exists. Reserved
// slugs report exists so the UI steers users away from them.
func (h *WikiHandler) CheckSlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := validate.Check(slug, validate.Slug); err != nil {
		response.Error(w, err)
		return
	}

	exists, err := h.wikis.SlugExists(r.Context(), slug)
	if err != nil {
		response.Error(w, apierrors.NewDBError(err))
		return
	}
	response.OK(w, map[string]any{
		"slug":   slug,
		"exists": exists || validate.SlugReserved(slug),
	})
}

// Delete handles DELETE /provisioner/v1/wikis/{slug}. Deleting an absent
// wiki succeeds, and every external teardown step is best-effort so a
// half-deleted wiki can be deleted again.
func (h *WikiHandler) Delete(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		response.Error(w, apierrors.ErrAuthHeadersMissing)
		return
	}

	slug := chi.URLParam(r, "slug")
	if err := validate.Check(slug, validate.Slug); err != nil {
		response.Error(w, err)
		return
	}

	wiki, err := h.wikis.GetBySlug(r.Context(), slug)
	if err != nil {
		response.Error(w, apierrors.NewDBError(err))
		return
	}
	if wiki == nil {
		response.OK(w, map[string]string{"msg": "ok"})
		return
	}
	if auth.UserID != wiki.OwnerUserID {
		response.Error(w, apierrors.ErrNotOwner)
		return
	}

	log := h.logger.With(slog.String("slug", slug), slog.Uint64("wiki_id", wiki.ID))
	targetDir := filepath.Join(h.cfg.Wikifarm.Dir, slug)

	if err := provision.RemoveConfigDir(h.cfg.Wikifarm.ConfigDir, slug); err != nil {
		log.Warn("delete: remove config dir failed", slog.String("error", err.Error()))
	}
	if err := provision.RemoveDirIfExists(targetDir); err != nil {
		log.Warn("delete: remove target dir failed", slog.String("error", err.Error()))
	}
	if err := provision.DeprovisionDB(r.Context(), h.db, slug, slug); err != nil {
		log.Warn("delete: deprovision db failed", slog.String("error", err.Error()))
	}
	if err := h.perms.DeleteByWiki(r.Context(), wiki.ID); err != nil {
		log.Warn("delete: remove permission rows failed", slog.String("error", err.Error()))
	}
	if err := h.wikis.Delete(r.Context(), wiki.ID); err != nil {
		log.Warn("delete: remove wiki row failed", slog.String("error", err.Error()))
	}

	log.Info("wiki deleted")
	response.OK(w, map[string]string{"msg": "ok"})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeWikiPage(w http.ResponseWriter, wikis []models.Wiki, offset int) {
	if offset < 0 {
		offset = 0
	}
	response.OK(w, map[string]any{
		"wikis":       wikis,
		"next_offset": offset + len(wikis),
	})
}
