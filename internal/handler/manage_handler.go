package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pubwiki/provisioner/internal/middleware"
	"github.com/pubwiki/provisioner/internal/models"
	apierrors "github.com/pubwiki/provisioner/internal/pkg/apierrors"
	"github.com/pubwiki/provisioner/internal/pkg/response"
	"github.com/pubwiki/provisioner/internal/provision"
	"github.com/pubwiki/provisioner/internal/repository"
	"github.com/pubwiki/provisioner/internal/validate"
)

// ManageHandler serves owner-facing management endpoints for existing wikis.
type ManageHandler struct {
	wikis  repository.WikiRepository
	perms  repository.PermissionRepository
	writer *provision.PermissionsWriter
	logger *slog.Logger
}

// NewManageHandler creates a manage handler.
func NewManageHandler(
	wikis repository.WikiRepository,
	perms repository.PermissionRepository,
	writer *provision.PermissionsWriter,
	logger *slog.Logger,
) *ManageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManageHandler{wikis: wikis, perms: perms, writer: writer, logger: logger}
}

func (h *ManageHandler) lookupWiki(r *http.Request) (*models.Wiki, error) {
	slug := chi.URLParam(r, "slug")
	if err := validate.Check(slug, validate.Slug); err != nil {
		return nil, err
	}
	wiki, err := h.wikis.GetBySlug(r.Context(), slug)
	if err != nil {
		return nil, apierrors.NewDBError(err)
	}
	if wiki == nil {
		return nil, apierrors.ErrNotFound
	}
	return wiki, nil
}

// GetPermissions handles GET /manage/v1/wikis/{slug}/permissions.
func (h *ManageHandler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	wiki, err := h.lookupWiki(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	rows, err := h.perms.ListByWiki(r.Context(), wiki.ID)
	if err != nil {
		response.Error(w, apierrors.NewDBError(err))
		return
	}

	allow := map[string][]string{}
	deny := map[string][]string{}
	for _, row := range rows {
		if row.Allowed {
			allow[row.GroupName] = append(allow[row.GroupName], row.Permission)
		} else {
			deny[row.GroupName] = append(deny[row.GroupName], row.Permission)
		}
	}
	response.OK(w, map[string]any{"allow": allow, "deny": deny})
}

// SetPermissions handles POST /manage/v1/wikis/{slug}/permissions. Replaces
// the whole permission set through the same writer the orchestrator uses, so
// rows and permissions.php never diverge.
func (h *ManageHandler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		response.Error(w, apierrors.ErrAuthHeadersMissing)
		return
	}

	wiki, err := h.lookupWiki(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	if auth.UserID != wiki.OwnerUserID {
		response.Error(w, apierrors.ErrNotOwner)
		return
	}

	var doc provision.PermissionsDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		response.Error(w, apierrors.NewBadRequest("param_invalid", "invalid request body"))
		return
	}

	if err := h.writer.Apply(r.Context(), wiki.ID, wiki.Slug, &doc); err != nil {
		response.Error(w, err)
		return
	}

	h.logger.Info("permissions replaced",
		slog.String("slug", wiki.Slug),
		slog.Uint64("wiki_id", wiki.ID),
	)
	response.OK(w, map[string]string{"msg": "done"})
}

// VisibilityRequest is the visibility update body.
type VisibilityRequest struct {
	Visibility string `json:"visibility"`
}

// SetVisibility handles PUT /manage/v1/wikis/{slug}/visibility. Unlike the
// create path, an unknown value is rejected rather than normalized.
func (h *ManageHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		response.Error(w, apierrors.ErrAuthHeadersMissing)
		return
	}

	wiki, err := h.lookupWiki(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	if auth.UserID != wiki.OwnerUserID {
		response.Error(w, apierrors.ErrNotOwner)
		return
	}

	var req VisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.NewBadRequest("param_invalid", "invalid request body"))
		return
	}

	vis := strings.ToLower(strings.TrimSpace(req.Visibility))
	switch vis {
	case models.VisibilityPublic, models.VisibilityPrivate, models.VisibilityUnlisted:
	default:
		response.Error(w, apierrors.NewBadRequest("param_invalid",
			"visibility must be one of: public, unlisted, private"))
		return
	}

	if err := h.wikis.SetVisibility(r.Context(), wiki.ID, vis); err != nil {
		response.Error(w, apierrors.NewDBError(err))
		return
	}

	h.logger.Info("visibility updated",
		slog.String("slug", wiki.Slug),
		slog.String("visibility", vis),
	)
	response.OK(w, map[string]string{"msg": "ok", "visibility": vis})
}
