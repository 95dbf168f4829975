// Package handler exposes the module activation API over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"orthoplus/internal/audit"
	"orthoplus/internal/modules/models"
	id "orthoplus/pkg/domain"
	dErrors "orthoplus/pkg/domain-errors"
	"orthoplus/pkg/platform/httputil"
	"orthoplus/pkg/requestcontext"
)

// ModulesService is the slice of the activation service the handler needs.
type ModulesService interface {
	Toggle(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (*models.ToggleResult, error)
	Activate(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (*models.ToggleResult, error)
	Deactivate(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (*models.ToggleResult, error)
	ListModules(ctx context.Context, tenantID id.TenantID) ([]models.ModuleView, error)
	AuditTrail(ctx context.Context, tenantID id.TenantID, q audit.Query) ([]audit.Record, error)
}

// AccessChecker answers module access questions for the session tenant.
type AccessChecker interface {
	Check(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (bool, error)
	VisibleRoutes(ctx context.Context, tenantID id.TenantID) ([]string, error)
}

// Handler serves the tenant-facing module endpoints.
type Handler struct {
	service ModulesService
	gate    AccessChecker
	logger  *slog.Logger
}

func New(service ModulesService, gate AccessChecker, logger *slog.Logger) *Handler {
	return &Handler{service: service, gate: gate, logger: logger}
}

// Routes mounts the module endpoints on a router that already enforces a
// session.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/modules", h.ListModules)
	r.Get("/modules/{key}/access", h.CheckAccess)
	r.Post("/modules/{key}/toggle", h.Toggle)
	r.Post("/modules/{key}/activate", h.Activate)
	r.Post("/modules/{key}/deactivate", h.Deactivate)
	r.Get("/menu", h.Menu)
	r.Get("/audit", h.AuditTrail)
}

type toggleResponse struct {
	Success bool   `json:"success"`
	Active  bool   `json:"active"`
	Action  string `json:"action"`
}

type rejectionResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// ListModules returns the settings-screen listing for the session tenant.
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	tenantID := requestcontext.TenantID(r.Context())

	views, err := h.service.ListModules(r.Context(), tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"modules": views})
}

// Toggle flips the module's activation.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.service.Toggle)
}

// Activate switches the module on.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.service.Activate)
}

// Deactivate switches the module off.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.change(w, r, h.service.Deactivate)
}

func (h *Handler) change(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (*models.ToggleResult, error),
) {
	tenantID := requestcontext.TenantID(r.Context())
	key, err := moduleParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := op(r.Context(), tenantID, key)
	if err != nil {
		h.writeChangeError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toggleResponse{
		Success: true,
		Active:  result.Active,
		Action:  string(result.Action),
	})
}

// writeChangeError keeps the toggle envelope stable for the settings UI:
// rejections and lost conflicts come back as success=false with a machine
// readable reason, everything else uses the standard error envelope.
func (h *Handler) writeChangeError(w http.ResponseWriter, err error) {
	var rejection *models.RejectionError
	if errors.As(err, &rejection) {
		details := make([]string, len(rejection.Modules))
		for i, k := range rejection.Modules {
			details[i] = string(k)
		}
		httputil.WriteJSON(w, http.StatusConflict, rejectionResponse{
			Error:   string(rejection.Reason),
			Details: details,
		})
		return
	}
	if dErrors.HasCode(err, dErrors.CodeConflict) {
		httputil.WriteJSON(w, http.StatusConflict, rejectionResponse{
			Error: "CONCURRENT_MODIFICATION",
		})
		return
	}
	httputil.WriteError(w, err)
}

// CheckAccess reports whether the session tenant may use the module.
func (h *Handler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	tenantID := requestcontext.TenantID(r.Context())
	key, err := moduleParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	allowed, err := h.gate.Check(r.Context(), tenantID, key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

// Menu returns the navigation routes of the tenant's active modules.
func (h *Handler) Menu(w http.ResponseWriter, r *http.Request) {
	tenantID := requestcontext.TenantID(r.Context())

	routes, err := h.gate.VisibleRoutes(r.Context(), tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if routes == nil {
		routes = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

// AuditTrail returns the tenant's own audit records, newest first.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	tenantID := requestcontext.TenantID(r.Context())

	query, err := parseAuditQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.service.AuditTrail(r.Context(), tenantID, query)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
}

// moduleParam normalizes the {key} path segment the way stored keys are
// normalized, so lowercase or padded keys resolve to the same module.
func moduleParam(r *http.Request) (id.ModuleKey, error) {
	return id.ParseModuleKey(chi.URLParam(r, "key"))
}

// parseAuditQuery reads the optional limit, from, and to query parameters.
// A zero limit means "store default"; the stores clamp out-of-range values
// themselves. From and to take RFC 3339 timestamps.
func parseAuditQuery(r *http.Request) (audit.Query, error) {
	var q audit.Query

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return q, dErrors.New(dErrors.CodeInvalidInput, "limit must be an integer")
		}
		q.Limit = limit
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, dErrors.New(dErrors.CodeInvalidInput, "from must be an RFC 3339 timestamp")
		}
		q.From = from
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, dErrors.New(dErrors.CodeInvalidInput, "to must be an RFC 3339 timestamp")
		}
		q.To = to
	}
	return q, nil
}
