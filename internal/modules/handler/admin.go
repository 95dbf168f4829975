package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"orthoplus/internal/audit"
	"orthoplus/internal/modules/models"
	id "orthoplus/pkg/domain"
	dErrors "orthoplus/pkg/domain-errors"
	"orthoplus/pkg/platform/httputil"
)

// AdminService is the back-office slice of the activation service. Plan
// changes come from billing, not from the clinic itself, so subscribe and
// unsubscribe live here.
type AdminService interface {
	Subscribe(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (*models.ToggleResult, error)
	Unsubscribe(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (*models.ToggleResult, error)
	Provision(ctx context.Context, tenantID id.TenantID, keys []id.ModuleKey) error
	AuditTrail(ctx context.Context, tenantID id.TenantID, q audit.Query) ([]audit.Record, error)
	RecentAudit(ctx context.Context, q audit.Query) ([]audit.Record, error)
}

// AdminHandler serves the token-guarded back-office endpoints.
type AdminHandler struct {
	service AdminService
	logger  *slog.Logger
}

func NewAdmin(service AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

// Routes mounts the admin endpoints on a router that already enforces the
// admin token.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/audit", h.RecentAudit)
	r.Get("/tenants/{tenantID}/audit", h.TenantAudit)
	r.Post("/tenants/{tenantID}/provision", h.Provision)
	r.Post("/tenants/{tenantID}/modules/{key}/subscribe", h.Subscribe)
	r.Post("/tenants/{tenantID}/modules/{key}/unsubscribe", h.Unsubscribe)
}

func tenantParam(r *http.Request) (id.TenantID, error) {
	return id.ParseTenantID(chi.URLParam(r, "tenantID"))
}

// Subscribe adds a module to a tenant's plan.
func (h *AdminHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	h.planChange(w, r, h.service.Subscribe)
}

// Unsubscribe removes a module from a tenant's plan.
func (h *AdminHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	h.planChange(w, r, h.service.Unsubscribe)
}

func (h *AdminHandler) planChange(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, tenantID id.TenantID, key id.ModuleKey) (*models.ToggleResult, error),
) {
	tenantID, err := tenantParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	key, err := moduleParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := op(r.Context(), tenantID, key)
	if err != nil {
		writeAdminChangeError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toggleResponse{
		Success: true,
		Active:  result.Active,
		Action:  string(result.Action),
	})
}

func writeAdminChangeError(w http.ResponseWriter, err error) {
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
	httputil.WriteError(w, err)
}

type provisionRequest struct {
	Modules []string `json:"modules"`
}

// Provision subscribes a new tenant to its plan's modules in one call.
func (h *AdminHandler) Provision(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if len(req.Modules) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "modules is required"))
		return
	}

	keys := make([]id.ModuleKey, 0, len(req.Modules))
	for _, raw := range req.Modules {
		key, err := id.ParseModuleKey(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		keys = append(keys, key)
	}

	if err := h.service.Provision(r.Context(), tenantID, keys); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// TenantAudit returns one tenant's audit trail for support investigations.
func (h *AdminHandler) TenantAudit(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

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

// RecentAudit returns the most recent records across all tenants.
func (h *AdminHandler) RecentAudit(w http.ResponseWriter, r *http.Request) {
	query, err := parseAuditQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.service.RecentAudit(r.Context(), query)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
}
