package http

import (
	"net/http"

	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/middleware"
	"github.com/openclave/controlplane/internal/service"
)

// ListSystemConfig handles GET /api/v1/admin/config. Admin-only.
func (h *Handlers) ListSystemConfig(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.ListSystemConfig(r.Context())
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "list system config"), "list system config")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type setSystemConfigRequest struct {
	Value string `json:"value"`
}

// SetSystemConfig handles PUT /api/v1/admin/config/{key}. Admin-only.
func (h *Handlers) SetSystemConfig(w http.ResponseWriter, r *http.Request) {
	key := urlParam(r, "key")
	req, ok := readJSON[setSystemConfigRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if err := service.ValidateSystemConfigWrite(key, req.Value); err != nil {
		writeDomainError(w, err, "set system config")
		return
	}
	if err := h.Store.SetSystemConfig(r.Context(), key, req.Value); err != nil {
		writeDomainError(w, apierr.FromStore(err, "set system config"), "set system config")
		return
	}
	h.Config.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

type updateUserRoleRequest struct {
	Role user.Role `json:"role"`
	Plan user.Plan `json:"plan"`
}

// UpdateUserRolePlan handles PUT /api/v1/admin/users/{id}/role-plan. Admin-only.
func (h *Handlers) UpdateUserRolePlan(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[updateUserRoleRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	update := user.UpdateRoleAndPlanRequest{Role: req.Role, Plan: req.Plan}
	if err := update.Validate(); err != nil {
		writeDomainError(w, apierr.BadRequest("%v", err), "update user role/plan")
		return
	}
	if err := h.Store.UpdateUserRolePlan(r.Context(), id, req.Role, req.Plan); err != nil {
		writeDomainError(w, apierr.FromStore(err, "update user role/plan"), "update user role/plan")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMe handles GET /api/v1/me.
func (h *Handlers) GetMe(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, u)
}
