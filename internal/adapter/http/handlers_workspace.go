package http

import (
	"net/http"

	"github.com/openclave/controlplane/internal/adapter/otel"
	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/usage"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/domain/workspace"
	"github.com/openclave/controlplane/internal/middleware"
)

type createWorkspaceRequest struct {
	AgentTypeID      string            `json:"agent_type_id"`
	CloudProviderID  string            `json:"cloud_provider_id"`
	RegionID         string            `json:"region_id"`
	RepositoryURL    *string           `json:"repository_url,omitempty"`
	Persistent       bool              `json:"persistent"`
	Subdomain        *string           `json:"subdomain,omitempty"`
	Name             string            `json:"name"`
	GitIntegrationID *string           `json:"git_integration_id,omitempty"`
	ExtraEnv         map[string]string `json:"extra_env,omitempty"`
}

// CreateWorkspace handles POST /api/v1/workspaces.
func (h *Handlers) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	req, ok := readJSON[createWorkspaceRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.AgentTypeID, "agent_type_id") ||
		!requireField(w, req.CloudProviderID, "cloud_provider_id") ||
		!requireField(w, req.RegionID, "region_id") {
		return
	}

	ctx, span := otel.StartWorkspaceSpan(r.Context(), "", "create")
	defer span.End()
	r = r.WithContext(ctx)

	ws, err := h.Workspaces.CreateWorkspace(r.Context(), u, workspace.CreateRequest{
		UserID:           u.ID,
		AgentTypeID:      req.AgentTypeID,
		CloudProviderID:  req.CloudProviderID,
		RegionID:         req.RegionID,
		RepositoryURL:    req.RepositoryURL,
		Persistent:       req.Persistent,
		Subdomain:        req.Subdomain,
		Name:             req.Name,
		GitIntegrationID: req.GitIntegrationID,
		ExtraEnv:         req.ExtraEnv,
	})
	if err != nil {
		writeDomainError(w, err, "create workspace")
		return
	}
	if h.Metrics != nil {
		h.Metrics.WorkspacesCreated.Add(r.Context(), 1)
	}
	writeJSON(w, http.StatusCreated, ws)
}

// GetWorkspace handles GET /api/v1/workspaces/{id}.
func (h *Handlers) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	id := urlParam(r, "id")
	ws, err := h.Store.GetWorkspace(r.Context(), id)
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "workspace not found"), "get workspace")
		return
	}
	if ws.UserID != u.ID && u.Role != user.RoleAdmin {
		writeDomainError(w, apierr.Forbidden("workspace belongs to another account"), "get workspace")
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// ListWorkspaces handles GET /api/v1/workspaces.
func (h *Handlers) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	rows, err := h.Store.ListWorkspacesByUser(r.Context(), u.ID)
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "list workspaces"), "list workspaces")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handlers) ownsWorkspace(w http.ResponseWriter, r *http.Request, id string) bool {
	u := middleware.UserFromContext(r.Context())
	ws, err := h.Store.GetWorkspace(r.Context(), id)
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "workspace not found"), "load workspace")
		return false
	}
	if ws.UserID != u.ID && u.Role != user.RoleAdmin {
		writeDomainError(w, apierr.Forbidden("workspace belongs to another account"), "load workspace")
		return false
	}
	return true
}

// StopWorkspace handles POST /api/v1/workspaces/{id}/stop.
func (h *Handlers) StopWorkspace(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if !h.ownsWorkspace(w, r, id) {
		return
	}
	ctx, span := otel.StartWorkspaceSpan(r.Context(), id, "stop")
	defer span.End()
	if err := h.Workspaces.Stop(ctx, id, usage.StopManual); err != nil {
		writeDomainError(w, err, "stop workspace")
		return
	}
	if h.Metrics != nil {
		h.Metrics.WorkspacesStopped.Add(ctx, 1)
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestartWorkspace handles POST /api/v1/workspaces/{id}/restart.
func (h *Handlers) RestartWorkspace(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	id := urlParam(r, "id")
	if !h.ownsWorkspace(w, r, id) {
		return
	}
	if err := h.Workspaces.Restart(r.Context(), u, id); err != nil {
		writeDomainError(w, err, "restart workspace")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TerminateWorkspace handles POST /api/v1/workspaces/{id}/terminate.
func (h *Handlers) TerminateWorkspace(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if !h.ownsWorkspace(w, r, id) {
		return
	}
	ctx, span := otel.StartWorkspaceSpan(r.Context(), id, "terminate")
	defer span.End()
	if err := h.Workspaces.Terminate(ctx, id); err != nil {
		writeDomainError(w, err, "terminate workspace")
		return
	}
	if h.Metrics != nil {
		h.Metrics.WorkspacesTerminated.Add(ctx, 1)
	}
	w.WriteHeader(http.StatusNoContent)
}

type heartbeatRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

// Heartbeat handles POST /api/v1/workspaces/heartbeat, authenticated by a
// workspace-scoped token rather than a user session (see
// middleware.WorkspaceAuth).
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	claims := middleware.WorkspaceClaimsFromContext(r.Context())
	if claims == nil {
		writeDomainError(w, apierr.AuthRequired("workspace token required"), "heartbeat")
		return
	}
	req, ok := readJSON[heartbeatRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.WorkspaceID, "workspace_id") {
		return
	}
	ctx, span := otel.StartHeartbeatSpan(r.Context(), req.WorkspaceID)
	defer span.End()
	result, err := h.Workspaces.Heartbeat(ctx, claims, req.WorkspaceID)
	if err != nil {
		writeDomainError(w, err, "heartbeat")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
