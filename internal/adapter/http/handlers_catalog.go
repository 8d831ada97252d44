package http

import (
	"net/http"

	"github.com/openclave/controlplane/internal/domain/apierr"
)

// ListCloudProviders handles GET /api/v1/catalog/cloud-providers.
func (h *Handlers) ListCloudProviders(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.ListCloudProviders(r.Context())
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "list cloud providers"), "list cloud providers")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ListRegions handles GET /api/v1/catalog/cloud-providers/{id}/regions.
func (h *Handlers) ListRegions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.ListRegions(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "list regions"), "list regions")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ListAgentTypes handles GET /api/v1/catalog/agent-types.
func (h *Handlers) ListAgentTypes(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.ListAgentTypes(r.Context())
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "list agent types"), "list agent types")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ListModelProviders handles GET /api/v1/catalog/model-providers.
func (h *Handlers) ListModelProviders(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.ListModelProviders(r.Context())
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "list model providers"), "list model providers")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ListModels handles GET /api/v1/catalog/model-providers/{id}/models.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.ListModels(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "list models"), "list models")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
