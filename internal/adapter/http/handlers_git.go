package http

import (
	"net/http"

	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/middleware"
)

// GetGitIntegration handles GET /api/v1/git-integration. A user has at
// most one linked Git identity; installation happens via the GitHub App
// install flow, not a direct POST here.
func (h *Handlers) GetGitIntegration(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	integ, err := h.Store.GetGitIntegrationByUser(r.Context(), u.ID)
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "git integration not found"), "get git integration")
		return
	}
	writeJSON(w, http.StatusOK, integ)
}

// DeleteGitIntegration handles DELETE /api/v1/git-integration/{id}.
func (h *Handlers) DeleteGitIntegration(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	id := urlParam(r, "id")
	integ, err := h.Store.GetGitIntegration(r.Context(), id)
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "git integration not found"), "delete git integration")
		return
	}
	if integ.UserID != u.ID {
		writeDomainError(w, apierr.Forbidden("git integration belongs to another account"), "delete git integration")
		return
	}
	if err := h.Store.DeleteGitIntegration(r.Context(), id); err != nil {
		writeDomainError(w, apierr.FromStore(err, "delete git integration"), "delete git integration")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
