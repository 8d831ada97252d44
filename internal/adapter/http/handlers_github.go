package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/google/uuid"

	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/gitintegration"
	"github.com/openclave/controlplane/internal/middleware"
)

// GetGitHubInstallURL handles GET /api/v1/git-integration/install-url. The
// frontend redirects the browser here to start the App installation flow;
// GitHub redirects back to the install-callback route with the resulting
// installation_id once the user approves.
func (h *Handlers) GetGitHubInstallURL(w http.ResponseWriter, r *http.Request) {
	if h.GitHubApp == nil {
		writeError(w, http.StatusNotFound, "git integration is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": h.GitHubApp.InstallURL()})
}

// CompleteGitHubInstall handles GET /api/v1/git-integration/install-callback.
// The browser's authenticated session is what ties the installation to a
// user; GitHub's redirect carries no user identity of its own.
func (h *Handlers) CompleteGitHubInstall(w http.ResponseWriter, r *http.Request) {
	if h.GitHubApp == nil {
		writeError(w, http.StatusNotFound, "git integration is not configured")
		return
	}
	u := middleware.UserFromContext(r.Context())
	installationID := r.URL.Query().Get("installation_id")
	if !requireField(w, installationID, "installation_id") {
		return
	}

	login, _, err := h.GitHubApp.InstallationAccount(r.Context(), installationID)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	integ := &gitintegration.Integration{
		ID:             uuid.NewString(),
		UserID:         u.ID,
		Provider:       "github",
		InstallationID: installationID,
		AccountLogin:   login,
	}
	if err := h.Store.CreateGitIntegration(r.Context(), integ); err != nil {
		writeDomainError(w, apierr.FromStore(err, "create git integration"), "complete github install")
		return
	}
	writeJSON(w, http.StatusCreated, integ)
}

// HandleGitHubWebhook handles POST /webhooks/github. It is unauthenticated
// by user session; trust comes entirely from the HMAC signature GitHub signs
// every delivery with.
func (h *Handlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	if h.GitHubApp == nil {
		writeError(w, http.StatusNotFound, "git integration is not configured")
		return
	}
	payload, err := github.ValidatePayload(r, []byte(h.GitHubWebhookSecret))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}

	switch e := event.(type) {
	case *github.InstallationEvent:
		h.handleInstallationEvent(r.Context(), e)
	default:
		// Other event types (push, pull_request, ...) have no subscriber
		// today; the App only requests installation-lifecycle webhooks.
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleInstallationEvent reaps the stored integration once a user
// uninstalls the App. Creation happens via CompleteGitHubInstall, which
// has a user session to attach the row to; the webhook has none.
func (h *Handlers) handleInstallationEvent(ctx context.Context, e *github.InstallationEvent) {
	if strings.ToLower(e.GetAction()) != "deleted" {
		return
	}
	instID := e.GetInstallation().GetID()
	if instID == 0 {
		return
	}
	integ, err := h.Store.GetGitIntegrationByInstallation(ctx, strconv.FormatInt(instID, 10))
	if err != nil {
		return
	}
	if err := h.Store.DeleteGitIntegration(ctx, integ.ID); err != nil {
		slog.Error("delete git integration after github uninstall", "error", err, "installation_id", instID)
	}
}
