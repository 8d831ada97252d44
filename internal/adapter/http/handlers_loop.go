package http

import (
	"net/http"

	"github.com/openclave/controlplane/internal/adapter/otel"
	"github.com/openclave/controlplane/internal/domain/agentloop"
	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/middleware"
	"github.com/openclave/controlplane/internal/service"
)

type createLoopRequest struct {
	GitIntegrationID  string  `json:"git_integration_id"`
	SandboxProviderID string  `json:"sandbox_provider_id"`
	RepositoryOwner   string  `json:"repository_owner"`
	RepositoryName    string  `json:"repository_name"`
	Branch            string  `json:"branch"`
	PlanFilePath      string  `json:"plan_file_path"`
	ProgressFilePath  *string `json:"progress_file_path,omitempty"`
	ModelProviderID   string  `json:"model_provider_id"`
	ModelID           string  `json:"model_id"`
	CredentialID      *string `json:"credential_id,omitempty"`
	AutomationEnabled bool    `json:"automation_enabled"`
	MaxRuns           int     `json:"max_runs"`
	Prompt            *string `json:"prompt,omitempty"`
}

// CreateLoop handles POST /api/v1/loops.
func (h *Handlers) CreateLoop(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	req, ok := readJSON[createLoopRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.RepositoryOwner, "repository_owner") ||
		!requireField(w, req.RepositoryName, "repository_name") ||
		!requireField(w, req.PlanFilePath, "plan_file_path") ||
		!requireField(w, req.ModelProviderID, "model_provider_id") ||
		!requireField(w, req.ModelID, "model_id") {
		return
	}

	loop, err := h.Loops.CreateLoop(r.Context(), u, agentloop.CreateRequest{
		UserID:            u.ID,
		GitIntegrationID:  req.GitIntegrationID,
		SandboxProviderID: req.SandboxProviderID,
		RepositoryOwner:   req.RepositoryOwner,
		RepositoryName:    req.RepositoryName,
		Branch:            req.Branch,
		PlanFilePath:      req.PlanFilePath,
		ProgressFilePath:  req.ProgressFilePath,
		ModelProviderID:   req.ModelProviderID,
		ModelID:           req.ModelID,
		CredentialID:      req.CredentialID,
		AutomationEnabled: req.AutomationEnabled,
		MaxRuns:           req.MaxRuns,
		Prompt:            req.Prompt,
	})
	if err != nil {
		writeDomainError(w, err, "create loop")
		return
	}
	writeJSON(w, http.StatusCreated, loop)
}

func (h *Handlers) ownsLoop(w http.ResponseWriter, r *http.Request, id string) (*agentloop.Loop, bool) {
	u := middleware.UserFromContext(r.Context())
	loop, err := h.Store.GetLoop(r.Context(), id)
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "loop not found"), "load loop")
		return nil, false
	}
	if loop.UserID != u.ID && u.Role != user.RoleAdmin {
		writeDomainError(w, apierr.Forbidden("loop belongs to another account"), "load loop")
		return nil, false
	}
	return loop, true
}

// GetLoop handles GET /api/v1/loops/{id}.
func (h *Handlers) GetLoop(w http.ResponseWriter, r *http.Request) {
	loop, ok := h.ownsLoop(w, r, urlParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, loop)
}

// ListLoops handles GET /api/v1/loops.
func (h *Handlers) ListLoops(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	rows, err := h.Store.ListLoopsByUser(r.Context(), u.ID)
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "list loops"), "list loops")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// DeleteLoop handles DELETE /api/v1/loops/{id}.
func (h *Handlers) DeleteLoop(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, ok := h.ownsLoop(w, r, id); !ok {
		return
	}
	if err := h.Loops.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err, "delete loop")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PauseLoop handles POST /api/v1/loops/{id}/pause.
func (h *Handlers) PauseLoop(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, ok := h.ownsLoop(w, r, id); !ok {
		return
	}
	if err := h.Loops.Pause(r.Context(), id); err != nil {
		writeDomainError(w, err, "pause loop")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResumeLoop handles POST /api/v1/loops/{id}/resume.
func (h *Handlers) ResumeLoop(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, ok := h.ownsLoop(w, r, id); !ok {
		return
	}
	if err := h.Loops.Resume(r.Context(), id); err != nil {
		writeDomainError(w, err, "resume loop")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CompleteLoop handles POST /api/v1/loops/{id}/complete.
func (h *Handlers) CompleteLoop(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, ok := h.ownsLoop(w, r, id); !ok {
		return
	}
	if err := h.Loops.Complete(r.Context(), id); err != nil {
		writeDomainError(w, err, "complete loop")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ArchiveLoop handles POST /api/v1/loops/{id}/archive.
func (h *Handlers) ArchiveLoop(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, ok := h.ownsLoop(w, r, id); !ok {
		return
	}
	if err := h.Loops.Archive(r.Context(), id); err != nil {
		writeDomainError(w, err, "archive loop")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartRun handles POST /api/v1/loops/{id}/runs.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	id := urlParam(r, "id")
	if _, ok := h.ownsLoop(w, r, id); !ok {
		return
	}
	ctx, span := otel.StartRunSpan(r.Context(), "", id)
	defer span.End()
	run, err := h.Loops.StartRun(ctx, u, id)
	if err != nil {
		writeDomainError(w, err, "start run")
		return
	}
	if h.Metrics != nil {
		h.Metrics.RunsStarted.Add(ctx, 1)
	}
	if h.Prom != nil {
		h.Prom.ActiveSandboxRuns.Inc()
	}
	writeJSON(w, http.StatusCreated, run)
}

// ListRuns handles GET /api/v1/loops/{id}/runs.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, ok := h.ownsLoop(w, r, id); !ok {
		return
	}
	rows, err := h.Store.ListRunsByLoop(r.Context(), id)
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "list runs"), "list runs")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	run, err := h.Store.GetRun(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "run not found"), "get run")
		return
	}
	loop, err := h.Store.GetLoop(r.Context(), run.LoopID)
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "loop not found"), "get run")
		return
	}
	if loop.UserID != u.ID && u.Role != user.RoleAdmin {
		writeDomainError(w, apierr.Forbidden("run belongs to another account"), "get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// RestartRun handles POST /api/v1/runs/{id}/restart.
func (h *Handlers) RestartRun(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	runID := urlParam(r, "id")
	run, err := h.Loops.RestartRun(r.Context(), u, runID)
	if err != nil {
		writeDomainError(w, err, "restart run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// loopCallbackRequest is the payload a sandbox runner posts when an agent
// loop run finishes or reports progress.
type loopCallbackRequest struct {
	RunID          string  `json:"run_id"`
	Success        bool    `json:"success"`
	SandboxID      string  `json:"sandbox_id"`
	CommitSHA      *string `json:"commit_sha,omitempty"`
	CommitMessage  *string `json:"commit_message,omitempty"`
	Error          *string `json:"error,omitempty"`
	IsListComplete bool    `json:"is_list_complete"`
}

// LoopCallback handles POST /api/v1/loops/callback. It is authenticated by
// middleware.WebhookToken using the configured loop-runner callback secret
// rather than a user session.
func (h *Handlers) LoopCallback(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[loopCallbackRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.RunID, "run_id") {
		return
	}

	in := service.CallbackInput{
		RunID:          req.RunID,
		Success:        req.Success,
		CommitSHA:      req.CommitSHA,
		CommitMessage:  req.CommitMessage,
		Error:          req.Error,
		IsListComplete: req.IsListComplete,
	}
	if req.SandboxID != "" {
		in.SandboxID = &req.SandboxID
	}

	ctx, span := otel.StartRunSpan(r.Context(), req.RunID, "")
	defer span.End()
	if err := h.Loops.ProcessCallback(ctx, in); err != nil {
		writeDomainError(w, err, "process loop callback")
		return
	}
	if h.Metrics != nil {
		if req.Success {
			h.Metrics.RunsCompleted.Add(ctx, 1)
		} else {
			h.Metrics.RunsFailed.Add(ctx, 1)
		}
	}
	if h.Prom != nil {
		h.Prom.ActiveSandboxRuns.Dec()
	}
	w.WriteHeader(http.StatusNoContent)
}
