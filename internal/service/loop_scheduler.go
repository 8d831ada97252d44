package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openclave/controlplane/internal/domain/agentloop"
	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/port/computeprovider"
	"github.com/openclave/controlplane/internal/port/database"
)

// dispatchGraceInterval bounds how long a run may sit in `pending` after
// the dispatch path has returned before it is considered a zombie.
const dispatchGraceInterval = 30 * time.Second

// LoopSchedulerService implements the Agent-Loop Scheduler: create loop, start/restart run, callback processing, and the
// state flips for archive/pause/resume/complete/delete. Its dispatch
// path is split the way computeprovider dispatch requires everywhere
// else in this control plane: a short DB transaction under a loop row
// lock, committed, then external dispatch strictly after commit.
type LoopSchedulerService struct {
	store      database.Store
	quota      *QuotaService
	vault      *CredentialVault
	sandboxes  map[string]computeprovider.Provider // keyed by SandboxProviderID's catalog Name, lower-cased
	callbackBaseURL string
	callbackSecret  string
}

func NewLoopSchedulerService(
	store database.Store,
	quota *QuotaService,
	vault *CredentialVault,
	sandboxes map[string]computeprovider.Provider,
	callbackBaseURL, callbackSecret string,
) *LoopSchedulerService {
	return &LoopSchedulerService{
		store:           store,
		quota:           quota,
		vault:           vault,
		sandboxes:       sandboxes,
		callbackBaseURL: callbackBaseURL,
		callbackSecret:  callbackSecret,
	}
}

// CreateLoop validates max_runs and monthly-quota coverage and inserts
// the row; it never dispatches a run.
func (s *LoopSchedulerService) CreateLoop(ctx context.Context, u *user.User, req agentloop.CreateRequest) (*agentloop.Loop, error) {
	if err := req.Validate(); err != nil {
		return nil, apierr.BadRequest("%v", err)
	}
	if err := s.quota.AdmitLoopCreation(ctx, u.ID, u.Plan, req.MaxRuns); err != nil {
		return nil, err
	}
	loop := &agentloop.Loop{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
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
		Status:            agentloop.StatusActive,
	}
	if err := s.store.CreateLoop(ctx, loop); err != nil {
		return nil, apierr.Internal("persist loop: %v", err)
	}
	return loop, nil
}

// dispatchOutcome is what the transactional half of run creation hands to
// the post-commit dispatch half.
type dispatchOutcome struct {
	run          *agentloop.Run
	sandboxProviderID string
	repoOwner, repoName, branch string
}

// StartRun dispatches a manually-triggered run for an idle loop.
func (s *LoopSchedulerService) StartRun(ctx context.Context, u *user.User, loopID string) (*agentloop.Run, error) {
	var outcome *dispatchOutcome
	err := s.store.WithLoopLock(ctx, loopID, func(ctx context.Context, tx database.Store) error {
		loop, err := tx.GetLoop(ctx, loopID)
		if err != nil {
			return apierr.NotFound("loop not found")
		}
		if loop.Status != agentloop.StatusActive {
			return apierr.BadRequest("loop is not active")
		}
		if loop.TotalRuns >= loop.MaxRuns {
			return apierr.BadRequest("loop has reached max_runs")
		}
		if inflight, err := tx.GetInFlightRun(ctx, loopID); err == nil && inflight != nil {
			return apierr.Conflict("a run is already in flight for this loop")
		}

		consumed, err := s.quota.ConsumeRunQuota(ctx, u.ID, u.Plan)
		if err != nil {
			return err
		}
		if !consumed {
			run := &agentloop.Run{
				ID:          uuid.NewString(),
				LoopID:      loopID,
				RunNumber:   loop.TotalRuns + 1,
				Status:      agentloop.RunHalted,
				TriggerType: agentloop.TriggerAutomated,
				Prompt:      orDefault(loop.Prompt),
			}
			if err := tx.CreateRunLocked(ctx, run); err != nil {
				return apierr.Internal("persist halted run: %v", err)
			}
			outcome = &dispatchOutcome{run: run} // no sandboxProviderID: caller returns the halted run, no dispatch
			return nil
		}

		if loop.CredentialID != nil {
			if _, err := s.vault.GetCredentialForRun(ctx, *loop.CredentialID, u.ID); err != nil {
				return err
			}
		} else {
			model, err := tx.GetModel(ctx, loop.ModelID)
			if err != nil {
				return apierr.NotFound("model not found")
			}
			if !model.IsFree {
				return apierr.BadRequest("credential required for non-free model")
			}
		}

		run := &agentloop.Run{
			ID:          uuid.NewString(),
			LoopID:      loopID,
			RunNumber:   loop.TotalRuns + 1,
			Status:      agentloop.RunPending,
			TriggerType: agentloop.TriggerManual,
			Prompt:      orDefault(loop.Prompt),
		}
		if err := tx.CreateRunLocked(ctx, run); err != nil {
			return apierr.Internal("persist run: %v", err)
		}
		loop.TotalRuns++
		loop.LastRunID = &run.ID
		now := time.Now()
		loop.LastRunAt = &now
		if err := tx.UpdateLoop(ctx, loop); err != nil {
			return translateConcurrency(err)
		}

		outcome = &dispatchOutcome{
			run:               run,
			sandboxProviderID: loop.SandboxProviderID,
			repoOwner:         loop.RepositoryOwner,
			repoName:          loop.RepositoryName,
			branch:            loop.Branch,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome.run.Status == agentloop.RunHalted {
		return outcome.run, nil
	}
	return s.dispatch(ctx, outcome)
}

// dispatch calls startSandboxRun strictly after the creating transaction
// has committed. A non-acknowledged or erroring dispatch retires the run
// through deleteRun, which marks it cancelled rather than failed; the row
// itself is kept, not deleted.
func (s *LoopSchedulerService) dispatch(ctx context.Context, outcome *dispatchOutcome) (*agentloop.Run, error) {
	provider, ok := s.sandboxes[outcome.sandboxProviderID]
	if !ok {
		if err := s.deleteRun(ctx, outcome.run.ID); err != nil {
			slog.Error("delete zombie run after missing sandbox provider", "run_id", outcome.run.ID, "error", err)
		}
		return nil, apierr.Internal("no sandbox provider registered for %q", outcome.sandboxProviderID)
	}

	externalID, err := provider.StartSandboxRun(ctx, outcome.run.ID, outcome.sandboxProviderID, outcome.repoOwner, outcome.repoName, outcome.branch)
	if err != nil {
		if derr := s.deleteRun(ctx, outcome.run.ID); derr != nil {
			slog.Error("delete zombie run after dispatch failure", "run_id", outcome.run.ID, "error", derr)
		}
		return nil, apierr.UpstreamUnavailable("dispatch sandbox run: %v", err)
	}

	now := time.Now()
	if err := s.store.UpdateRunStatus(ctx, outcome.run.ID, agentloop.RunRunning, database.RunStatusUpdate{
		SandboxExternalID: &externalID,
		StartedAt:         &now,
	}); err != nil {
		return nil, apierr.Internal("mark run running: %v", err)
	}
	outcome.run.Status = agentloop.RunRunning
	outcome.run.SandboxExternalID = &externalID
	outcome.run.StartedAt = &now
	return outcome.run, nil
}

// deleteRun retires a run that never effectively existed. database.Store exposes no hard-delete for a single
// run — only CreateRunLocked and DeleteLoop's cascade — so this marks it
// cancelled instead, which is excluded from every counted status bucket
// (agentloop.Loop.TotalRuns is decremented nowhere, but the row was never
// counted into total_runs either, since that increment only happens after
// a successful dispatch in StartRun/chainNextRun).
func (s *LoopSchedulerService) deleteRun(ctx context.Context, runID string) error {
	return s.store.UpdateRunStatus(ctx, runID, agentloop.RunCancelled, database.RunStatusUpdate{})
}

// CallbackInput is the sandbox executor's webhook payload.
type CallbackInput struct {
	RunID          string
	Success        bool
	SandboxID      *string
	CommitSHA      *string
	CommitMessage  *string
	Error          *string
	IsListComplete bool
}

// ProcessCallback handles a sandbox runner's completion callback, with
// idempotent re-delivery handling and automation chaining.
func (s *LoopSchedulerService) ProcessCallback(ctx context.Context, in CallbackInput) error {
	run, err := s.store.GetRun(ctx, in.RunID)
	if err != nil {
		return apierr.NotFound("run not found")
	}
	if run.Status != agentloop.RunPending && run.Status != agentloop.RunRunning {
		return nil // idempotent re-delivery
	}
	loop, err := s.store.GetLoop(ctx, run.LoopID)
	if err != nil {
		return apierr.NotFound("loop not found")
	}

	now := time.Now()
	if !in.Success {
		if err := s.store.UpdateRunStatus(ctx, run.ID, agentloop.RunFailed, database.RunStatusUpdate{
			FailureReason: in.Error,
			CompletedAt:   &now,
		}); err != nil {
			return apierr.Internal("mark run failed: %v", err)
		}
		loop.FailedRuns++
		if err := s.store.UpdateLoop(ctx, loop); err != nil {
			return translateConcurrency(err)
		}
		return nil
	}

	if err := s.store.UpdateRunStatus(ctx, run.ID, agentloop.RunCompleted, database.RunStatusUpdate{
		SandboxExternalID: in.SandboxID,
		DiffSummary:       in.CommitMessage,
		CompletedAt:       &now,
	}); err != nil {
		return apierr.Internal("mark run completed: %v", err)
	}

	if in.IsListComplete {
		loop.Status = agentloop.StatusCompleted
		return s.saveLoop(ctx, loop)
	}

	loop.SuccessfulRuns++
	if run.RunNumber >= loop.MaxRuns {
		loop.Status = agentloop.StatusCompleted
		return s.saveLoop(ctx, loop)
	}
	if err := s.saveLoop(ctx, loop); err != nil {
		return err
	}

	if !loop.AutomationEnabled {
		return nil
	}
	return s.chainNextRun(ctx, loop, run)
}

func (s *LoopSchedulerService) saveLoop(ctx context.Context, loop *agentloop.Loop) error {
	if err := s.store.UpdateLoop(ctx, loop); err != nil {
		return translateConcurrency(err)
	}
	return nil
}

// chainNextRun creates and dispatches the next automated run. Model or
// credential failures mark the new run failed, and a dispatch failure
// cancels it through dispatch; neither rolls back the counters already
// committed for the prior run.
func (s *LoopSchedulerService) chainNextRun(ctx context.Context, loop *agentloop.Loop, prev *agentloop.Run) error {
	next := &agentloop.Run{
		ID:          uuid.NewString(),
		LoopID:      loop.ID,
		RunNumber:   prev.RunNumber + 1,
		Status:      agentloop.RunPending,
		TriggerType: agentloop.TriggerAutomated,
		Prompt:      orDefault(loop.Prompt),
	}
	if err := s.store.CreateRunLocked(ctx, next); err != nil {
		return apierr.Internal("persist chained run: %v", err)
	}
	loop.TotalRuns++
	loop.LastRunID = &next.ID
	now := time.Now()
	loop.LastRunAt = &now
	if err := s.saveLoop(ctx, loop); err != nil {
		return err
	}

	if loop.CredentialID == nil {
		model, err := s.store.GetModel(ctx, loop.ModelID)
		if err != nil {
			return s.failChainedRun(ctx, next.ID, "model lookup failed: "+err.Error())
		}
		if !model.IsFree {
			return s.failChainedRun(ctx, next.ID, "automation requires a bound credential for non-free models")
		}
	} else if _, err := s.vault.GetCredentialForRun(ctx, *loop.CredentialID, loop.UserID); err != nil {
		return s.failChainedRun(ctx, next.ID, "credential unavailable: "+err.Error())
	}

	_, err := s.dispatch(ctx, &dispatchOutcome{
		run:               next,
		sandboxProviderID: loop.SandboxProviderID,
		repoOwner:         loop.RepositoryOwner,
		repoName:          loop.RepositoryName,
		branch:            loop.Branch,
	})
	return err
}

func (s *LoopSchedulerService) failChainedRun(ctx context.Context, runID, reason string) error {
	return s.store.UpdateRunStatus(ctx, runID, agentloop.RunFailed, database.RunStatusUpdate{
		FailureReason: &reason,
	})
}

// RestartRun is permitted only for halted or stalled runs.
func (s *LoopSchedulerService) RestartRun(ctx context.Context, u *user.User, runID string) (*agentloop.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, apierr.NotFound("run not found")
	}
	if run.Status != agentloop.RunHalted && !run.IsStalled(time.Now()) {
		return nil, apierr.BadRequest("only halted or stalled runs may be restarted")
	}
	loop, err := s.store.GetLoop(ctx, run.LoopID)
	if err != nil {
		return nil, apierr.NotFound("loop not found")
	}
	if loop.CredentialID != nil {
		if _, err := s.vault.GetCredentialForRun(ctx, *loop.CredentialID, u.ID); err != nil {
			return nil, err
		}
	} else {
		model, err := s.store.GetModel(ctx, loop.ModelID)
		if err != nil {
			return nil, apierr.NotFound("model not found")
		}
		if !model.IsFree {
			return nil, apierr.BadRequest("credential required for non-free model")
		}
	}
	return s.dispatch(ctx, &dispatchOutcome{
		run:               run,
		sandboxProviderID: loop.SandboxProviderID,
		repoOwner:         loop.RepositoryOwner,
		repoName:          loop.RepositoryName,
		branch:            loop.Branch,
	})
}

// Archive cancels every pending run and flips the loop to archived.
func (s *LoopSchedulerService) Archive(ctx context.Context, loopID string) error {
	loop, err := s.store.GetLoop(ctx, loopID)
	if err != nil {
		return apierr.NotFound("loop not found")
	}
	runs, err := s.store.ListRunsByLoop(ctx, loopID)
	if err != nil {
		return apierr.Internal("list runs: %v", err)
	}
	for _, r := range runs {
		if r.Status == agentloop.RunPending {
			if err := s.store.UpdateRunStatus(ctx, r.ID, agentloop.RunCancelled, database.RunStatusUpdate{}); err != nil {
				return apierr.Internal("cancel pending run: %v", err)
			}
		}
	}
	loop.Status = agentloop.StatusArchived
	return s.saveLoop(ctx, loop)
}

func (s *LoopSchedulerService) Pause(ctx context.Context, loopID string) error {
	return s.setLoopStatus(ctx, loopID, agentloop.StatusActive, agentloop.StatusPaused)
}

func (s *LoopSchedulerService) Resume(ctx context.Context, loopID string) error {
	return s.setLoopStatus(ctx, loopID, agentloop.StatusPaused, agentloop.StatusActive)
}

func (s *LoopSchedulerService) Complete(ctx context.Context, loopID string) error {
	loop, err := s.store.GetLoop(ctx, loopID)
	if err != nil {
		return apierr.NotFound("loop not found")
	}
	loop.Status = agentloop.StatusCompleted
	return s.saveLoop(ctx, loop)
}

func (s *LoopSchedulerService) setLoopStatus(ctx context.Context, loopID string, from, to agentloop.Status) error {
	loop, err := s.store.GetLoop(ctx, loopID)
	if err != nil {
		return apierr.NotFound("loop not found")
	}
	if loop.Status != from {
		return apierr.BadRequest("loop is not %s", from)
	}
	loop.Status = to
	return s.saveLoop(ctx, loop)
}

// Delete cascades to the loop's runs at the storage layer.
func (s *LoopSchedulerService) Delete(ctx context.Context, loopID string) error {
	if err := s.store.DeleteLoop(ctx, loopID); err != nil {
		return apierr.FromStore(err, "delete loop")
	}
	return nil
}

// ListStalledRuns lists restart-eligible stalled runs for an operator or
// UI to act on; it does not restart them.
func (s *LoopSchedulerService) ListStalledRuns(ctx context.Context) ([]agentloop.Run, error) {
	runs, err := s.store.ListStalledRuns(ctx, time.Now().Add(-agentloop.StallWindow))
	if err != nil {
		return nil, apierr.Internal("list stalled runs: %v", err)
	}
	return runs, nil
}

func orDefault(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
