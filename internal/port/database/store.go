// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/openclave/controlplane/internal/domain/agentloop"
	"github.com/openclave/controlplane/internal/domain/catalog"
	"github.com/openclave/controlplane/internal/domain/credential"
	"github.com/openclave/controlplane/internal/domain/gitintegration"
	"github.com/openclave/controlplane/internal/domain/quota"
	"github.com/openclave/controlplane/internal/domain/systemconfig"
	"github.com/openclave/controlplane/internal/domain/usage"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/domain/workspace"
)

// Store is the port interface for all relational persistence. Methods that
// mutate a versioned row take the expected version and return
// domain.ErrConflict when the row has moved on (optimistic concurrency).
type Store interface {
	// Users — rows are upserted from the external identity service's sync
	// feed; Role and Plan may additionally be mutated by UpdateUserRolePlan.
	UpsertUser(ctx context.Context, u *user.User) error
	GetUser(ctx context.Context, id string) (*user.User, error)
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
	UpdateUserRolePlan(ctx context.Context, id string, role user.Role, plan user.Plan) error

	// Catalog
	ListCloudProviders(ctx context.Context) ([]catalog.CloudProvider, error)
	GetCloudProvider(ctx context.Context, id string) (*catalog.CloudProvider, error)
	ListRegions(ctx context.Context, cloudProviderID string) ([]catalog.Region, error)
	GetRegion(ctx context.Context, id string) (*catalog.Region, error)
	ListAgentTypes(ctx context.Context) ([]catalog.AgentType, error)
	GetAgentType(ctx context.Context, id string) (*catalog.AgentType, error)
	GetImageForAgentType(ctx context.Context, agentTypeID string) (*catalog.Image, error)

	// Workspaces
	CreateWorkspace(ctx context.Context, w *workspace.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*workspace.Workspace, error)
	GetWorkspaceBySubdomain(ctx context.Context, subdomain string) (*workspace.Workspace, error)
	ListWorkspacesByUser(ctx context.Context, userID string) ([]workspace.Workspace, error)
	ListNonTerminatedWorkspacesByUser(ctx context.Context, userID string) ([]workspace.Workspace, error)
	ListWorkspacesForIdleReap(ctx context.Context, idleSince time.Time) ([]workspace.Workspace, error)
	// ListRunningWorkspaces returns every running cloud workspace,
	// regardless of last-activity time, for the quota reaper to
	// re-validate per owner.
	ListRunningWorkspaces(ctx context.Context) ([]workspace.Workspace, error)
	// ListWorkspacesForInactivityReap returns running or stopped cloud
	// workspaces untouched since cutoff, for the long-term-inactive reaper.
	ListWorkspacesForInactivityReap(ctx context.Context, cutoff time.Time) ([]workspace.Workspace, error)
	// UpdateWorkspace performs an optimistic-concurrency UPDATE keyed on
	// w.Version; it returns domain.ErrConflict when no row matched.
	UpdateWorkspace(ctx context.Context, w *workspace.Workspace) error
	TouchWorkspaceActivity(ctx context.Context, id string, at time.Time) error
	IsSubdomainTaken(ctx context.Context, subdomain string) (bool, error)

	// Volumes
	CreateVolume(ctx context.Context, v *workspace.Volume) error
	GetVolumeByWorkspace(ctx context.Context, workspaceID string) (*workspace.Volume, error)

	// Usage sessions
	OpenUsageSession(ctx context.Context, s *usage.Session) error
	GetOpenUsageSessionByWorkspace(ctx context.Context, workspaceID string) (*usage.Session, error)
	CloseUsageSession(ctx context.Context, id string, stoppedAt time.Time, durationMinutes int, source usage.StopSource) error

	// Daily usage
	GetDailyUsage(ctx context.Context, userID string, date time.Time) (*usage.Daily, error)
	IncrementDailyUsage(ctx context.Context, userID string, date time.Time, minutes int) error

	// Agent loops
	CreateLoop(ctx context.Context, l *agentloop.Loop) error
	GetLoop(ctx context.Context, id string) (*agentloop.Loop, error)
	ListLoopsByUser(ctx context.Context, userID string) ([]agentloop.Loop, error)
	UpdateLoop(ctx context.Context, l *agentloop.Loop) error
	DeleteLoop(ctx context.Context, id string) error

	// Agent loop runs
	// CreateRunLocked must be called while holding a row lock on the
	// parent loop (e.g. `SELECT ... FOR UPDATE`) so run_number assignment
	// and the at-most-one-in-flight-run invariant are atomic with the
	// caller's check.
	CreateRunLocked(ctx context.Context, r *agentloop.Run) error
	GetRun(ctx context.Context, id string) (*agentloop.Run, error)
	ListRunsByLoop(ctx context.Context, loopID string) ([]agentloop.Run, error)
	GetInFlightRun(ctx context.Context, loopID string) (*agentloop.Run, error)
	UpdateRunStatus(ctx context.Context, id string, status agentloop.RunStatus, fields RunStatusUpdate) error
	ListStalledRuns(ctx context.Context, before time.Time) ([]agentloop.Run, error)
	NextRunNumber(ctx context.Context, loopID string) (int, error)

	// Model catalog
	ListModelProviders(ctx context.Context) ([]credential.ModelProvider, error)
	GetModelProvider(ctx context.Context, id string) (*credential.ModelProvider, error)
	ListModels(ctx context.Context, modelProviderID string) ([]credential.Model, error)
	GetModel(ctx context.Context, id string) (*credential.Model, error)

	// User credentials
	UpsertCredential(ctx context.Context, c *credential.UserCredential) error
	GetCredential(ctx context.Context, userID, modelProviderID string) (*credential.UserCredential, error)
	GetCredentialByID(ctx context.Context, id string) (*credential.UserCredential, error)
	ListCredentialsByUser(ctx context.Context, userID string) ([]credential.UserCredential, error)
	RevokeCredential(ctx context.Context, id string, at time.Time) error
	DeleteCredential(ctx context.Context, id string) error

	// Quota
	GetOrCreateQuota(ctx context.Context, userID string, nextReset time.Time) (*quota.UserLoopRunQuota, error)
	SaveQuota(ctx context.Context, q *quota.UserLoopRunQuota) error
	ListQuotasDueForReset(ctx context.Context, asOf time.Time) ([]quota.UserLoopRunQuota, error)

	// System config
	GetSystemConfig(ctx context.Context, key string) (*systemconfig.Entry, error)
	ListSystemConfig(ctx context.Context) ([]systemconfig.Entry, error)
	SetSystemConfig(ctx context.Context, key, value string) error

	// Git integrations
	CreateGitIntegration(ctx context.Context, g *gitintegration.Integration) error
	GetGitIntegration(ctx context.Context, id string) (*gitintegration.Integration, error)
	GetGitIntegrationByUser(ctx context.Context, userID string) (*gitintegration.Integration, error)
	GetGitIntegrationByInstallation(ctx context.Context, installationID string) (*gitintegration.Integration, error)
	DeleteGitIntegration(ctx context.Context, id string) error

	// WithLoopLock begins a transaction, takes a row lock
	// (`SELECT ... FOR UPDATE`) on the loop identified by loopID, and runs
	// fn with a Store bound to that transaction. Committing on fn's success
	// and rolling back otherwise makes run creation atomic with the
	// at-most-one-in-flight check.
	WithLoopLock(ctx context.Context, loopID string, fn func(ctx context.Context, tx Store) error) error

	// WithWorkspaceLock is the workspace-row equivalent of WithLoopLock,
	// linearizing state-machine transitions per workspace.
	WithWorkspaceLock(ctx context.Context, workspaceID string, fn func(ctx context.Context, tx Store) error) error
}

// RunStatusUpdate carries the optional fields a run-status transition may
// set, kept as a struct so UpdateRunStatus doesn't grow an unbounded
// parameter list as more terminal-state detail is added.
type RunStatusUpdate struct {
	SandboxExternalID *string
	ExitCode          *int
	FailureReason     *string
	DiffSummary       *string
	StartedAt         *time.Time
	CompletedAt       *time.Time
}
