package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openclave/controlplane/internal/authtoken"
	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/gitintegration"
	"github.com/openclave/controlplane/internal/domain/usage"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/domain/workspace"
	"github.com/openclave/controlplane/internal/port/broadcast"
	"github.com/openclave/controlplane/internal/port/computeprovider"
	"github.com/openclave/controlplane/internal/port/database"
	"github.com/openclave/controlplane/internal/port/gitprovider"
)

// maxSubdomainAttempts bounds the subdomain generate-and-retry loop.
const maxSubdomainAttempts = 10

// workspaceTokenTTL is the lifetime of the JWT minted for the in-workspace
// agent to call back into the control plane.
const workspaceTokenTTL = time.Hour

// WorkspaceService implements admission, state transitions, and reaping
// for the Workspace Orchestrator. Grounded on the
// teacher's RuntimeService lifecycle split: a short DB-transactional
// section followed by external dispatch strictly after commit.
type WorkspaceService struct {
	store       database.Store
	quota       *QuotaService
	broadcaster broadcast.Broadcaster
	signer      *authtoken.Signer
	providers   map[string]computeprovider.Provider // keyed by CloudProvider.Name, lower-cased
	git         gitprovider.Provider
	baseURL     string

	// AdminUserIDs bypasses the 1-concurrent-workspace cap.
	AdminUserIDs map[string]bool
}

func NewWorkspaceService(
	store database.Store,
	quota *QuotaService,
	broadcaster broadcast.Broadcaster,
	signer *authtoken.Signer,
	providers map[string]computeprovider.Provider,
	git gitprovider.Provider,
	baseURL string,
) *WorkspaceService {
	return &WorkspaceService{
		store:        store,
		quota:        quota,
		broadcaster:  broadcaster,
		signer:       signer,
		providers:    providers,
		git:          git,
		baseURL:      baseURL,
		AdminUserIDs: map[string]bool{},
	}
}

func (s *WorkspaceService) provider(name string) (computeprovider.Provider, error) {
	p, ok := s.providers[strings.ToLower(name)]
	if !ok {
		return nil, apierr.Internal("no compute provider registered for %q", name)
	}
	return p, nil
}

// providerForWorkspace resolves the compute backend for a persisted
// workspace, whose CloudProviderID references the catalog row rather than
// the provider's registry name directly.
func (s *WorkspaceService) providerForWorkspace(ctx context.Context, ws *workspace.Workspace) (computeprovider.Provider, error) {
	cp, err := s.store.GetCloudProvider(ctx, ws.CloudProviderID)
	if err != nil {
		return nil, apierr.FromStore(err, "load cloud provider for workspace")
	}
	return s.provider(cp.Name)
}

// CreateWorkspace runs the full admission sequence: provider/region/agent
// type validation, quota and concurrency checks, subdomain resolution,
// and workspace provisioning.
func (s *WorkspaceService) CreateWorkspace(ctx context.Context, u *user.User, req workspace.CreateRequest) (*workspace.Workspace, error) {
	provider, err := s.store.GetCloudProvider(ctx, req.CloudProviderID)
	if err != nil || !provider.IsEnabled {
		return nil, apierr.BadRequest("unknown or disabled cloud provider")
	}
	region, err := s.store.GetRegion(ctx, req.RegionID)
	if err != nil || !region.IsEnabled {
		return nil, apierr.BadRequest("unknown or disabled region")
	}
	if region.CloudProviderID != provider.ID {
		return nil, apierr.BadRequest("region does not belong to the selected provider")
	}
	agentType, err := s.store.GetAgentType(ctx, req.AgentTypeID)
	if err != nil || !agentType.IsEnabled {
		return nil, apierr.BadRequest("unknown or disabled agent type")
	}
	image, err := s.store.GetImageForAgentType(ctx, agentType.ID)
	if err != nil || !image.IsEnabled {
		return nil, apierr.BadRequest("no enabled image for agent type")
	}

	hosting := workspace.HostingCloud
	if provider.IsLocal() {
		hosting = workspace.HostingLocal
	}

	if hosting == workspace.HostingCloud {
		ok, err := s.quota.HasRemainingQuota(ctx, u.ID, u.Plan)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apierr.QuotaExceeded("daily usage quota exhausted")
		}
		if req.RepositoryURL == nil {
			return nil, apierr.BadRequest("repository is required for a cloud workspace")
		}
	} else {
		if !agentType.ServerOnly {
			return nil, apierr.BadRequest("local-tunnel workspaces require a server-only agent type")
		}
	}

	if !s.AdminUserIDs[u.ID] {
		existing, err := s.store.ListNonTerminatedWorkspacesByUser(ctx, u.ID)
		if err != nil {
			return nil, apierr.Internal("list workspaces: %v", err)
		}
		if len(existing) > 0 {
			return nil, apierr.Forbidden("only one concurrent workspace is permitted")
		}
	}

	subdomain, err := s.resolveSubdomain(ctx, u, hosting, req.Subdomain)
	if err != nil {
		return nil, err
	}

	ws := &workspace.Workspace{
		ID:               uuid.NewString(),
		UserID:           u.ID,
		Subdomain:        subdomain,
		Domain:           subdomain + "." + s.baseDomain(),
		Name:             req.Name,
		CloudProviderID:  provider.ID,
		RegionID:         region.ID,
		ImageID:          image.ID,
		HostingType:      hosting,
		Persistent:       req.Persistent,
		ServerOnly:       agentType.ServerOnly,
		GitIntegrationID: req.GitIntegrationID,
		RepositoryURL:    req.RepositoryURL,
		Status:           workspace.StatusPending,
		StartedAt:        time.Now(),
		LastActiveAt:     time.Now(),
	}

	env, err := s.buildEnv(ctx, req, subdomain)
	if err != nil {
		return nil, err
	}
	if err := s.attachWorkspaceToken(env, ws); err != nil {
		return nil, err
	}

	cp, err := s.provider(provider.Name)
	if err != nil {
		return nil, err
	}

	params := computeprovider.CreateParams{
		WorkspaceID:   ws.ID,
		RegionID:      region.ExternalRegionIdentifier,
		ImageID:       image.ImageID,
		Subdomain:     subdomain,
		RepositoryURL: req.RepositoryURL,
		ExtraEnv:      env,
	}

	var volume *workspace.Volume
	if req.Persistent {
		volumeExternalID := uuid.NewString()
		result, err := cp.CreatePersistentWorkspace(ctx, params, volumeExternalID, "/workspace")
		if err != nil {
			return nil, apierr.Internal("provision persistent workspace: %v", err)
		}
		ws.ExternalInstanceID = result.ExternalInstanceID
		ws.UpstreamURL = result.UpstreamURL
		volume = &workspace.Volume{
			ID:               uuid.NewString(),
			WorkspaceID:      ws.ID,
			ExternalVolumeID: volumeExternalID,
			MountPath:        "/workspace",
		}
	} else {
		result, err := cp.CreateWorkspace(ctx, params)
		if err != nil {
			return nil, apierr.Internal("provision workspace: %v", err)
		}
		ws.ExternalInstanceID = result.ExternalInstanceID
		ws.UpstreamURL = result.UpstreamURL
	}

	if err := s.store.CreateWorkspace(ctx, ws); err != nil {
		return nil, apierr.Internal("persist workspace: %v", err)
	}
	if volume != nil {
		if err := s.store.CreateVolume(ctx, volume); err != nil {
			return nil, apierr.Internal("persist volume: %v", err)
		}
	}
	if hosting == workspace.HostingCloud {
		if err := s.quota.OpenUsageSession(ctx, ws.ID, u.ID); err != nil {
			return nil, err
		}
	}

	s.emitStatus(ctx, ws)
	return ws, nil
}

func (s *WorkspaceService) baseDomain() string {
	return s.baseURL
}

// resolveSubdomain validates a requested custom subdomain or generates
// one, retrying on collision.
func (s *WorkspaceService) resolveSubdomain(ctx context.Context, u *user.User, hosting workspace.HostingType, requested *string) (string, error) {
	if requested != nil && *requested != "" {
		if !u.AllowsCustomSubdomain(string(hosting)) {
			return "", apierr.Forbidden("your plan does not allow a custom subdomain")
		}
		if workspace.ReservedSubdomains[*requested] {
			return "", apierr.BadRequest("subdomain %q is reserved", *requested)
		}
		taken, err := s.store.IsSubdomainTaken(ctx, *requested)
		if err != nil {
			return "", apierr.Internal("check subdomain: %v", err)
		}
		if taken {
			return "", apierr.Conflict("subdomain already taken")
		}
		return *requested, nil
	}

	for i := 0; i < maxSubdomainAttempts; i++ {
		candidate := "ws-" + randomHex(4)
		if workspace.ReservedSubdomains[candidate] {
			continue
		}
		taken, err := s.store.IsSubdomainTaken(ctx, candidate)
		if err != nil {
			return "", apierr.Internal("check subdomain: %v", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", apierr.Internal("could not allocate a unique subdomain after %d attempts", maxSubdomainAttempts)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// buildEnv assembles the environment-variable map injected into the
// workspace.
func (s *WorkspaceService) buildEnv(ctx context.Context, req workspace.CreateRequest, subdomain string) (map[string]string, error) {
	env := map[string]string{}
	for k, v := range req.ExtraEnv {
		env[k] = v
	}
	if req.RepositoryURL != nil {
		env["REPO_URL"] = *req.RepositoryURL
	}

	var integ *gitintegration.Integration
	if req.GitIntegrationID != nil {
		var err error
		integ, err = s.store.GetGitIntegration(ctx, *req.GitIntegrationID)
		if err != nil {
			slog.Warn("git integration lookup failed", "git_integration_id", *req.GitIntegrationID, "error", err)
		}
	}
	if integ != nil && s.git != nil {
		env["USER_GITHUB_USERNAME"] = integ.AccountLogin
		token, expiry, err := s.git.InstallationToken(ctx, integ.InstallationID)
		if err != nil {
			slog.Warn("github app token fetch failed", "installation_id", integ.InstallationID, "error", err)
		} else {
			env["GITHUB_APP_TOKEN"] = token
			env["GITHUB_APP_TOKEN_EXPIRY"] = expiry.Format(time.RFC3339)
		}
	}

	return env, nil
}

// attachWorkspaceToken mints the workspace-scoped JWT once the workspace
// ID is known and merges it + the API URL into env.
func (s *WorkspaceService) attachWorkspaceToken(env map[string]string, ws *workspace.Workspace) error {
	tok, err := s.signer.MintWorkspaceToken(ws.ID, ws.UserID, workspaceTokenTTL)
	if err != nil {
		return apierr.Internal("mint workspace token: %v", err)
	}
	env["WORKSPACE_ID"] = ws.ID
	env["WORKSPACE_AUTH_TOKEN"] = tok
	env["WORKSPACE_API_URL"] = s.baseURL
	return nil
}

func (s *WorkspaceService) emitStatus(ctx context.Context, ws *workspace.Workspace) {
	s.broadcaster.BroadcastEvent(ctx, "workspace-status", map[string]any{
		"workspaceId": ws.ID,
		"status":      ws.Status,
		"userId":      ws.UserID,
		"domain":      ws.Domain,
		"updatedAt":   time.Now(),
	})
}

// MarkRunning transitions pending -> running on external "deployed"
// acknowledgement or local tunnel connect.
func (s *WorkspaceService) MarkRunning(ctx context.Context, workspaceID, externalDeploymentID string) error {
	return s.store.WithWorkspaceLock(ctx, workspaceID, func(ctx context.Context, tx database.Store) error {
		ws, err := tx.GetWorkspace(ctx, workspaceID)
		if err != nil {
			return apierr.NotFound("workspace not found")
		}
		if !workspace.CanTransition(ws.Status, workspace.StatusRunning) {
			return apierr.BadRequest("cannot mark %s workspace running", ws.Status)
		}
		ws.Status = workspace.StatusRunning
		ws.ExternalRunningDeploymentID = &externalDeploymentID
		if err := tx.UpdateWorkspace(ctx, ws); err != nil {
			return translateConcurrency(err)
		}
		if ws.HostingType == workspace.HostingCloud {
			if err := s.quota.OpenUsageSession(ctx, ws.ID, ws.UserID); err != nil {
				return err
			}
		}
		s.emitStatus(ctx, ws)
		return nil
	})
}

// UpdateTunnelPorts records a local-tunnel agent's port announcement
//: sets local_port/exposed_ports/tunnel_connected_at
// and transitions a pending local workspace to running, since a local
// workspace has no external "deployed" acknowledgement — the first port
// announcement over the tunnel is that acknowledgement.
func (s *WorkspaceService) UpdateTunnelPorts(ctx context.Context, workspaceID string, localPort *int, ports map[string]workspace.ExposedPort) error {
	return s.store.WithWorkspaceLock(ctx, workspaceID, func(ctx context.Context, tx database.Store) error {
		ws, err := tx.GetWorkspace(ctx, workspaceID)
		if err != nil {
			return apierr.NotFound("workspace not found")
		}
		if ws.Status == workspace.StatusTerminated {
			return apierr.Conflict("workspace is terminated")
		}
		now := time.Now()
		ws.LocalPort = localPort
		ws.ExposedPorts = ports
		if ws.TunnelConnectedAt == nil {
			ws.TunnelConnectedAt = &now
		}
		if ws.Status == workspace.StatusPending && workspace.CanTransition(ws.Status, workspace.StatusRunning) {
			ws.Status = workspace.StatusRunning
		}
		ws.LastActiveAt = now
		if err := tx.UpdateWorkspace(ctx, ws); err != nil {
			return translateConcurrency(err)
		}
		s.emitStatus(ctx, ws)
		return nil
	})
}

// Stop implements the running->stopped transition for every stop source:
// manual call, idle reaper, or quota reaper.
func (s *WorkspaceService) Stop(ctx context.Context, workspaceID string, source usage.StopSource) error {
	return s.store.WithWorkspaceLock(ctx, workspaceID, func(ctx context.Context, tx database.Store) error {
		ws, err := tx.GetWorkspace(ctx, workspaceID)
		if err != nil {
			return apierr.NotFound("workspace not found")
		}
		if ws.Status == workspace.StatusStopped || ws.Status == workspace.StatusTerminated {
			return nil // idempotent: concurrent stop+terminate collapse to one terminal state
		}
		if !workspace.CanTransition(ws.Status, workspace.StatusStopped) {
			return apierr.BadRequest("cannot stop a %s workspace", ws.Status)
		}
		cp, err := s.providerForWorkspace(ctx, ws)
		if err == nil {
			if err := cp.StopWorkspace(ctx, ws); err != nil {
				return apierr.Internal("stop upstream: %v", err)
			}
		}
		now := time.Now()
		ws.Status = workspace.StatusStopped
		ws.StoppedAt = &now
		if err := tx.UpdateWorkspace(ctx, ws); err != nil {
			return translateConcurrency(err)
		}
		if err := s.quota.CloseUsageSession(ctx, ws.ID, source); err != nil {
			return err
		}
		s.emitStatus(ctx, ws)
		return nil
	})
}

// Restart implements stopped->pending, re-checking daily quota first.
func (s *WorkspaceService) Restart(ctx context.Context, u *user.User, workspaceID string) error {
	return s.store.WithWorkspaceLock(ctx, workspaceID, func(ctx context.Context, tx database.Store) error {
		ws, err := tx.GetWorkspace(ctx, workspaceID)
		if err != nil {
			return apierr.NotFound("workspace not found")
		}
		if !workspace.CanTransition(ws.Status, workspace.StatusPending) {
			return apierr.BadRequest("cannot restart a %s workspace", ws.Status)
		}
		if ws.HostingType == workspace.HostingCloud {
			ok, err := s.quota.HasRemainingQuota(ctx, u.ID, u.Plan)
			if err != nil {
				return err
			}
			if !ok {
				return apierr.QuotaExceeded("daily usage quota exhausted")
			}
		}
		cp, err := s.providerForWorkspace(ctx, ws)
		if err == nil {
			if err := cp.RestartWorkspace(ctx, ws); err != nil {
				return apierr.Internal("restart upstream: %v", err)
			}
		}
		ws.Status = workspace.StatusPending
		ws.StoppedAt = nil
		if err := tx.UpdateWorkspace(ctx, ws); err != nil {
			return translateConcurrency(err)
		}
		s.emitStatus(ctx, ws)
		return nil
	})
}

// Terminate implements {any}->terminated: closes any open session and
// terminates the upstream instance. A persistent workspace's Volume row
// outlives termination until explicitly deleted.
func (s *WorkspaceService) Terminate(ctx context.Context, workspaceID string) error {
	return s.store.WithWorkspaceLock(ctx, workspaceID, func(ctx context.Context, tx database.Store) error {
		ws, err := tx.GetWorkspace(ctx, workspaceID)
		if err != nil {
			return apierr.NotFound("workspace not found")
		}
		if ws.Status == workspace.StatusTerminated {
			return nil // idempotent terminate
		}
		cp, err := s.providerForWorkspace(ctx, ws)
		if err == nil {
			if err := cp.TerminateWorkspace(ctx, ws); err != nil {
				return apierr.Internal("terminate upstream: %v", err)
			}
		}
		now := time.Now()
		ws.Status = workspace.StatusTerminated
		ws.TerminatedAt = &now
		if err := tx.UpdateWorkspace(ctx, ws); err != nil {
			return translateConcurrency(err)
		}
		if ws.HostingType == workspace.HostingCloud {
			if err := s.quota.CloseUsageSession(ctx, ws.ID, usage.StopManual); err != nil {
				return err
			}
		}
		s.emitStatus(ctx, ws)
		return nil
	})
}

// HeartbeatResult is the agent-facing response to Heartbeat.
type HeartbeatResult struct {
	Action string `json:"action"` // "continue" | "shutdown"
	Reason string `json:"reason,omitempty"`
}

// Heartbeat verifies the caller's workspace JWT, re-checks daily quota,
// and updates liveness.
func (s *WorkspaceService) Heartbeat(ctx context.Context, claims *authtoken.WorkspaceClaims, workspaceID string) (*HeartbeatResult, error) {
	if claims.WorkspaceID != workspaceID {
		return nil, apierr.Forbidden("token does not authorize this workspace")
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, apierr.NotFound("workspace not found")
	}
	if ws.UserID != claims.UserID {
		return nil, apierr.Forbidden("token user mismatch")
	}

	u, err := s.store.GetUser(ctx, ws.UserID)
	if err == nil && ws.HostingType == workspace.HostingCloud {
		ok, qerr := s.quota.HasRemainingQuota(ctx, u.ID, u.Plan)
		if qerr == nil && !ok {
			return &HeartbeatResult{Action: "shutdown", Reason: "quota_exhausted"}, nil
		}
	}

	if err := s.store.TouchWorkspaceActivity(ctx, workspaceID, time.Now()); err != nil {
		return nil, apierr.Internal("touch activity: %v", err)
	}
	return &HeartbeatResult{Action: "continue"}, nil
}

// IdleReap stops running cloud workspaces whose last activity predates
// idle_timeout_minutes.
func (s *WorkspaceService) IdleReap(ctx context.Context, idleTimeoutMinutes int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(idleTimeoutMinutes) * time.Minute)
	rows, err := s.store.ListWorkspacesForIdleReap(ctx, cutoff)
	if err != nil {
		return 0, apierr.Internal("list idle workspaces: %v", err)
	}
	stopped := 0
	for _, ws := range rows {
		if err := s.Stop(ctx, ws.ID, usage.StopIdle); err != nil {
			slog.Error("idle reap stop failed", "workspace_id", ws.ID, "error", err)
			continue
		}
		stopped++
	}
	return stopped, nil
}

// QuotaReap stops running cloud workspaces whose owner has exhausted
// today's free-tier minutes. The store-level query
// is expressed as ListWorkspacesForIdleReap's sibling in the adapter;
// here the service re-validates via QuotaService per workspace to keep
// the quota-exhaustion check centralized.
func (s *WorkspaceService) QuotaReap(ctx context.Context, candidates []workspace.Workspace) (int, error) {
	stopped := 0
	for _, ws := range candidates {
		if ws.Status != workspace.StatusRunning || ws.HostingType != workspace.HostingCloud {
			continue
		}
		u, err := s.store.GetUser(ctx, ws.UserID)
		if err != nil {
			continue
		}
		ok, err := s.quota.HasRemainingQuota(ctx, u.ID, u.Plan)
		if err != nil || ok {
			continue
		}
		if err := s.Stop(ctx, ws.ID, usage.StopQuotaExhausted); err != nil {
			slog.Error("quota reap stop failed", "workspace_id", ws.ID, "error", err)
			continue
		}
		stopped++
	}
	return stopped, nil
}

// longTermInactiveThreshold terminates cloud workspaces that have been
// untouched this long, regardless of status.
const longTermInactiveThreshold = 4 * 24 * time.Hour

// LongTermInactiveReap terminates cloud workspaces (running or stopped)
// inactive beyond longTermInactiveThreshold.
func (s *WorkspaceService) LongTermInactiveReap(ctx context.Context, candidates []workspace.Workspace) (int, error) {
	cutoff := time.Now().Add(-longTermInactiveThreshold)
	terminated := 0
	for _, ws := range candidates {
		if ws.HostingType != workspace.HostingCloud {
			continue
		}
		if ws.Status != workspace.StatusRunning && ws.Status != workspace.StatusStopped {
			continue
		}
		if ws.LastActiveAt.After(cutoff) {
			continue
		}
		if err := s.Terminate(ctx, ws.ID); err != nil {
			slog.Error("long-term inactive reap failed", "workspace_id", ws.ID, "error", err)
			continue
		}
		terminated++
	}
	return terminated, nil
}

func translateConcurrency(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return apierr.FromStore(err, "update workspace")
}
