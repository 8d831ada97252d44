package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openclave/controlplane/internal/authtoken"
	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/catalog"
	"github.com/openclave/controlplane/internal/domain/systemconfig"
	"github.com/openclave/controlplane/internal/domain/usage"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/domain/workspace"
	"github.com/openclave/controlplane/internal/port/computeprovider"
	"github.com/openclave/controlplane/internal/port/database"
)

type workspaceStubStore struct {
	database.Store
	providers map[string]catalog.CloudProvider
	regions   map[string]catalog.Region
	agents    map[string]catalog.AgentType
	images    map[string]catalog.Image
	ws        map[string]*workspace.Workspace
	taken     map[string]bool
	users     map[string]*user.User
	volumes   []workspace.Volume
}

func newWorkspaceStubStore() *workspaceStubStore {
	return &workspaceStubStore{
		providers: make(map[string]catalog.CloudProvider),
		regions:   make(map[string]catalog.Region),
		agents:    make(map[string]catalog.AgentType),
		images:    make(map[string]catalog.Image),
		ws:        make(map[string]*workspace.Workspace),
		taken:     make(map[string]bool),
		users:     make(map[string]*user.User),
	}
}

func (s *workspaceStubStore) GetCloudProvider(_ context.Context, id string) (*catalog.CloudProvider, error) {
	if p, ok := s.providers[id]; ok {
		return &p, nil
	}
	return nil, errors.New("not found")
}

func (s *workspaceStubStore) GetRegion(_ context.Context, id string) (*catalog.Region, error) {
	if r, ok := s.regions[id]; ok {
		return &r, nil
	}
	return nil, errors.New("not found")
}

func (s *workspaceStubStore) GetAgentType(_ context.Context, id string) (*catalog.AgentType, error) {
	if a, ok := s.agents[id]; ok {
		return &a, nil
	}
	return nil, errors.New("not found")
}

func (s *workspaceStubStore) GetImageForAgentType(_ context.Context, agentTypeID string) (*catalog.Image, error) {
	if img, ok := s.images[agentTypeID]; ok {
		return &img, nil
	}
	return nil, errors.New("not found")
}

func (s *workspaceStubStore) ListNonTerminatedWorkspacesByUser(_ context.Context, userID string) ([]workspace.Workspace, error) {
	var out []workspace.Workspace
	for _, w := range s.ws {
		if w.UserID == userID && w.IsNonTerminated() {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s *workspaceStubStore) IsSubdomainTaken(_ context.Context, subdomain string) (bool, error) {
	return s.taken[subdomain], nil
}

func (s *workspaceStubStore) CreateWorkspace(_ context.Context, w *workspace.Workspace) error {
	s.ws[w.ID] = w
	return nil
}

func (s *workspaceStubStore) CreateVolume(_ context.Context, v *workspace.Volume) error {
	s.volumes = append(s.volumes, *v)
	return nil
}

func (s *workspaceStubStore) GetWorkspace(_ context.Context, id string) (*workspace.Workspace, error) {
	if w, ok := s.ws[id]; ok {
		return w, nil
	}
	return nil, errors.New("not found")
}

func (s *workspaceStubStore) UpdateWorkspace(_ context.Context, w *workspace.Workspace) error {
	s.ws[w.ID] = w
	return nil
}

func (s *workspaceStubStore) TouchWorkspaceActivity(_ context.Context, id string, at time.Time) error {
	if w, ok := s.ws[id]; ok {
		w.LastActiveAt = at
	}
	return nil
}

func (s *workspaceStubStore) GetUser(_ context.Context, id string) (*user.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

func (s *workspaceStubStore) ListWorkspacesForIdleReap(_ context.Context, cutoff time.Time) ([]workspace.Workspace, error) {
	var out []workspace.Workspace
	for _, w := range s.ws {
		if w.Status == workspace.StatusRunning && w.HostingType == workspace.HostingCloud && w.LastActiveAt.Before(cutoff) {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s *workspaceStubStore) ListSystemConfig(_ context.Context) ([]systemconfig.Entry, error) {
	return nil, nil
}

// WithWorkspaceLock runs fn directly against s: the stub store has no
// concurrent callers, so no real locking is needed.
func (s *workspaceStubStore) WithWorkspaceLock(ctx context.Context, _ string, fn func(ctx context.Context, tx database.Store) error) error {
	return fn(ctx, s)
}

type stubBroadcaster struct {
	events []string
}

func (b *stubBroadcaster) BroadcastEvent(_ context.Context, eventType string, _ any) {
	b.events = append(b.events, eventType)
}

type stubComputeProvider struct {
	name       string
	stopErr    error
	restartErr error
}

func (p *stubComputeProvider) Name() string { return p.name }

func (p *stubComputeProvider) CreateWorkspace(_ context.Context, params computeprovider.CreateParams) (*computeprovider.CreateResult, error) {
	return &computeprovider.CreateResult{ExternalInstanceID: "ext-" + params.WorkspaceID}, nil
}

func (p *stubComputeProvider) CreatePersistentWorkspace(_ context.Context, params computeprovider.CreateParams, volumeExternalID, _ string) (*computeprovider.CreateResult, error) {
	return &computeprovider.CreateResult{ExternalInstanceID: "ext-" + params.WorkspaceID}, nil
}

func (p *stubComputeProvider) StopWorkspace(_ context.Context, _ *workspace.Workspace) error { return p.stopErr }

func (p *stubComputeProvider) RestartWorkspace(_ context.Context, _ *workspace.Workspace) error {
	return p.restartErr
}

func (p *stubComputeProvider) TerminateWorkspace(_ context.Context, _ *workspace.Workspace) error { return nil }

func (p *stubComputeProvider) StartSandboxRun(_ context.Context, runID, _, _, _, _ string) (string, error) {
	return "sandbox-" + runID, nil
}

func (p *stubComputeProvider) StopSandboxRun(_ context.Context, _ string) error { return nil }

func newWorkspaceFixture() (*WorkspaceService, *workspaceStubStore, *stubBroadcaster) {
	store := newWorkspaceStubStore()
	store.providers["cloud-1"] = catalog.CloudProvider{ID: "cloud-1", Name: "fakecloud", IsEnabled: true}
	store.providers["local-1"] = catalog.CloudProvider{ID: "local-1", Name: "Local", IsEnabled: true}
	store.regions["region-1"] = catalog.Region{ID: "region-1", CloudProviderID: "cloud-1", IsEnabled: true, ExternalRegionIdentifier: "us-east"}
	store.regions["region-local"] = catalog.Region{ID: "region-local", CloudProviderID: "local-1", IsEnabled: true}
	store.agents["agent-1"] = catalog.AgentType{ID: "agent-1", IsEnabled: true}
	store.agents["agent-server"] = catalog.AgentType{ID: "agent-server", IsEnabled: true, ServerOnly: true}
	store.images["agent-1"] = catalog.Image{ID: "img-1", AgentTypeID: "agent-1", IsEnabled: true, ImageID: "ami-1"}
	store.images["agent-server"] = catalog.Image{ID: "img-2", AgentTypeID: "agent-server", IsEnabled: true, ImageID: "ami-2"}

	quota := NewQuotaService(newQuotaStubStore(), NewConfigCache(store))
	broadcaster := &stubBroadcaster{}
	signer := authtoken.NewSigner("test-secret")
	providers := map[string]computeprovider.Provider{
		"fakecloud": &stubComputeProvider{name: "fakecloud"},
		"local":     &stubComputeProvider{name: "local"},
	}
	svc := NewWorkspaceService(store, quota, broadcaster, signer, providers, nil, "example.com")
	return svc, store, broadcaster
}

func repoURL() *string {
	u := "https://github.com/acme/repo"
	return &u
}

func TestCreateWorkspace_CloudRequiresRepository(t *testing.T) {
	svc, _, _ := newWorkspaceFixture()
	u := &user.User{ID: "u1", Plan: user.PlanPro}

	_, err := svc.CreateWorkspace(context.Background(), u, workspace.CreateRequest{
		CloudProviderID: "cloud-1",
		RegionID:        "region-1",
		AgentTypeID:     "agent-1",
		Name:            "ws",
	})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindBadRequest {
		t.Fatalf("expected bad_request for missing repository, got %v", err)
	}
}

func TestCreateWorkspace_Success(t *testing.T) {
	svc, store, broadcaster := newWorkspaceFixture()
	u := &user.User{ID: "u1", Plan: user.PlanPro}

	ws, err := svc.CreateWorkspace(context.Background(), u, workspace.CreateRequest{
		CloudProviderID: "cloud-1",
		RegionID:        "region-1",
		AgentTypeID:     "agent-1",
		RepositoryURL:   repoURL(),
		Name:            "ws",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ws.Status != workspace.StatusPending {
		t.Fatalf("expected pending status, got %s", ws.Status)
	}
	if ws.ExternalInstanceID == "" {
		t.Fatal("expected provider to assign an external instance id")
	}
	if _, ok := store.ws[ws.ID]; !ok {
		t.Fatal("expected workspace to be persisted")
	}
	if len(broadcaster.events) == 0 {
		t.Fatal("expected a workspace-status event to be broadcast")
	}
}

func TestCreateWorkspace_RejectsSecondConcurrentWorkspace(t *testing.T) {
	svc, store, _ := newWorkspaceFixture()
	u := &user.User{ID: "u1", Plan: user.PlanPro}
	store.ws["existing"] = &workspace.Workspace{ID: "existing", UserID: "u1", Status: workspace.StatusRunning}

	_, err := svc.CreateWorkspace(context.Background(), u, workspace.CreateRequest{
		CloudProviderID: "cloud-1",
		RegionID:        "region-1",
		AgentTypeID:     "agent-1",
		RepositoryURL:   repoURL(),
		Name:            "ws2",
	})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindForbidden {
		t.Fatalf("expected forbidden for a second concurrent workspace, got %v", err)
	}
}

func TestCreateWorkspace_LocalRequiresServerOnlyAgent(t *testing.T) {
	svc, _, _ := newWorkspaceFixture()
	u := &user.User{ID: "u1", Plan: user.PlanFree}

	_, err := svc.CreateWorkspace(context.Background(), u, workspace.CreateRequest{
		CloudProviderID: "local-1",
		RegionID:        "region-local",
		AgentTypeID:     "agent-1",
		Name:            "ws",
	})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindBadRequest {
		t.Fatalf("expected bad_request for non-server-only agent on a local workspace, got %v", err)
	}
}

func TestCreateWorkspace_RejectsReservedSubdomain(t *testing.T) {
	svc, _, _ := newWorkspaceFixture()
	u := &user.User{ID: "u1", Plan: user.PlanPro}
	reserved := "admin"

	_, err := svc.CreateWorkspace(context.Background(), u, workspace.CreateRequest{
		CloudProviderID: "cloud-1",
		RegionID:        "region-1",
		AgentTypeID:     "agent-1",
		RepositoryURL:   repoURL(),
		Subdomain:       &reserved,
		Name:            "ws",
	})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindBadRequest {
		t.Fatalf("expected bad_request for a reserved subdomain, got %v", err)
	}
}

func TestMarkRunning_OpensUsageSessionForCloudWorkspace(t *testing.T) {
	svc, store, _ := newWorkspaceFixture()
	store.ws["w1"] = &workspace.Workspace{ID: "w1", UserID: "u1", Status: workspace.StatusPending, CloudProviderID: "cloud-1", HostingType: workspace.HostingCloud}

	if err := svc.MarkRunning(context.Background(), "w1", "deploy-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.ws["w1"].Status != workspace.StatusRunning {
		t.Fatalf("expected running status, got %s", store.ws["w1"].Status)
	}
	quotaStore := svc.quota.store.(*quotaStubStore)
	if _, ok := quotaStore.open["w1"]; !ok {
		t.Fatal("expected MarkRunning to open a usage session for a cloud workspace")
	}
}

func TestMarkRunning_SkipsUsageSessionForLocalWorkspace(t *testing.T) {
	svc, store, _ := newWorkspaceFixture()
	store.ws["w1"] = &workspace.Workspace{ID: "w1", UserID: "u1", Status: workspace.StatusPending, CloudProviderID: "local-1", HostingType: workspace.HostingLocal}

	if err := svc.MarkRunning(context.Background(), "w1", "deploy-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	quotaStore := svc.quota.store.(*quotaStubStore)
	if _, ok := quotaStore.open["w1"]; ok {
		t.Fatal("expected MarkRunning to skip opening a usage session for a local workspace")
	}
}

func TestStop_IsIdempotent(t *testing.T) {
	svc, store, _ := newWorkspaceFixture()
	store.ws["w1"] = &workspace.Workspace{ID: "w1", UserID: "u1", Status: workspace.StatusStopped, CloudProviderID: "cloud-1"}

	if err := svc.Stop(context.Background(), "w1", usage.StopManual); err != nil {
		t.Fatalf("expected stopping an already-stopped workspace to be a no-op, got %v", err)
	}
}

func TestStop_TransitionsRunningToStopped(t *testing.T) {
	svc, store, _ := newWorkspaceFixture()
	store.ws["w1"] = &workspace.Workspace{ID: "w1", UserID: "u1", Status: workspace.StatusRunning, CloudProviderID: "cloud-1", HostingType: workspace.HostingCloud}

	if err := svc.Stop(context.Background(), "w1", usage.StopManual); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.ws["w1"].Status != workspace.StatusStopped {
		t.Fatalf("expected stopped status, got %s", store.ws["w1"].Status)
	}
	if store.ws["w1"].StoppedAt == nil {
		t.Fatal("expected StoppedAt to be set")
	}
}

func TestRestart_RejectsWhenQuotaExhausted(t *testing.T) {
	svc, store, _ := newWorkspaceFixture()
	store.ws["w1"] = &workspace.Workspace{ID: "w1", UserID: "u1", Status: workspace.StatusStopped, CloudProviderID: "cloud-1", HostingType: workspace.HostingCloud}
	store.users["u1"] = &user.User{ID: "u1", Plan: user.PlanFree}

	quotaStore := svc.quota.store.(*quotaStubStore)
	quotaStore.daily["u1"] = &usage.Daily{UserID: "u1", MinutesUsed: 1000}

	err := svc.Restart(context.Background(), &user.User{ID: "u1", Plan: user.PlanFree}, "w1")
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindQuotaExceeded {
		t.Fatalf("expected quota_exceeded, got %v", err)
	}
}

func TestHeartbeat_RejectsMismatchedWorkspace(t *testing.T) {
	svc, store, _ := newWorkspaceFixture()
	store.ws["w1"] = &workspace.Workspace{ID: "w1", UserID: "u1", Status: workspace.StatusRunning}

	claims := &authtoken.WorkspaceClaims{WorkspaceID: "w1", UserID: "u1"}
	_, err := svc.Heartbeat(context.Background(), claims, "w2")
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindForbidden {
		t.Fatalf("expected forbidden for a claims/workspace mismatch, got %v", err)
	}
}

func TestHeartbeat_ShutsDownWhenQuotaExhausted(t *testing.T) {
	svc, store, _ := newWorkspaceFixture()
	store.ws["w1"] = &workspace.Workspace{ID: "w1", UserID: "u1", Status: workspace.StatusRunning, HostingType: workspace.HostingCloud}
	store.users["u1"] = &user.User{ID: "u1", Plan: user.PlanFree}

	quotaStore := svc.quota.store.(*quotaStubStore)
	quotaStore.daily["u1"] = &usage.Daily{UserID: "u1", MinutesUsed: 1000}

	claims := &authtoken.WorkspaceClaims{WorkspaceID: "w1", UserID: "u1"}
	result, err := svc.Heartbeat(context.Background(), claims, "w1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Action != "shutdown" {
		t.Fatalf("expected shutdown action, got %s", result.Action)
	}
}

func TestIdleReap_StopsOnlyIdleCloudWorkspaces(t *testing.T) {
	svc, store, _ := newWorkspaceFixture()
	store.ws["idle"] = &workspace.Workspace{ID: "idle", UserID: "u1", Status: workspace.StatusRunning, HostingType: workspace.HostingCloud, CloudProviderID: "cloud-1", LastActiveAt: time.Now().Add(-time.Hour)}
	store.ws["fresh"] = &workspace.Workspace{ID: "fresh", UserID: "u1", Status: workspace.StatusRunning, HostingType: workspace.HostingCloud, CloudProviderID: "cloud-1", LastActiveAt: time.Now()}

	n, err := svc.IdleReap(context.Background(), 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one idle workspace stopped, got %d", n)
	}
	if store.ws["idle"].Status != workspace.StatusStopped {
		t.Fatalf("expected idle workspace to be stopped, got %s", store.ws["idle"].Status)
	}
	if store.ws["fresh"].Status != workspace.StatusRunning {
		t.Fatalf("expected fresh workspace to remain running, got %s", store.ws["fresh"].Status)
	}
}

func TestLongTermInactiveReap_TerminatesOldCloudWorkspaces(t *testing.T) {
	svc, store, _ := newWorkspaceFixture()
	stale := &workspace.Workspace{ID: "stale", UserID: "u1", Status: workspace.StatusStopped, HostingType: workspace.HostingCloud, CloudProviderID: "cloud-1", LastActiveAt: time.Now().Add(-10 * 24 * time.Hour)}
	store.ws["stale"] = stale
	recent := &workspace.Workspace{ID: "recent", UserID: "u1", Status: workspace.StatusStopped, HostingType: workspace.HostingCloud, CloudProviderID: "cloud-1", LastActiveAt: time.Now()}
	store.ws["recent"] = recent

	n, err := svc.LongTermInactiveReap(context.Background(), []workspace.Workspace{*stale, *recent})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one workspace terminated, got %d", n)
	}
	if store.ws["stale"].Status != workspace.StatusTerminated {
		t.Fatalf("expected stale workspace to be terminated, got %s", store.ws["stale"].Status)
	}
	if store.ws["recent"].Status != workspace.StatusStopped {
		t.Fatalf("expected recent workspace to remain stopped, got %s", store.ws["recent"].Status)
	}
}
