// Package local implements computeprovider.Provider for the local-tunnel
// hosting type: the actual runtime is the
// developer's machine, reached through the tunnel broker, so there is no
// remote instance for this backend to create, stop, or restart.
package local

import (
	"context"

	"github.com/openclave/controlplane/internal/domain/workspace"
	"github.com/openclave/controlplane/internal/port/computeprovider"
)

const providerName = "local"

// Provider is the no-op backend selected when a workspace's
// catalog.CloudProvider name is "Local".
type Provider struct{}

// NewProvider returns a local-tunnel Provider.
func NewProvider() *Provider { return &Provider{} }

// Register makes the local provider factory available under "local".
func Register() {
	computeprovider.Register(providerName, func(map[string]string) (computeprovider.Provider, error) {
		return NewProvider(), nil
	})
}

func (p *Provider) Name() string { return providerName }

// CreateWorkspace has nothing to provision: the row transitions to
// running only once the developer's agent connects over the tunnel.
func (p *Provider) CreateWorkspace(ctx context.Context, params computeprovider.CreateParams) (*computeprovider.CreateResult, error) {
	return &computeprovider.CreateResult{}, nil
}

// CreatePersistentWorkspace behaves identically: local workspaces have no
// remote volume attachment step, their persistence lives on the
// developer's own disk.
func (p *Provider) CreatePersistentWorkspace(ctx context.Context, params computeprovider.CreateParams, volumeExternalID, mountPath string) (*computeprovider.CreateResult, error) {
	return &computeprovider.CreateResult{}, nil
}

func (p *Provider) StopWorkspace(ctx context.Context, w *workspace.Workspace) error {
	return nil
}

func (p *Provider) RestartWorkspace(ctx context.Context, w *workspace.Workspace) error {
	return nil
}

func (p *Provider) TerminateWorkspace(ctx context.Context, w *workspace.Workspace) error {
	return nil
}

func (p *Provider) StartSandboxRun(ctx context.Context, runID, sandboxProviderID, repoOwner, repoName, branch string) (string, error) {
	return "", computeprovider.ErrUnsupported
}

func (p *Provider) StopSandboxRun(ctx context.Context, externalID string) error {
	return computeprovider.ErrUnsupported
}
