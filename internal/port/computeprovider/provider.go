// Package computeprovider defines the port interface every compute
// backend (cloud VM provider, local tunnel, sandbox runner) implements.
package computeprovider

import (
	"context"

	"github.com/openclave/controlplane/internal/domain/workspace"
)

// CreateParams carries everything a provider needs to provision a new
// workspace instance.
type CreateParams struct {
	WorkspaceID   string
	RegionID      string
	ImageID       string
	Subdomain     string
	RepositoryURL *string
	ExtraEnv      map[string]string
}

// CreateResult is what a provider returns after successfully provisioning.
type CreateResult struct {
	ExternalInstanceID string
	UpstreamURL        *string
}

// Provider is the port every ComputeProvider implementation (cloud, local
// tunnel, sandbox) satisfies. Implementations that don't support an
// operation (e.g. the local tunnel backend has no real instance to stop)
// return ErrUnsupported.
type Provider interface {
	// Name identifies this provider for registry lookup and logging.
	Name() string

	// CreateWorkspace provisions a new ephemeral (non-persistent) workspace.
	CreateWorkspace(ctx context.Context, p CreateParams) (*CreateResult, error)

	// CreatePersistentWorkspace provisions a new workspace backed by a
	// durable volume and attaches it at the given mount path.
	CreatePersistentWorkspace(ctx context.Context, p CreateParams, volumeExternalID, mountPath string) (*CreateResult, error)

	// StopWorkspace stops (but does not destroy) a running instance.
	StopWorkspace(ctx context.Context, w *workspace.Workspace) error

	// RestartWorkspace resumes a previously stopped instance.
	RestartWorkspace(ctx context.Context, w *workspace.Workspace) error

	// TerminateWorkspace permanently destroys the instance and releases
	// its resources (but not its Volume, which outlives termination for
	// persistent workspaces until explicitly deleted).
	TerminateWorkspace(ctx context.Context, w *workspace.Workspace) error

	// StartSandboxRun provisions a short-lived sandbox for one
	// AgentLoopRun and returns its external identifier.
	StartSandboxRun(ctx context.Context, runID, sandboxProviderID, repoOwner, repoName, branch string) (externalID string, err error)

	// StopSandboxRun tears down a sandbox started by StartSandboxRun.
	StopSandboxRun(ctx context.Context, externalID string) error
}

// ErrUnsupported is returned by a Provider method that has no meaning for
// that backend (e.g. StopWorkspace on a provider with no persistent
// compute to stop).
var ErrUnsupported = unsupportedError{}

type unsupportedError struct{}

func (unsupportedError) Error() string { return "computeprovider: operation not supported by this backend" }
