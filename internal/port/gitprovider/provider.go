// Package gitprovider defines the Git provider port (interface) and capabilities.
package gitprovider

import (
	"context"
	"time"
)

// Capabilities declares which operations a git provider supports.
type Capabilities struct {
	Clone       bool `json:"clone"`
	Push        bool `json:"push"`
	PullRequest bool `json:"pull_request"`
	Webhook     bool `json:"webhook"`
	Issues      bool `json:"issues"`
}

// Provider is the port interface for interacting with a Git hosting platform.
// Only the interface this control plane calls across is specified.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g. "github", "gitlab").
	Name() string

	// Capabilities returns what this provider supports.
	Capabilities() Capabilities

	// CloneURL returns the clone URL for a given repository identifier.
	CloneURL(ctx context.Context, repo string) (string, error)

	// ListRepos returns a list of repository identifiers accessible to the user.
	ListRepos(ctx context.Context) ([]string, error)

	// InstallationToken mints a short-lived token scoped to a single app
	// installation, injected into a workspace's environment as
	// GITHUB_APP_TOKEN. Callers treat failure as
	// non-fatal and log it.
	InstallationToken(ctx context.Context, installationID string) (token string, expiresAt time.Time, err error)

	// ForkRepository forks repo under the installation's account, used by
	// the internal forkRepository RPC.
	ForkRepository(ctx context.Context, installationID, repo string) (forkedRepo string, err error)
}
