// Package github adapts a GitHub App installation to the gitprovider.Provider
// port, minting short-lived installation tokens and proxying repository
// operations through google/go-github.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v66/github"

	"github.com/openclave/controlplane/internal/port/gitprovider"
)

// installationTokenTTL approximates GitHub's ~1h installation token
// lifetime; callers should re-mint well before relying on a cached value.
const installationTokenTTL = 55 * time.Minute

// Provider implements gitprovider.Provider against a single GitHub App
// registration. One Provider instance is shared across all installations;
// each call that needs installation-scoped credentials takes the
// installation ID as an argument and builds a short-lived transport for it.
type Provider struct {
	appID         int64
	slug          string
	privateKeyPEM []byte
	baseURL       string
	appTransport  *ghinstallation.AppsTransport
}

// New builds a Provider from GitHub App credentials. privateKeyPEM is the
// App's PEM-encoded private key, downloaded once from the App settings page.
func New(appID int64, slug, privateKeyPEM, baseURL string) (*Provider, error) {
	key := []byte(strings.TrimSpace(privateKeyPEM))
	if len(key) == 0 {
		return nil, fmt.Errorf("githubapp: empty private key")
	}
	tr, err := ghinstallation.NewAppsTransport(http.DefaultTransport, appID, key)
	if err != nil {
		return nil, fmt.Errorf("githubapp: build app transport: %w", err)
	}
	return &Provider{
		appID:         appID,
		slug:          slug,
		privateKeyPEM: key,
		baseURL:       strings.TrimRight(baseURL, "/"),
		appTransport:  tr,
	}, nil
}

// Name implements gitprovider.Provider.
func (p *Provider) Name() string { return "github" }

// Capabilities implements gitprovider.Provider.
func (p *Provider) Capabilities() gitprovider.Capabilities {
	return gitprovider.Capabilities{
		Clone:       true,
		Push:        true,
		PullRequest: true,
		Webhook:     true,
		Issues:      true,
	}
}

// CloneURL implements gitprovider.Provider. repo is "owner/name"; the
// returned URL is unauthenticated, matching what the agent sandbox rewrites
// with a freshly minted installation token before cloning.
func (p *Provider) CloneURL(_ context.Context, repo string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://github.com/%s/%s.git", owner, name), nil
}

// ListRepos implements gitprovider.Provider. It has no installation-scoped
// caller in this control plane today (workspaces name their repository
// directly); this satisfies the port for a future repo-picker UI.
func (p *Provider) ListRepos(ctx context.Context) ([]string, error) {
	client := github.NewClient(&http.Client{Transport: p.appTransport})
	installations, _, err := client.Apps.ListInstallations(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("githubapp: list installations: %w", err)
	}
	var repos []string
	for _, inst := range installations {
		instClient, err := p.installationClient(inst.GetID())
		if err != nil {
			continue
		}
		page := &github.ListOptions{PerPage: 100}
		for {
			list, resp, err := instClient.Apps.ListRepos(ctx, page)
			if err != nil {
				break
			}
			for _, r := range list.Repositories {
				repos = append(repos, r.GetFullName())
			}
			if resp.NextPage == 0 {
				break
			}
			page.Page = resp.NextPage
		}
	}
	return repos, nil
}

// InstallationToken implements gitprovider.Provider.
func (p *Provider) InstallationToken(ctx context.Context, installationID string) (string, time.Time, error) {
	id, err := parseInt64(installationID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("githubapp: invalid installation id %q: %w", installationID, err)
	}
	tr, err := ghinstallation.New(http.DefaultTransport, p.appID, id, p.privateKeyPEM)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("githubapp: build installation transport: %w", err)
	}
	token, err := tr.Token(ctx)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("githubapp: mint installation token: %w", err)
	}
	return token, time.Now().Add(installationTokenTTL), nil
}

// ForkRepository implements gitprovider.Provider.
func (p *Provider) ForkRepository(ctx context.Context, installationID, repo string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	id, err := parseInt64(installationID)
	if err != nil {
		return "", fmt.Errorf("githubapp: invalid installation id %q: %w", installationID, err)
	}
	client, err := p.installationClient(id)
	if err != nil {
		return "", err
	}
	fork, resp, err := client.Repositories.CreateFork(ctx, owner, name, nil)
	if err != nil {
		// GitHub returns a 202 Accepted while the fork is being created
		// asynchronously; go-github surfaces that as *github.AcceptedError
		// with the fork's repository already populated.
		if _, ok := err.(*github.AcceptedError); ok && fork != nil {
			return fork.GetFullName(), nil
		}
		if resp != nil && resp.StatusCode == 202 && fork != nil {
			return fork.GetFullName(), nil
		}
		return "", fmt.Errorf("githubapp: fork %s: %w", repo, err)
	}
	return fork.GetFullName(), nil
}

// InstallationAccount looks up the account an installation belongs to,
// using the app-level client since the caller doesn't have an installation
// token yet at install-callback time.
func (p *Provider) InstallationAccount(ctx context.Context, installationID string) (login, accountType string, err error) {
	id, err := parseInt64(installationID)
	if err != nil {
		return "", "", fmt.Errorf("githubapp: invalid installation id %q: %w", installationID, err)
	}
	client := github.NewClient(&http.Client{Transport: p.appTransport})
	inst, _, err := client.Apps.GetInstallation(ctx, id)
	if err != nil {
		return "", "", fmt.Errorf("githubapp: get installation %s: %w", installationID, err)
	}
	return inst.GetAccount().GetLogin(), inst.GetAccount().GetType(), nil
}

func (p *Provider) installationClient(installationID int64) (*github.Client, error) {
	tr, err := ghinstallation.New(http.DefaultTransport, p.appID, installationID, p.privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("githubapp: build installation transport: %w", err)
	}
	return github.NewClient(&http.Client{Transport: tr}), nil
}

// InstallURL is the browser-facing link that starts the App installation
// flow; surfaced by the git-integration handlers, not part of the port.
func (p *Provider) InstallURL() string {
	return fmt.Sprintf("https://github.com/apps/%s/installations/new", p.slug)
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("githubapp: repo must be \"owner/name\", got %q", repo)
	}
	return parts[0], parts[1], nil
}

func parseInt64(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
