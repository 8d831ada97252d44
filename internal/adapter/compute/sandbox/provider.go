// Package sandbox implements computeprovider.Provider for sandbox-only
// backends used by the agent-loop scheduler: it
// provisions short-lived, disposable runtimes for a single
// AgentLoopRun and rejects workspace creation outright.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openclave/controlplane/internal/domain/workspace"
	"github.com/openclave/controlplane/internal/port/computeprovider"
)

const providerName = "sandbox"

// Provider drives a REST sandbox-provisioning API scoped to one run at a
// time: start checks out the given branch into a fresh sandbox, stop
// tears it down.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewProvider creates a sandbox provider client against baseURL.
func NewProvider(baseURL, apiKey string) *Provider {
	return &Provider{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Register makes the sandbox provider factory available under "sandbox".
func Register() {
	computeprovider.Register(providerName, func(config map[string]string) (computeprovider.Provider, error) {
		baseURL := config["base_url"]
		if baseURL == "" {
			return nil, fmt.Errorf("sandbox: config missing base_url")
		}
		return NewProvider(baseURL, config["api_key"]), nil
	})
}

func (p *Provider) Name() string { return providerName }

// CreateWorkspace and CreatePersistentWorkspace are rejected: a sandbox
// provider backs agent-loop runs only, never a workspace.
func (p *Provider) CreateWorkspace(ctx context.Context, params computeprovider.CreateParams) (*computeprovider.CreateResult, error) {
	return nil, computeprovider.ErrUnsupported
}

func (p *Provider) CreatePersistentWorkspace(ctx context.Context, params computeprovider.CreateParams, volumeExternalID, mountPath string) (*computeprovider.CreateResult, error) {
	return nil, computeprovider.ErrUnsupported
}

func (p *Provider) StopWorkspace(ctx context.Context, w *workspace.Workspace) error {
	return computeprovider.ErrUnsupported
}

func (p *Provider) RestartWorkspace(ctx context.Context, w *workspace.Workspace) error {
	return computeprovider.ErrUnsupported
}

func (p *Provider) TerminateWorkspace(ctx context.Context, w *workspace.Workspace) error {
	return computeprovider.ErrUnsupported
}

type startSandboxRequest struct {
	RunID     string `json:"run_id"`
	RepoOwner string `json:"repo_owner"`
	RepoName  string `json:"repo_name"`
	Branch    string `json:"branch"`
}

type startSandboxResponse struct {
	SandboxID string `json:"sandbox_id"`
}

func (p *Provider) StartSandboxRun(ctx context.Context, runID, sandboxProviderID, repoOwner, repoName, branch string) (string, error) {
	var resp startSandboxResponse
	body := startSandboxRequest{RunID: runID, RepoOwner: repoOwner, RepoName: repoName, Branch: branch}
	if err := p.doJSON(ctx, http.MethodPost, "/v1/sandboxes", body, &resp); err != nil {
		return "", fmt.Errorf("sandbox: start run: %w", err)
	}
	return resp.SandboxID, nil
}

func (p *Provider) StopSandboxRun(ctx context.Context, externalID string) error {
	path := fmt.Sprintf("/v1/sandboxes/%s", externalID)
	if err := p.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("sandbox: stop run: %w", err)
	}
	return nil
}

func (p *Provider) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
