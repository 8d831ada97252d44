// Package cloud implements computeprovider.Provider against a generic
// REST VM-provisioning API. Any number of distinct cloud
// backends can be registered this way, one per catalog.CloudProvider
// row, distinguished only by the base URL and API key in their config map.
package cloud

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

const providerName = "cloud"

// Provider drives VM lifecycle calls against a REST provisioning API:
// create, stop, restart, terminate. The wire format is a small,
// provider-agnostic JSON envelope that a real backend-specific adapter
// would translate into its own SDK calls.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewProvider creates a cloud provider client against baseURL, authenticating
// requests with apiKey as a bearer token.
func NewProvider(baseURL, apiKey string) *Provider {
	return &Provider{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Register makes the cloud provider factory available under "cloud",
// reading its base URL and API key from the config map supplied at
// construction time.
func Register() {
	computeprovider.Register(providerName, func(config map[string]string) (computeprovider.Provider, error) {
		baseURL := config["base_url"]
		if baseURL == "" {
			return nil, fmt.Errorf("cloud: config missing base_url")
		}
		return NewProvider(baseURL, config["api_key"]), nil
	})
}

func (p *Provider) Name() string { return providerName }

type createInstanceRequest struct {
	Name          string            `json:"name"`
	RegionID      string            `json:"region_id"`
	ImageID       string            `json:"image_id"`
	RepositoryURL *string           `json:"repository_url,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	VolumeID      string            `json:"volume_id,omitempty"`
	MountPath     string            `json:"mount_path,omitempty"`
}

type instanceResponse struct {
	InstanceID string  `json:"instance_id"`
	URL        *string `json:"url,omitempty"`
}

func (p *Provider) CreateWorkspace(ctx context.Context, params computeprovider.CreateParams) (*computeprovider.CreateResult, error) {
	return p.createInstance(ctx, params, "", "")
}

func (p *Provider) CreatePersistentWorkspace(ctx context.Context, params computeprovider.CreateParams, volumeExternalID, mountPath string) (*computeprovider.CreateResult, error) {
	return p.createInstance(ctx, params, volumeExternalID, mountPath)
}

func (p *Provider) createInstance(ctx context.Context, params computeprovider.CreateParams, volumeExternalID, mountPath string) (*computeprovider.CreateResult, error) {
	body := createInstanceRequest{
		Name:          params.Subdomain,
		RegionID:      params.RegionID,
		ImageID:       params.ImageID,
		RepositoryURL: params.RepositoryURL,
		Env:           params.ExtraEnv,
		VolumeID:      volumeExternalID,
		MountPath:     mountPath,
	}

	var resp instanceResponse
	if err := p.doJSON(ctx, http.MethodPost, "/v1/instances", body, &resp); err != nil {
		return nil, fmt.Errorf("cloud: create instance: %w", err)
	}
	return &computeprovider.CreateResult{ExternalInstanceID: resp.InstanceID, UpstreamURL: resp.URL}, nil
}

func (p *Provider) StopWorkspace(ctx context.Context, w *workspace.Workspace) error {
	return p.instanceAction(ctx, w.ExternalInstanceID, "stop")
}

func (p *Provider) RestartWorkspace(ctx context.Context, w *workspace.Workspace) error {
	return p.instanceAction(ctx, w.ExternalInstanceID, "restart")
}

func (p *Provider) TerminateWorkspace(ctx context.Context, w *workspace.Workspace) error {
	return p.instanceAction(ctx, w.ExternalInstanceID, "terminate")
}

func (p *Provider) instanceAction(ctx context.Context, externalInstanceID, action string) error {
	path := fmt.Sprintf("/v1/instances/%s/%s", externalInstanceID, action)
	if err := p.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("cloud: %s instance: %w", action, err)
	}
	return nil
}

// StartSandboxRun and StopSandboxRun have no meaning for a persistent VM
// backend; sandbox provisioning is handled by the dedicated sandbox
// provider.
func (p *Provider) StartSandboxRun(ctx context.Context, runID, sandboxProviderID, repoOwner, repoName, branch string) (string, error) {
	return "", computeprovider.ErrUnsupported
}

func (p *Provider) StopSandboxRun(ctx context.Context, externalID string) error {
	return computeprovider.ErrUnsupported
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
