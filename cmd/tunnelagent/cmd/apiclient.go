package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// apiClient is a minimal client for the device-code login and
// tunnel-token-mint RPCs the control plane exposes.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 15 * time.Second}}
}

type startDeviceLoginResponse struct {
	DeviceCode          string `json:"device_code"`
	UserCode            string `json:"user_code"`
	VerificationURI     string `json:"verification_uri"`
	ExpiresInSeconds    int    `json:"expires_in_seconds"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
}

func (c *apiClient) startDeviceLogin(ctx context.Context) (*startDeviceLoginResponse, error) {
	var out startDeviceLoginResponse
	if err := c.post(ctx, "/api/v1/device/start", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) pollDeviceLogin(ctx context.Context, deviceCode string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	body := map[string]string{"device_code": deviceCode}
	if err := c.post(ctx, "/api/v1/device/poll", body, "", &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *apiClient) exchangeDeviceCode(ctx context.Context, deviceCode string) (string, error) {
	var out struct {
		AgentToken string `json:"agent_token"`
	}
	body := map[string]string{"device_code": deviceCode}
	if err := c.post(ctx, "/api/v1/device/exchange", body, "", &out); err != nil {
		return "", err
	}
	return out.AgentToken, nil
}

func (c *apiClient) mintTunnelToken(ctx context.Context, agentToken, workspaceID string, exposedPorts map[string]int) (string, error) {
	var out struct {
		TunnelToken string `json:"tunnel_token"`
	}
	body := map[string]any{"workspace_id": workspaceID, "exposed_ports": exposedPorts}
	if err := c.post(ctx, "/api/v1/tunnel/mint-with-agent-token", body, agentToken, &out); err != nil {
		return "", err
	}
	return out.TunnelToken, nil
}

func (c *apiClient) post(ctx context.Context, path string, body any, bearerToken string, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("control plane returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
