package http

import (
	"net/http"

	"golang.org/x/oauth2"

	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/credential"
	"github.com/openclave/controlplane/internal/domain/devicecode"
	"github.com/openclave/controlplane/internal/middleware"
)

// --- Tunnel-agent device login (internal/service/devicecode.go) ---
//
// This flow authenticates the tunnel-agent CLI, not a model provider, and
// its wire contract is fixed by cmd/tunnelagent/cmd/apiclient.go.

type startDeviceLoginResponse struct {
	DeviceCode          string `json:"device_code"`
	UserCode            string `json:"user_code"`
	VerificationURI     string `json:"verification_uri"`
	ExpiresInSeconds    int    `json:"expires_in_seconds"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
}

// StartDeviceLogin handles POST /api/v1/device/start.
func (h *Handlers) StartDeviceLogin(w http.ResponseWriter, r *http.Request) {
	sess, verificationURI, err := h.DeviceLogin.StartDeviceLogin(r.Context())
	if err != nil {
		writeDomainError(w, err, "start device login")
		return
	}
	writeJSON(w, http.StatusOK, startDeviceLoginResponse{
		DeviceCode:          sess.DeviceCode,
		UserCode:            sess.UserCode,
		VerificationURI:     verificationURI,
		ExpiresInSeconds:    int(devicecode.TTL.Seconds()),
		PollIntervalSeconds: int(devicecode.PollInterval.Seconds()),
	})
}

type deviceCodeRequest struct {
	DeviceCode string `json:"device_code"`
}

type pollDeviceLoginResponse struct {
	Status string `json:"status"`
}

// PollDeviceLogin handles POST /api/v1/device/poll.
func (h *Handlers) PollDeviceLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[deviceCodeRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.DeviceCode, "device_code") {
		return
	}
	sess, err := h.DeviceLogin.PollDeviceLogin(r.Context(), req.DeviceCode)
	if err != nil {
		writeDomainError(w, err, "poll device login")
		return
	}
	writeJSON(w, http.StatusOK, pollDeviceLoginResponse{Status: string(sess.Status)})
}

type approveDeviceLoginRequest struct {
	UserCode string `json:"user_code"`
	Approve  bool   `json:"approve"`
}

// ApproveDeviceLogin handles POST /api/v1/device/approve, called from the
// authenticated browser session that visited the verification URI.
func (h *Handlers) ApproveDeviceLogin(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	req, ok := readJSON[approveDeviceLoginRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.UserCode, "user_code") {
		return
	}
	if err := h.DeviceLogin.ApproveDeviceLogin(r.Context(), req.UserCode, u.ID, req.Approve); err != nil {
		writeDomainError(w, err, "approve device login")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exchangeDeviceCodeResponse struct {
	AgentToken string `json:"agent_token"`
}

// ExchangeDeviceCode handles POST /api/v1/device/exchange.
func (h *Handlers) ExchangeDeviceCode(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[deviceCodeRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.DeviceCode, "device_code") {
		return
	}
	token, err := h.DeviceLogin.ExchangeDeviceCode(r.Context(), req.DeviceCode)
	if err != nil {
		writeDomainError(w, err, "exchange device code")
		return
	}
	writeJSON(w, http.StatusOK, exchangeDeviceCodeResponse{AgentToken: token})
}

// --- Credential vault (internal/service/credential_vault.go) ---
//
// A separate device-code flow scoped to linking a model provider's OAuth
// account to a credential; unrelated to the tunnel-agent login above.

type storeAPIKeyRequest struct {
	ModelProviderID string `json:"model_provider_id"`
	Label           string `json:"label"`
	APIKey          string `json:"api_key"`
}

// StoreAPIKeyCredential handles POST /api/v1/credentials/api-key.
func (h *Handlers) StoreAPIKeyCredential(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	req, ok := readJSON[storeAPIKeyRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.ModelProviderID, "model_provider_id") ||
		!requireField(w, req.APIKey, "api_key") {
		return
	}
	cred, err := h.Vault.StoreAPIKey(r.Context(), credential.StoreAPIKeyRequest{
		UserID:          u.ID,
		ModelProviderID: req.ModelProviderID,
		Label:           req.Label,
		APIKey:          req.APIKey,
	})
	if err != nil {
		writeDomainError(w, err, "store api key credential")
		return
	}
	writeJSON(w, http.StatusCreated, cred)
}

type credentialOAuthDeviceStartRequest struct {
	ModelProviderID string `json:"model_provider_id"`
}

// StartCredentialOAuthDevice handles POST /api/v1/credentials/oauth/device/start.
func (h *Handlers) StartCredentialOAuthDevice(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[credentialOAuthDeviceStartRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.ModelProviderID, "model_provider_id") {
		return
	}
	devResp, err := h.Vault.DeviceLoginStart(r.Context(), req.ModelProviderID)
	if err != nil {
		writeDomainError(w, err, "start credential oauth device flow")
		return
	}
	writeJSON(w, http.StatusOK, devResp)
}

type credentialOAuthDevicePollRequest struct {
	ModelProviderID         string `json:"model_provider_id"`
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	IntervalSeconds         int64  `json:"interval_seconds,omitempty"`
	Label                   string `json:"label"`
}

// PollCredentialOAuthDevice handles POST /api/v1/credentials/oauth/device/poll.
// The caller must echo back the device auth details StartCredentialOAuthDevice
// returned; CredentialVault.DeviceLoginPoll blocks (subject to ctx deadline)
// until the provider confirms the user approved the code.
func (h *Handlers) PollCredentialOAuthDevice(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	req, ok := readJSON[credentialOAuthDevicePollRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.ModelProviderID, "model_provider_id") ||
		!requireField(w, req.DeviceCode, "device_code") {
		return
	}
	devResp := &oauth2.DeviceAuthResponse{
		DeviceCode:              req.DeviceCode,
		UserCode:                req.UserCode,
		VerificationURI:         req.VerificationURI,
		VerificationURIComplete: req.VerificationURIComplete,
		Interval:                req.IntervalSeconds,
	}
	tok, err := h.Vault.DeviceLoginPoll(r.Context(), req.ModelProviderID, devResp)
	if err != nil {
		writeDomainError(w, err, "poll credential oauth device flow")
		return
	}
	cred, err := h.Vault.StoreOAuthTokens(r.Context(), u.ID, req.ModelProviderID, req.Label, *tok)
	if err != nil {
		writeDomainError(w, err, "store oauth credential")
		return
	}
	writeJSON(w, http.StatusCreated, cred)
}

// ListCredentials handles GET /api/v1/credentials.
func (h *Handlers) ListCredentials(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	rows, err := h.Store.ListCredentialsByUser(r.Context(), u.ID)
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "list credentials"), "list credentials")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handlers) ownsCredential(w http.ResponseWriter, r *http.Request, id string) bool {
	u := middleware.UserFromContext(r.Context())
	cred, err := h.Store.GetCredentialByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, apierr.FromStore(err, "credential not found"), "load credential")
		return false
	}
	if cred.UserID != u.ID {
		writeDomainError(w, apierr.Forbidden("credential belongs to another account"), "load credential")
		return false
	}
	return true
}

// RevokeCredential handles POST /api/v1/credentials/{id}/revoke.
func (h *Handlers) RevokeCredential(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if !h.ownsCredential(w, r, id) {
		return
	}
	if err := h.Vault.RevokeCredential(r.Context(), id); err != nil {
		writeDomainError(w, err, "revoke credential")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteCredential handles DELETE /api/v1/credentials/{id}.
func (h *Handlers) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if !h.ownsCredential(w, r, id) {
		return
	}
	if err := h.Vault.DeleteCredential(r.Context(), id); err != nil {
		writeDomainError(w, err, "delete credential")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
