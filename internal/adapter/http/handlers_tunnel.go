package http

import (
	"net/http"
	"strings"

	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/middleware"
)

type mintTunnelTokenRequest struct {
	WorkspaceID  string         `json:"workspace_id"`
	ExposedPorts map[string]int `json:"exposed_ports,omitempty"`
}

type mintTunnelTokenResponse struct {
	TunnelToken string `json:"tunnel_token"`
}

// MintTunnelToken handles POST /api/v1/tunnel/mint, called from an
// authenticated browser session.
func (h *Handlers) MintTunnelToken(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromContext(r.Context())
	req, ok := readJSON[mintTunnelTokenRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.WorkspaceID, "workspace_id") {
		return
	}
	token, err := h.TunnelAuth.MintTunnelToken(r.Context(), u, req.WorkspaceID, req.ExposedPorts)
	if err != nil {
		writeDomainError(w, err, "mint tunnel token")
		return
	}
	writeJSON(w, http.StatusOK, mintTunnelTokenResponse{TunnelToken: token})
}

// MintTunnelTokenWithAgentToken handles
// POST /api/v1/tunnel/mint-with-agent-token, called from the tunnel-agent
// CLI using a previously issued long-lived agent token.
func (h *Handlers) MintTunnelTokenWithAgentToken(w http.ResponseWriter, r *http.Request) {
	agentToken := bearerTokenFromHeader(r)
	if agentToken == "" {
		writeDomainError(w, apierr.AuthRequired("agent token required"), "mint tunnel token")
		return
	}
	req, ok := readJSON[mintTunnelTokenRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.WorkspaceID, "workspace_id") {
		return
	}
	token, err := h.TunnelAuth.MintTokenWithAgentToken(r.Context(), agentToken, req.WorkspaceID, req.ExposedPorts)
	if err != nil {
		writeDomainError(w, err, "mint tunnel token")
		return
	}
	writeJSON(w, http.StatusOK, mintTunnelTokenResponse{TunnelToken: token})
}

// AgentWebsocket handles GET /tunnel/agent, the local agent's persistent
// WebSocket connection into the tunnel broker.
func (h *Handlers) AgentWebsocket(w http.ResponseWriter, r *http.Request) {
	h.Broker.HandleAgentWS(w, r)
}

func bearerTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}
