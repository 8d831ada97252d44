package service

import (
	"context"
	"time"

	"github.com/openclave/controlplane/internal/authtoken"
	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/domain/workspace"
	"github.com/openclave/controlplane/internal/port/database"
)

// tunnelTokenTTL is the tunnel JWT's lifetime.
const tunnelTokenTTL = 10 * time.Minute

// TunnelAuthService mints tunnel-scoped tokens for the local agent
//, either from an authenticated browser
// session or from a previously-issued agent token.
type TunnelAuthService struct {
	store  database.Store
	signer *authtoken.Signer
}

func NewTunnelAuthService(store database.Store, signer *authtoken.Signer) *TunnelAuthService {
	return &TunnelAuthService{store: store, signer: signer}
}

// MintTunnelToken issues a tunnel token for workspaceID on behalf of u's
// own authenticated session. Requires u to own the workspace and the
// workspace to be hosting_type=local.
func (s *TunnelAuthService) MintTunnelToken(ctx context.Context, u *user.User, workspaceID string, exposedPorts map[string]int) (string, error) {
	ws, err := s.ownedLocalWorkspace(ctx, workspaceID, u.ID)
	if err != nil {
		return "", err
	}
	return s.signer.MintTunnelToken(ws.ID, u.ID, ws.Subdomain, exposedPorts, tunnelTokenTTL)
}

// MintTokenWithAgentToken redeems a long-lived agent token (minted by
// exchangeDeviceCode) for a tunnel token, so a CLI can reconnect without a
// fresh browser session.
func (s *TunnelAuthService) MintTokenWithAgentToken(ctx context.Context, agentToken, workspaceID string, exposedPorts map[string]int) (string, error) {
	claims, err := s.signer.ParseAgentToken(agentToken)
	if err != nil {
		return "", apierr.Forbidden("invalid or expired agent token")
	}
	ws, err := s.ownedLocalWorkspace(ctx, workspaceID, claims.UserID)
	if err != nil {
		return "", err
	}
	return s.signer.MintTunnelToken(ws.ID, claims.UserID, ws.Subdomain, exposedPorts, tunnelTokenTTL)
}

func (s *TunnelAuthService) ownedLocalWorkspace(ctx context.Context, workspaceID, userID string) (*workspace.Workspace, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, apierr.NotFound("workspace not found")
	}
	if ws.UserID != userID {
		return nil, apierr.Forbidden("workspace belongs to another account")
	}
	if ws.HostingType != workspace.HostingLocal {
		return nil, apierr.BadRequest("tunnel tokens are only issued for local workspaces")
	}
	return ws, nil
}
