package service

import (
	"context"
	"errors"
	"testing"

	"github.com/openclave/controlplane/internal/authtoken"
	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/domain/workspace"
	"github.com/openclave/controlplane/internal/port/database"
)

type tunnelAuthStubStore struct {
	database.Store
	ws map[string]*workspace.Workspace
}

func (s *tunnelAuthStubStore) GetWorkspace(_ context.Context, id string) (*workspace.Workspace, error) {
	if w, ok := s.ws[id]; ok {
		return w, nil
	}
	return nil, errors.New("not found")
}

func newTunnelAuthFixture() (*TunnelAuthService, *tunnelAuthStubStore) {
	store := &tunnelAuthStubStore{ws: make(map[string]*workspace.Workspace)}
	signer := authtoken.NewSigner("test-secret")
	return NewTunnelAuthService(store, signer), store
}

func TestMintTunnelToken_RequiresOwnership(t *testing.T) {
	svc, store := newTunnelAuthFixture()
	store.ws["w1"] = &workspace.Workspace{ID: "w1", UserID: "owner", HostingType: workspace.HostingLocal, Subdomain: "sub"}

	_, err := svc.MintTunnelToken(context.Background(), &user.User{ID: "someone-else"}, "w1", nil)
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestMintTunnelToken_RequiresLocalHosting(t *testing.T) {
	svc, store := newTunnelAuthFixture()
	store.ws["w1"] = &workspace.Workspace{ID: "w1", UserID: "owner", HostingType: workspace.HostingCloud, Subdomain: "sub"}

	_, err := svc.MintTunnelToken(context.Background(), &user.User{ID: "owner"}, "w1", nil)
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindBadRequest {
		t.Fatalf("expected bad_request, got %v", err)
	}
}

func TestMintTunnelToken_Success(t *testing.T) {
	svc, store := newTunnelAuthFixture()
	store.ws["w1"] = &workspace.Workspace{ID: "w1", UserID: "owner", HostingType: workspace.HostingLocal, Subdomain: "sub"}

	ports := map[string]int{"api": 8080}
	token, err := svc.MintTunnelToken(context.Background(), &user.User{ID: "owner"}, "w1", ports)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := svc.signer.ParseTunnelToken(token)
	if err != nil {
		t.Fatalf("minted token doesn't parse: %v", err)
	}
	if claims.WorkspaceID != "w1" || claims.UserID != "owner" || claims.Subdomain != "sub" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if port, ok := claims.ResolvePort("api"); !ok || port != 8080 {
		t.Fatalf("expected api->8080, got %d, %v", port, ok)
	}
}

func TestMintTokenWithAgentToken_RedeemsForOwnedWorkspace(t *testing.T) {
	svc, store := newTunnelAuthFixture()
	store.ws["w1"] = &workspace.Workspace{ID: "w1", UserID: "owner", HostingType: workspace.HostingLocal, Subdomain: "sub"}

	agentToken, err := svc.signer.MintAgentToken("owner", agentTokenTTL)
	if err != nil {
		t.Fatalf("mint agent token: %v", err)
	}

	token, err := svc.MintTokenWithAgentToken(context.Background(), agentToken, "w1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := svc.signer.ParseTunnelToken(token)
	if err != nil {
		t.Fatalf("minted token doesn't parse: %v", err)
	}
	if claims.UserID != "owner" {
		t.Fatalf("expected owner, got %s", claims.UserID)
	}
}

func TestMintTokenWithAgentToken_RejectsInvalidToken(t *testing.T) {
	svc, _ := newTunnelAuthFixture()
	if _, err := svc.MintTokenWithAgentToken(context.Background(), "garbage", "w1", nil); err == nil {
		t.Fatal("expected error for invalid agent token")
	}
}
