package authtoken

import (
	"testing"
	"time"
)

func TestWorkspaceToken_RoundTrip(t *testing.T) {
	s := NewSigner("secret")
	token, err := s.MintWorkspaceToken("ws-1", "user-1", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := s.ParseWorkspaceToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.WorkspaceID != "ws-1" || claims.UserID != "user-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestWorkspaceToken_Expired(t *testing.T) {
	s := NewSigner("secret")
	token, err := s.MintWorkspaceToken("ws-1", "user-1", -time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := s.ParseWorkspaceToken(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestWorkspaceToken_WrongSecret(t *testing.T) {
	token, err := NewSigner("secret-a").MintWorkspaceToken("ws-1", "user-1", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := NewSigner("secret-b").ParseWorkspaceToken(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTunnelClaims_ResolvePort(t *testing.T) {
	claims := &TunnelClaims{ExposedPorts: map[string]int{"api": 8080, "web": 3000}}

	if port, ok := claims.ResolvePort("api"); !ok || port != 8080 {
		t.Fatalf("exact match: got %d, %v", port, ok)
	}
	if port, ok := claims.ResolvePort("api-staging"); !ok || port != 8080 {
		t.Fatalf("prefix match: got %d, %v", port, ok)
	}
	if _, ok := claims.ResolvePort("unknown"); ok {
		t.Fatal("expected no match for unknown service")
	}
}

func TestTunnelClaims_ResolvePort_DefaultService(t *testing.T) {
	claims := &TunnelClaims{ExposedPorts: map[string]int{"": 8080}}
	if port, ok := claims.ResolvePort(""); !ok || port != 8080 {
		t.Fatalf("expected default service match, got %d, %v", port, ok)
	}
}

func TestMintTunnelToken_RoundTrip(t *testing.T) {
	s := NewSigner("secret")
	token, err := s.MintTunnelToken("ws-1", "user-1", "my-sub", map[string]int{"api": 8080}, 10*time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := s.ParseTunnelToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subdomain != "my-sub" {
		t.Fatalf("expected subdomain, got %+v", claims)
	}
}

func TestAgentToken_RoundTrip(t *testing.T) {
	s := NewSigner("secret")
	token, err := s.MintAgentToken("user-1", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := s.ParseAgentToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" || claims.Scope != ScopeAgentAll {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestAgentToken_RejectsWrongTokenKind(t *testing.T) {
	s := NewSigner("secret")
	workspaceToken, err := s.MintWorkspaceToken("ws-1", "user-1", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	// A workspace token has no "scope" claim, so it decodes into
	// AgentClaims with an empty Scope and must be rejected.
	if _, err := s.ParseAgentToken(workspaceToken); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestIdentityToken_RoundTrip(t *testing.T) {
	s := NewSigner("secret")
	token, err := s.MintIdentityToken("user-1", "user@example.com", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := s.ParseIdentity(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "user@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}
