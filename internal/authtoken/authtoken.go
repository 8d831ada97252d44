// Package authtoken mints and validates the JWTs this control plane issues
// itself: workspace-scoped tokens (browser access to a workspace's
// upstream), tunnel-scoped tokens (a local agent's authorization to expose
// ports under one workspace) and long-lived agent tokens (from device-code
// login). General user session issuance is an external identity service's
// concern; this package validates the bearer token that service issues
// to authenticate API callers, and mints a stand-in for it only for local
// development.
package authtoken

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims is the shape this control plane expects from the
// externally-issued bearer token on every authenticated API request.
type IdentityClaims struct {
	UserID string `json:"sub"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// WorkspaceClaims scopes a token to one workspace, minted by this control
// plane for browser access to a workspace's upstream.
type WorkspaceClaims struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	jwt.RegisteredClaims
}

// TunnelClaims scopes a token to one workspace's tunnel session, minted
// for the local agent. ExposedPorts maps a service name to
// the local port it's served on; nil means no ports are pre-declared and
// the agent must announce them after connecting.
type TunnelClaims struct {
	WorkspaceID  string         `json:"workspace_id"`
	UserID       string         `json:"user_id"`
	Subdomain    string         `json:"subdomain"`
	ExposedPorts map[string]int `json:"exposed_ports,omitempty"`
	jwt.RegisteredClaims
}

// AgentClaims scopes a long-lived token to the device-code login flow's
// agent identity, redeemable for tunnel tokens without a
// fresh browser session.
type AgentClaims struct {
	UserID string `json:"user_id"`
	Scope  string `json:"scope"`
	jwt.RegisteredClaims
}

// ScopeAgentAll is the only scope an agent token carries today.
const ScopeAgentAll = "agent:*"

var (
	ErrInvalidToken = errors.New("authtoken: invalid or expired token")
)

// Signer mints and validates this control plane's own tokens using a
// single HMAC secret. The external identity service's bearer tokens are
// validated with ParseIdentity using a separately configured secret or
// public key, since they are not minted here.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// MintWorkspaceToken issues a workspace-scoped token valid for ttl.
func (s *Signer) MintWorkspaceToken(workspaceID, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := WorkspaceClaims{
		WorkspaceID: workspaceID,
		UserID:      userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseWorkspaceToken validates and decodes a workspace-scoped token.
func (s *Signer) ParseWorkspaceToken(raw string) (*WorkspaceClaims, error) {
	var claims WorkspaceClaims
	if err := s.parse(raw, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// MintTunnelToken issues a tunnel token for the local agent, valid for ttl.
// The token is bound to one workspace through its claims; it carries no
// scope claim, and ParseTunnelToken checks none.
func (s *Signer) MintTunnelToken(workspaceID, userID, subdomain string, exposedPorts map[string]int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TunnelClaims{
		WorkspaceID:  workspaceID,
		UserID:       userID,
		Subdomain:    subdomain,
		ExposedPorts: exposedPorts,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseTunnelToken validates and decodes a tunnel-scoped token.
func (s *Signer) ParseTunnelToken(raw string) (*TunnelClaims, error) {
	var claims TunnelClaims
	if err := s.parse(raw, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// MintIdentityToken issues a local-development stand-in for the external
// identity service's bearer token, signed with the same shared secret.
// Production deployments point Auth at the real identity service and
// never call this.
func (s *Signer) MintIdentityToken(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := IdentityClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseIdentity validates the bearer token issued by the external
// identity service and returns its claims. It uses the same HMAC secret
// as a deployment convenience (a shared secret with the identity
// service); deployments with an external IdP would swap this for RS256 +
// JWKS without changing the caller-facing signature.
func (s *Signer) ParseIdentity(raw string) (*IdentityClaims, error) {
	var claims IdentityClaims
	if err := s.parse(raw, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (s *Signer) parse(raw string, claims jwt.Claims) error {
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return ErrInvalidToken
	}
	return nil
}

// ResolvePort looks up the local port for serviceName, matching by exact
// name first and then by longest registered prefix (so "api-staging"
// matches a declared "api" service). ok is false if nothing matches.
func (c *TunnelClaims) ResolvePort(serviceName string) (port int, ok bool) {
	if p, exact := c.ExposedPorts[serviceName]; exact {
		return p, true
	}
	bestLen := -1
	for name, p := range c.ExposedPorts {
		if strings.HasPrefix(serviceName, name) && len(name) > bestLen {
			port, ok, bestLen = p, true, len(name)
		}
	}
	return port, ok
}

// MintAgentToken issues a long-lived agent token, minted by the device-code
// exchange and redeemed via MintTokenWithAgentToken for tunnel tokens
// without a fresh login.
func (s *Signer) MintAgentToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AgentClaims{
		UserID: userID,
		Scope:  ScopeAgentAll,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseAgentToken validates and decodes an agent token.
func (s *Signer) ParseAgentToken(raw string) (*AgentClaims, error) {
	var claims AgentClaims
	if err := s.parse(raw, &claims); err != nil {
		return nil, err
	}
	if claims.Scope != ScopeAgentAll {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
