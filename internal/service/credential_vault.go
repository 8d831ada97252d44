package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/google/uuid"

	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/credential"
	"github.com/openclave/controlplane/internal/domain/cryptoutil"
	"github.com/openclave/controlplane/internal/port/database"
)

// refreshSkew is how far ahead of expiry a credential is proactively
// refreshed.
const refreshSkew = 5 * time.Minute

// OAuthEndpoints resolves a ModelProvider's OAuth device/token endpoints.
// Grounded on golang.org/x/oauth2.Config: the vault only needs the
// DeviceAuthURL/TokenURL pair to drive oauth2.Config.DeviceAuth /
// DeviceAccessToken, never a browser redirect flow.
type OAuthEndpoints func(providerID string) (oauth2.Config, bool)

// CredentialVault implements the credential vault:
// encrypt-at-rest storage, device-code OAuth exchange, and
// single-flight-coordinated transparent refresh.
type CredentialVault struct {
	store     database.Store
	key       []byte
	endpoints OAuthEndpoints

	refreshGroup singleflight.Group
}

func NewCredentialVault(store database.Store, vaultSecret string, endpoints OAuthEndpoints) *CredentialVault {
	return &CredentialVault{
		store:     store,
		key:       cryptoutil.DeriveKey(vaultSecret),
		endpoints: endpoints,
	}
}

func keyHash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// StoreAPIKey creates or replaces the single active credential per
// (user, provider) and marks it active.
func (v *CredentialVault) StoreAPIKey(ctx context.Context, req credential.StoreAPIKeyRequest) (*credential.UserCredential, error) {
	payload, err := json.Marshal(credential.APIKeyPayload{APIKey: req.APIKey})
	if err != nil {
		return nil, apierr.Internal("marshal api key payload: %v", err)
	}
	enc, err := cryptoutil.Encrypt(payload, v.key)
	if err != nil {
		return nil, apierr.Internal("encrypt credential: %v", err)
	}
	c := &credential.UserCredential{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		ModelProviderID:  req.ModelProviderID,
		AuthType:         credential.AuthAPIKey,
		Label:            req.Label,
		EncryptedPayload: enc,
		KeyHash:          keyHash(req.APIKey),
	}
	if err := v.store.UpsertCredential(ctx, c); err != nil {
		return nil, apierr.Internal("store credential: %v", err)
	}
	return c, nil
}

// StoreOAuthTokens creates or replaces the single active OAuth credential
// per (user, provider).
func (v *CredentialVault) StoreOAuthTokens(ctx context.Context, userID, providerID, label string, tok oauth2.Token) (*credential.UserCredential, error) {
	payload, err := json.Marshal(credential.OAuthPayload{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	})
	if err != nil {
		return nil, apierr.Internal("marshal oauth payload: %v", err)
	}
	enc, err := cryptoutil.Encrypt(payload, v.key)
	if err != nil {
		return nil, apierr.Internal("encrypt credential: %v", err)
	}
	c := &credential.UserCredential{
		ID:               uuid.NewString(),
		UserID:           userID,
		ModelProviderID:  providerID,
		AuthType:         credential.AuthOAuth,
		Label:            label,
		EncryptedPayload: enc,
		KeyHash:          keyHash(tok.RefreshToken),
		OAuthExpiresAt:   &tok.Expiry,
	}
	if err := v.store.UpsertCredential(ctx, c); err != nil {
		return nil, apierr.Internal("store credential: %v", err)
	}
	return c, nil
}

// DeviceLoginStart begins the OAuth device-code flow against providerID's
// token endpoint.
func (v *CredentialVault) DeviceLoginStart(ctx context.Context, providerID string) (*oauth2.DeviceAuthResponse, error) {
	cfg, ok := v.endpoints(providerID)
	if !ok {
		return nil, apierr.BadRequest("provider %s does not support OAuth", providerID)
	}
	resp, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, apierr.UpstreamUnavailable("start device login: %v", err)
	}
	return resp, nil
}

// DeviceLoginPoll exchanges a device code for a token, polling the
// provider's token endpoint until the user approves the code, the code
// expires, or ctx ends. The polling interval and any slow_down response
// are handled by oauth2.Config.DeviceAccessToken.
func (v *CredentialVault) DeviceLoginPoll(ctx context.Context, providerID string, devResp *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	cfg, ok := v.endpoints(providerID)
	if !ok {
		return nil, apierr.BadRequest("provider %s does not support OAuth", providerID)
	}
	tok, err := cfg.DeviceAccessToken(ctx, devResp)
	if err != nil {
		return nil, apierr.UpstreamUnavailable("poll device login: %v", err)
	}
	return tok, nil
}

// decryptAPIKey decrypts a stored API-key credential's payload and returns
// its key.
func (v *CredentialVault) decryptAPIKey(c *credential.UserCredential) (string, error) {
	plain, err := cryptoutil.Decrypt(c.EncryptedPayload, v.key)
	if err != nil {
		return "", err
	}
	var p credential.APIKeyPayload
	if err := json.Unmarshal(plain, &p); err != nil {
		return "", err
	}
	return p.APIKey, nil
}

func (v *CredentialVault) decryptOAuth(c *credential.UserCredential) (credential.OAuthPayload, error) {
	var p credential.OAuthPayload
	plain, err := cryptoutil.Decrypt(c.EncryptedPayload, v.key)
	if err != nil {
		return p, err
	}
	err = json.Unmarshal(plain, &p)
	return p, err
}

// ResolvedCredential is what the scheduler needs to launch a sandbox run.
type ResolvedCredential struct {
	Type   credential.AuthType
	APIKey string // set when Type == AuthAPIKey
	Access string // set when Type == AuthOAuth
}

// GetCredentialForRun returns the usable secret for credID, transparently
// refreshing an OAuth token within refreshSkew of expiry. Concurrent
// callers for the same credential observe at most one in-flight refresh
//, coordinated by singleflight keyed on
// credID.
func (v *CredentialVault) GetCredentialForRun(ctx context.Context, credID, userID string) (*ResolvedCredential, error) {
	c, err := v.store.GetCredentialByID(ctx, credID)
	if err != nil {
		return nil, apierr.NotFound("credential %s not found", credID)
	}
	if c.UserID != userID {
		return nil, apierr.Forbidden("credential does not belong to caller")
	}
	if c.IsRevoked() {
		return nil, apierr.BadRequest("credential has been revoked")
	}

	if c.AuthType == credential.AuthAPIKey {
		key, err := v.decryptAPIKey(c)
		if err != nil {
			return nil, apierr.Internal("decrypt credential: %v", err)
		}
		return &ResolvedCredential{Type: credential.AuthAPIKey, APIKey: key}, nil
	}

	if !c.NeedsRefresh(time.Now(), refreshSkew) {
		payload, err := v.decryptOAuth(c)
		if err != nil {
			return nil, apierr.Internal("decrypt credential: %v", err)
		}
		return &ResolvedCredential{Type: credential.AuthOAuth, Access: payload.AccessToken}, nil
	}

	result, err, _ := v.refreshGroup.Do(credID, func() (any, error) {
		return v.refreshOAuth(ctx, c)
	})
	if err != nil {
		return nil, apierr.UpstreamUnavailable("refresh oauth credential: %v", err)
	}
	return result.(*ResolvedCredential), nil
}

func (v *CredentialVault) refreshOAuth(ctx context.Context, c *credential.UserCredential) (*ResolvedCredential, error) {
	current, err := v.decryptOAuth(c)
	if err != nil {
		return nil, err
	}
	cfg, ok := v.endpoints(c.ModelProviderID)
	if !ok {
		return nil, apierr.BadRequest("provider %s does not support OAuth", c.ModelProviderID)
	}
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(credential.OAuthPayload{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		ExpiresAt:    fresh.Expiry,
	})
	if err != nil {
		return nil, err
	}
	enc, err := cryptoutil.Encrypt(payload, v.key)
	if err != nil {
		return nil, err
	}
	c.EncryptedPayload = enc
	c.OAuthExpiresAt = &fresh.Expiry
	c.KeyHash = keyHash(fresh.RefreshToken)
	if err := v.store.UpsertCredential(ctx, c); err != nil {
		return nil, err
	}
	return &ResolvedCredential{Type: credential.AuthOAuth, Access: fresh.AccessToken}, nil
}

// RevokeCredential sets revoked_at to now, retaining the row for audit.
func (v *CredentialVault) RevokeCredential(ctx context.Context, id string) error {
	if err := v.store.RevokeCredential(ctx, id, time.Now()); err != nil {
		return apierr.Internal("revoke credential: %v", err)
	}
	return nil
}

// DeleteCredential permanently removes the row.
func (v *CredentialVault) DeleteCredential(ctx context.Context, id string) error {
	if err := v.store.DeleteCredential(ctx, id); err != nil {
		return apierr.Internal("delete credential: %v", err)
	}
	return nil
}
