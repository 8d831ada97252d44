// Package credential defines the model-provider catalog and the per-user
// encrypted credential entities backing the credential vault.
package credential

import "time"

// AuthType distinguishes a static API key from an OAuth device-code grant.
type AuthType string

const (
	AuthAPIKey AuthType = "api_key"
	AuthOAuth  AuthType = "oauth"
)

// ModelProvider is an admin-managed catalog entry for an upstream model
// vendor (e.g. Anthropic, OpenAI).
type ModelProvider struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	SupportsAPIKey bool       `json:"supports_api_key"`
	SupportsOAuth  bool       `json:"supports_oauth"`
	IsEnabled      bool       `json:"is_enabled"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Model belongs to a ModelProvider and is the identifier passed to the
// sandbox agent runtime. IsFree marks a model the scheduler may dispatch
// without a bound credential.
type Model struct {
	ID              string    `json:"id"`
	ModelProviderID string    `json:"model_provider_id"`
	Name            string    `json:"name"`
	ExternalModelID string    `json:"external_model_id"`
	IsFree          bool      `json:"is_free"`
	IsEnabled       bool      `json:"is_enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UserCredential is one user's stored credential for a ModelProvider. At
// most one non-revoked credential exists per (user, provider) pair.
type UserCredential struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	ModelProviderID string     `json:"model_provider_id"`
	AuthType        AuthType   `json:"auth_type"`
	Label           string     `json:"label"`
	EncryptedPayload []byte    `json:"-"`
	KeyHash         string     `json:"-"` // sha256 hex, used for duplicate-key detection and display redaction
	OAuthExpiresAt  *time.Time `json:"oauth_expires_at,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsRevoked reports whether the credential has been explicitly revoked.
func (c *UserCredential) IsRevoked() bool {
	return c.RevokedAt != nil
}

// NeedsRefresh reports whether an OAuth credential's access token is close
// enough to expiry that it should be refreshed before use.
func (c *UserCredential) NeedsRefresh(now time.Time, skew time.Duration) bool {
	if c.AuthType != AuthOAuth || c.OAuthExpiresAt == nil {
		return false
	}
	return now.Add(skew).After(*c.OAuthExpiresAt)
}

// OAuthPayload is the plaintext structure encrypted into EncryptedPayload
// for AuthOAuth credentials.
type OAuthPayload struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// APIKeyPayload is the plaintext structure encrypted into EncryptedPayload
// for AuthAPIKey credentials.
type APIKeyPayload struct {
	APIKey string `json:"api_key"`
}

// StoreAPIKeyRequest is the input to storing a static API key credential.
type StoreAPIKeyRequest struct {
	UserID          string
	ModelProviderID string
	Label           string
	APIKey          string
}
