// Package gitintegration defines the GitHub App installation and
// per-workspace Git configuration entities.
package gitintegration

import "time"

// Integration is a user's linked Git identity, presently backed by a
// GitHub App installation.
type Integration struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Provider       string    `json:"provider"` // "github" today; shaped to admit others
	InstallationID string    `json:"installation_id"`
	AccountLogin   string    `json:"account_login"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AppInstallation mirrors the subset of a GitHub App installation webhook
// payload the control plane persists.
type AppInstallation struct {
	InstallationID int64     `json:"installation_id"`
	AccountLogin   string    `json:"account_login"`
	AccountType    string    `json:"account_type"` // "User" or "Organization"
	RepositorySelection string `json:"repository_selection"`
	CreatedAt      time.Time `json:"created_at"`
}

// WorkspaceConfig binds a workspace or loop to a specific repository,
// branch and checkout path under a user's Integration.
type WorkspaceConfig struct {
	ID            string `json:"id"`
	IntegrationID string `json:"integration_id"`
	RepositoryOwner string `json:"repository_owner"`
	RepositoryName  string `json:"repository_name"`
	Branch        string `json:"branch"`
	CreatedAt     time.Time `json:"created_at"`
}
