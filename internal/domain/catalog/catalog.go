// Package catalog defines the admin-managed provider/region/agent-type/image
// catalog entities.
package catalog

import (
	"strings"
	"time"
)

// CloudProvider selects a concrete compute backend implementation.
type CloudProvider struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"` // selects the ComputeProvider implementation; "Local" (case-insensitive) is the tunnel backend
	IsSandbox bool      `json:"is_sandbox"`
	IsEnabled bool      `json:"is_enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLocal reports whether this provider's name selects the local-tunnel
// backend.
func (p *CloudProvider) IsLocal() bool {
	return strings.EqualFold(p.Name, "local")
}

// Region belongs to a CloudProvider and carries an opaque identifier passed
// unchanged to the provider SDK.
type Region struct {
	ID                        string    `json:"id"`
	CloudProviderID           string    `json:"cloud_provider_id"`
	Name                      string    `json:"name"`
	ExternalRegionIdentifier  string    `json:"external_region_identifier"`
	IsEnabled                 bool      `json:"is_enabled"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// AgentType may be flagged server-only, restricting it to local-tunnel
// workspaces.
type AgentType struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ServerOnly bool      `json:"server_only"`
	IsEnabled  bool      `json:"is_enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Image binds a provider image identifier to an AgentType.
type Image struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ImageID   string    `json:"image_id"`
	AgentTypeID string  `json:"agent_type_id"`
	IsEnabled bool      `json:"is_enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
