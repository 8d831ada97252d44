// Package workspace defines the Workspace domain entity and its lifecycle
// state machine.
package workspace

import (
	"fmt"
	"time"
)

// Status is the workspace lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusTerminated Status = "terminated"
)

// HostingType distinguishes cloud-provisioned from locally-tunneled workspaces.
type HostingType string

const (
	HostingCloud HostingType = "cloud"
	HostingLocal HostingType = "local"
)

// StopSource records why a running workspace was stopped.
type StopSource string

const (
	StopManual         StopSource = "manual"
	StopIdle           StopSource = "idle"
	StopQuotaExhausted StopSource = "quota_exhausted"
	StopError          StopSource = "error"
)

// ExposedPort describes one port an agent has announced over the tunnel.
type ExposedPort struct {
	Port        int    `json:"port"`
	Description string `json:"description"`
}

// Workspace is the core entity brokered by the control plane.
type Workspace struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Subdomain string `json:"subdomain"`
	Domain   string `json:"domain"`
	Name     string `json:"name"`

	CloudProviderID              string  `json:"cloud_provider_id"`
	RegionID                     string  `json:"region_id"`
	ImageID                      string  `json:"image_id"`
	ExternalInstanceID           string  `json:"external_instance_id"`
	ExternalRunningDeploymentID  *string `json:"external_running_deployment_id,omitempty"`
	UpstreamURL                  *string `json:"upstream_url,omitempty"`

	HostingType HostingType `json:"hosting_type"`
	Persistent  bool        `json:"persistent"`
	ServerOnly  bool        `json:"server_only"`

	GitIntegrationID *string `json:"git_integration_id,omitempty"`
	RepositoryURL    *string `json:"repository_url,omitempty"`

	Status Status `json:"status"`

	StartedAt     time.Time  `json:"started_at"`
	LastActiveAt  time.Time  `json:"last_active_at"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
	TerminatedAt  *time.Time `json:"terminated_at,omitempty"`

	LocalPort         *int                   `json:"local_port,omitempty"`
	ExposedPorts      map[string]ExposedPort `json:"exposed_ports,omitempty"`
	TunnelConnectedAt *time.Time             `json:"tunnel_connected_at,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// transitions enumerates the directed workspace lifecycle graph.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:    true,
		StatusStopped:    true,
		StatusTerminated: true,
	},
	StatusRunning: {
		StatusStopped:    true,
		StatusTerminated: true,
	},
	StatusStopped: {
		StatusPending:    true,
		StatusTerminated: true,
	},
	StatusTerminated: {},
}

// CanTransition reports whether moving from `from` to `to` is permitted.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// ErrInvalidTransition is returned when a caller requests a state change
// not permitted by the directed lifecycle graph.
type ErrInvalidTransition struct {
	From, To Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("workspace: invalid transition %s -> %s", e.From, e.To)
}

// ReservedSubdomains may never be claimed by a user-requested subdomain.
var ReservedSubdomains = map[string]bool{
	"api": true, "tunnel": true, "www": true, "app": true, "admin": true,
	"dashboard": true, "cdn": true, "static": true, "assets": true,
	"mail": true, "email": true, "ftp": true, "ssh": true, "docs": true,
	"blog": true, "status": true, "support": true,
}

// IsNonTerminated reports whether the workspace still occupies its subdomain
// and counts against the per-user concurrency cap.
func (w *Workspace) IsNonTerminated() bool {
	return w.Status != StatusTerminated
}

// CreateRequest is the input to workspace admission.
type CreateRequest struct {
	UserID          string
	AgentTypeID     string
	CloudProviderID string
	RegionID        string
	RepositoryURL   *string
	Persistent      bool
	Subdomain       *string
	Name            string
	GitIntegrationID *string
	ExtraEnv        map[string]string
}
