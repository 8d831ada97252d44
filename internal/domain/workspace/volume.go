package workspace

import "time"

// Volume is the single persistent-storage row owned by a persistent
// workspace.
type Volume struct {
	ID               string    `json:"id"`
	WorkspaceID      string    `json:"workspace_id"`
	ExternalVolumeID string    `json:"external_volume_id"`
	MountPath        string    `json:"mount_path"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
