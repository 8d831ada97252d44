package postgres

import (
	"context"
	"fmt"

	"github.com/openclave/controlplane/internal/domain/workspace"
)

func (s *Store) CreateVolume(ctx context.Context, v *workspace.Volume) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO volumes (id, workspace_id, external_volume_id, mount_path)
		VALUES ($1, $2, $3, $4)
		RETURNING id, workspace_id, external_volume_id, mount_path, created_at, updated_at`,
		v.ID, v.WorkspaceID, v.ExternalVolumeID, v.MountPath)

	err := row.Scan(&v.ID, &v.WorkspaceID, &v.ExternalVolumeID, &v.MountPath, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create volume: %w", err)
	}
	return nil
}

func (s *Store) GetVolumeByWorkspace(ctx context.Context, workspaceID string) (*workspace.Volume, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, workspace_id, external_volume_id, mount_path, created_at, updated_at
		FROM volumes WHERE workspace_id = $1`, workspaceID)

	var v workspace.Volume
	if err := row.Scan(&v.ID, &v.WorkspaceID, &v.ExternalVolumeID, &v.MountPath, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get volume for workspace %s", workspaceID)
	}
	return &v, nil
}
