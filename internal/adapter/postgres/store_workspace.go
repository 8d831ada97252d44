package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openclave/controlplane/internal/domain/workspace"
)

const workspaceColumns = `
	id, user_id, subdomain, domain, name,
	cloud_provider_id, region_id, image_id, external_instance_id,
	external_running_deployment_id, upstream_url,
	hosting_type, persistent, server_only,
	git_integration_id, repository_url,
	status, started_at, last_active_at, stopped_at, terminated_at,
	local_port, exposed_ports, tunnel_connected_at,
	version, created_at, updated_at`

func (s *Store) CreateWorkspace(ctx context.Context, w *workspace.Workspace) error {
	exposedJSON, err := json.Marshal(w.ExposedPorts)
	if err != nil {
		return fmt.Errorf("marshal exposed_ports: %w", err)
	}

	row := s.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO workspaces (
			id, user_id, subdomain, domain, name,
			cloud_provider_id, region_id, image_id, external_instance_id,
			external_running_deployment_id, upstream_url,
			hosting_type, persistent, server_only,
			git_integration_id, repository_url,
			status, started_at, last_active_at,
			local_port, exposed_ports
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		) RETURNING %s`, workspaceColumns),
		w.ID, w.UserID, w.Subdomain, w.Domain, w.Name,
		w.CloudProviderID, w.RegionID, w.ImageID, w.ExternalInstanceID,
		w.ExternalRunningDeploymentID, w.UpstreamURL,
		w.HostingType, w.Persistent, w.ServerOnly,
		w.GitIntegrationID, w.RepositoryURL,
		w.Status, w.StartedAt, w.LastActiveAt,
		w.LocalPort, exposedJSON,
	)

	got, err := scanWorkspace(row)
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	*w = got
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (*workspace.Workspace, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM workspaces WHERE id = $1`, workspaceColumns), id)
	w, err := scanWorkspace(row)
	if err != nil {
		return nil, notFoundWrap(err, "get workspace %s", id)
	}
	return &w, nil
}

func (s *Store) GetWorkspaceBySubdomain(ctx context.Context, subdomain string) (*workspace.Workspace, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM workspaces WHERE subdomain = $1`, workspaceColumns), subdomain)
	w, err := scanWorkspace(row)
	if err != nil {
		return nil, notFoundWrap(err, "get workspace by subdomain %s", subdomain)
	}
	return &w, nil
}

func (s *Store) ListWorkspacesByUser(ctx context.Context, userID string) ([]workspace.Workspace, error) {
	return s.queryWorkspaces(ctx, fmt.Sprintf(`SELECT %s FROM workspaces WHERE user_id = $1 ORDER BY created_at DESC`, workspaceColumns), userID)
}

func (s *Store) ListNonTerminatedWorkspacesByUser(ctx context.Context, userID string) ([]workspace.Workspace, error) {
	return s.queryWorkspaces(ctx, fmt.Sprintf(`SELECT %s FROM workspaces WHERE user_id = $1 AND status != $2 ORDER BY created_at DESC`, workspaceColumns),
		userID, workspace.StatusTerminated)
}

func (s *Store) ListWorkspacesForIdleReap(ctx context.Context, idleSince time.Time) ([]workspace.Workspace, error) {
	return s.queryWorkspaces(ctx, fmt.Sprintf(`SELECT %s FROM workspaces WHERE status = $1 AND last_active_at <= $2 ORDER BY last_active_at`, workspaceColumns),
		workspace.StatusRunning, idleSince)
}

func (s *Store) ListRunningWorkspaces(ctx context.Context) ([]workspace.Workspace, error) {
	return s.queryWorkspaces(ctx, fmt.Sprintf(`SELECT %s FROM workspaces WHERE status = $1 ORDER BY last_active_at`, workspaceColumns),
		workspace.StatusRunning)
}

func (s *Store) ListWorkspacesForInactivityReap(ctx context.Context, cutoff time.Time) ([]workspace.Workspace, error) {
	return s.queryWorkspaces(ctx, fmt.Sprintf(`SELECT %s FROM workspaces WHERE status IN ($1, $2) AND last_active_at <= $3 ORDER BY last_active_at`, workspaceColumns),
		workspace.StatusRunning, workspace.StatusStopped, cutoff)
}

func (s *Store) queryWorkspaces(ctx context.Context, sql string, args ...any) ([]workspace.Workspace, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, notFoundWrap(err, "list workspaces")
	}
	defer rows.Close()

	var out []workspace.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateWorkspace performs an optimistic-concurrency UPDATE keyed on
// w.Version, returning domain.ErrConflict (via execExpectVersionMatch)
// when no row matched.
func (s *Store) UpdateWorkspace(ctx context.Context, w *workspace.Workspace) error {
	exposedJSON, err := json.Marshal(w.ExposedPorts)
	if err != nil {
		return fmt.Errorf("marshal exposed_ports: %w", err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE workspaces SET
			name = $3,
			external_instance_id = $4,
			external_running_deployment_id = $5,
			upstream_url = $6,
			status = $7,
			started_at = $8,
			last_active_at = $9,
			stopped_at = $10,
			terminated_at = $11,
			local_port = $12,
			exposed_ports = $13,
			tunnel_connected_at = $14,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2`,
		w.ID, w.Version, w.Name,
		w.ExternalInstanceID, w.ExternalRunningDeploymentID, w.UpstreamURL,
		w.Status, w.StartedAt, w.LastActiveAt, w.StoppedAt, w.TerminatedAt,
		w.LocalPort, exposedJSON, w.TunnelConnectedAt,
	)
	if err := execExpectVersionMatch(tag, err, "update workspace %s", w.ID); err != nil {
		return err
	}
	w.Version++
	return nil
}

func (s *Store) TouchWorkspaceActivity(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE workspaces SET last_active_at = $2 WHERE id = $1`, id, at)
	return execExpectOne(tag, err, "touch workspace activity %s", id)
}

func (s *Store) IsSubdomainTaken(ctx context.Context, subdomain string) (bool, error) {
	var taken bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM workspaces WHERE subdomain = $1 AND status != $2)`,
		subdomain, workspace.StatusTerminated).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check subdomain taken %s: %w", subdomain, err)
	}
	return taken, nil
}

func scanWorkspace(row scannable) (workspace.Workspace, error) {
	var w workspace.Workspace
	var exposedJSON []byte
	err := row.Scan(
		&w.ID, &w.UserID, &w.Subdomain, &w.Domain, &w.Name,
		&w.CloudProviderID, &w.RegionID, &w.ImageID, &w.ExternalInstanceID,
		&w.ExternalRunningDeploymentID, &w.UpstreamURL,
		&w.HostingType, &w.Persistent, &w.ServerOnly,
		&w.GitIntegrationID, &w.RepositoryURL,
		&w.Status, &w.StartedAt, &w.LastActiveAt, &w.StoppedAt, &w.TerminatedAt,
		&w.LocalPort, &exposedJSON, &w.TunnelConnectedAt,
		&w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return w, err
	}
	if len(exposedJSON) > 0 {
		if err := json.Unmarshal(exposedJSON, &w.ExposedPorts); err != nil {
			return w, fmt.Errorf("unmarshal exposed_ports: %w", err)
		}
	}
	return w, nil
}
