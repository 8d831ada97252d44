package postgres

import (
	"context"

	"github.com/openclave/controlplane/internal/domain/catalog"
)

func (s *Store) ListCloudProviders(ctx context.Context) ([]catalog.CloudProvider, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, is_sandbox, is_enabled, created_at, updated_at
		FROM cloud_providers ORDER BY name`)
	if err != nil {
		return nil, notFoundWrap(err, "list cloud providers")
	}
	defer rows.Close()

	var out []catalog.CloudProvider
	for rows.Next() {
		var p catalog.CloudProvider
		if err := rows.Scan(&p.ID, &p.Name, &p.IsSandbox, &p.IsEnabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetCloudProvider(ctx context.Context, id string) (*catalog.CloudProvider, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, is_sandbox, is_enabled, created_at, updated_at
		FROM cloud_providers WHERE id = $1`, id)
	var p catalog.CloudProvider
	if err := row.Scan(&p.ID, &p.Name, &p.IsSandbox, &p.IsEnabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get cloud provider %s", id)
	}
	return &p, nil
}

func (s *Store) ListRegions(ctx context.Context, cloudProviderID string) ([]catalog.Region, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, cloud_provider_id, name, external_region_identifier, is_enabled, created_at, updated_at
		FROM regions WHERE cloud_provider_id = $1 ORDER BY name`, cloudProviderID)
	if err != nil {
		return nil, notFoundWrap(err, "list regions for provider %s", cloudProviderID)
	}
	defer rows.Close()

	var out []catalog.Region
	for rows.Next() {
		var r catalog.Region
		if err := rows.Scan(&r.ID, &r.CloudProviderID, &r.Name, &r.ExternalRegionIdentifier, &r.IsEnabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetRegion(ctx context.Context, id string) (*catalog.Region, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, cloud_provider_id, name, external_region_identifier, is_enabled, created_at, updated_at
		FROM regions WHERE id = $1`, id)
	var r catalog.Region
	if err := row.Scan(&r.ID, &r.CloudProviderID, &r.Name, &r.ExternalRegionIdentifier, &r.IsEnabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get region %s", id)
	}
	return &r, nil
}

func (s *Store) ListAgentTypes(ctx context.Context) ([]catalog.AgentType, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, server_only, is_enabled, created_at, updated_at
		FROM agent_types ORDER BY name`)
	if err != nil {
		return nil, notFoundWrap(err, "list agent types")
	}
	defer rows.Close()

	var out []catalog.AgentType
	for rows.Next() {
		var a catalog.AgentType
		if err := rows.Scan(&a.ID, &a.Name, &a.ServerOnly, &a.IsEnabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) GetAgentType(ctx context.Context, id string) (*catalog.AgentType, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, server_only, is_enabled, created_at, updated_at
		FROM agent_types WHERE id = $1`, id)
	var a catalog.AgentType
	if err := row.Scan(&a.ID, &a.Name, &a.ServerOnly, &a.IsEnabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get agent type %s", id)
	}
	return &a, nil
}

func (s *Store) GetImageForAgentType(ctx context.Context, agentTypeID string) (*catalog.Image, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, image_id, agent_type_id, is_enabled, created_at, updated_at
		FROM images WHERE agent_type_id = $1 AND is_enabled ORDER BY created_at DESC LIMIT 1`, agentTypeID)
	var img catalog.Image
	if err := row.Scan(&img.ID, &img.Name, &img.ImageID, &img.AgentTypeID, &img.IsEnabled, &img.CreatedAt, &img.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get image for agent type %s", agentTypeID)
	}
	return &img, nil
}
