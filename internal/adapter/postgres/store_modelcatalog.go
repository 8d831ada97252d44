package postgres

import (
	"context"

	"github.com/openclave/controlplane/internal/domain/credential"
)

func (s *Store) ListModelProviders(ctx context.Context) ([]credential.ModelProvider, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, supports_api_key, supports_oauth, is_enabled, created_at, updated_at
		FROM model_providers ORDER BY name`)
	if err != nil {
		return nil, notFoundWrap(err, "list model providers")
	}
	defer rows.Close()

	var out []credential.ModelProvider
	for rows.Next() {
		var p credential.ModelProvider
		if err := rows.Scan(&p.ID, &p.Name, &p.SupportsAPIKey, &p.SupportsOAuth, &p.IsEnabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetModelProvider(ctx context.Context, id string) (*credential.ModelProvider, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, supports_api_key, supports_oauth, is_enabled, created_at, updated_at
		FROM model_providers WHERE id = $1`, id)
	var p credential.ModelProvider
	if err := row.Scan(&p.ID, &p.Name, &p.SupportsAPIKey, &p.SupportsOAuth, &p.IsEnabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get model provider %s", id)
	}
	return &p, nil
}

func (s *Store) ListModels(ctx context.Context, modelProviderID string) ([]credential.Model, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, model_provider_id, name, external_model_id, is_free, is_enabled, created_at, updated_at
		FROM models WHERE model_provider_id = $1 ORDER BY name`, modelProviderID)
	if err != nil {
		return nil, notFoundWrap(err, "list models for provider %s", modelProviderID)
	}
	defer rows.Close()

	var out []credential.Model
	for rows.Next() {
		var m credential.Model
		if err := rows.Scan(&m.ID, &m.ModelProviderID, &m.Name, &m.ExternalModelID, &m.IsFree, &m.IsEnabled, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetModel(ctx context.Context, id string) (*credential.Model, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, model_provider_id, name, external_model_id, is_free, is_enabled, created_at, updated_at
		FROM models WHERE id = $1`, id)
	var m credential.Model
	if err := row.Scan(&m.ID, &m.ModelProviderID, &m.Name, &m.ExternalModelID, &m.IsFree, &m.IsEnabled, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get model %s", id)
	}
	return &m, nil
}
