package postgres

import (
	"context"
	"fmt"

	"github.com/openclave/controlplane/internal/domain/gitintegration"
)

const gitIntegrationColumns = `id, user_id, provider, installation_id, account_login, created_at, updated_at`

func (s *Store) CreateGitIntegration(ctx context.Context, g *gitintegration.Integration) error {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO git_integrations (id, user_id, provider, installation_id, account_login)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s`, gitIntegrationColumns),
		g.ID, g.UserID, g.Provider, g.InstallationID, g.AccountLogin,
	)

	got, err := scanGitIntegration(row)
	if err != nil {
		return fmt.Errorf("create git integration: %w", err)
	}
	*g = got
	return nil
}

func (s *Store) GetGitIntegration(ctx context.Context, id string) (*gitintegration.Integration, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM git_integrations WHERE id = $1`, gitIntegrationColumns), id)
	g, err := scanGitIntegration(row)
	if err != nil {
		return nil, notFoundWrap(err, "get git integration %s", id)
	}
	return &g, nil
}

func (s *Store) GetGitIntegrationByUser(ctx context.Context, userID string) (*gitintegration.Integration, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM git_integrations WHERE user_id = $1`, gitIntegrationColumns), userID)
	g, err := scanGitIntegration(row)
	if err != nil {
		return nil, notFoundWrap(err, "get git integration for user %s", userID)
	}
	return &g, nil
}

func (s *Store) GetGitIntegrationByInstallation(ctx context.Context, installationID string) (*gitintegration.Integration, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM git_integrations WHERE installation_id = $1`, gitIntegrationColumns), installationID)
	g, err := scanGitIntegration(row)
	if err != nil {
		return nil, notFoundWrap(err, "get git integration for installation %s", installationID)
	}
	return &g, nil
}

func (s *Store) DeleteGitIntegration(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM git_integrations WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete git integration %s", id)
}

func scanGitIntegration(row scannable) (gitintegration.Integration, error) {
	var g gitintegration.Integration
	err := row.Scan(&g.ID, &g.UserID, &g.Provider, &g.InstallationID, &g.AccountLogin, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}
