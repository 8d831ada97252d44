package postgres

import (
	"context"
	"fmt"

	"github.com/openclave/controlplane/internal/domain/agentloop"
)

const loopColumns = `
	id, user_id, git_integration_id, sandbox_provider_id,
	repository_owner, repository_name, branch, plan_file_path, progress_file_path,
	model_provider_id, model_id, credential_id, automation_enabled, max_runs,
	total_runs, successful_runs, failed_runs, status,
	prompt, last_run_id, last_run_at,
	version, created_at, updated_at`

func (s *Store) CreateLoop(ctx context.Context, l *agentloop.Loop) error {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO agent_loops (
			id, user_id, git_integration_id, sandbox_provider_id,
			repository_owner, repository_name, branch, plan_file_path, progress_file_path,
			model_provider_id, model_id, credential_id, automation_enabled, max_runs,
			status, prompt
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING %s`, loopColumns),
		l.ID, l.UserID, l.GitIntegrationID, l.SandboxProviderID,
		l.RepositoryOwner, l.RepositoryName, l.Branch, l.PlanFilePath, l.ProgressFilePath,
		l.ModelProviderID, l.ModelID, l.CredentialID, l.AutomationEnabled, l.MaxRuns,
		l.Status, l.Prompt,
	)

	got, err := scanLoop(row)
	if err != nil {
		return fmt.Errorf("create loop: %w", err)
	}
	*l = got
	return nil
}

func (s *Store) GetLoop(ctx context.Context, id string) (*agentloop.Loop, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM agent_loops WHERE id = $1`, loopColumns), id)
	l, err := scanLoop(row)
	if err != nil {
		return nil, notFoundWrap(err, "get loop %s", id)
	}
	return &l, nil
}

func (s *Store) ListLoopsByUser(ctx context.Context, userID string) ([]agentloop.Loop, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM agent_loops WHERE user_id = $1 ORDER BY created_at DESC`, loopColumns), userID)
	if err != nil {
		return nil, notFoundWrap(err, "list loops for user %s", userID)
	}
	defer rows.Close()

	var out []agentloop.Loop
	for rows.Next() {
		l, err := scanLoop(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpdateLoop performs an optimistic-concurrency UPDATE keyed on l.Version.
func (s *Store) UpdateLoop(ctx context.Context, l *agentloop.Loop) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE agent_loops SET
			progress_file_path = $3,
			automation_enabled = $4,
			max_runs = $5,
			total_runs = $6,
			successful_runs = $7,
			failed_runs = $8,
			status = $9,
			prompt = $10,
			last_run_id = $11,
			last_run_at = $12,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2`,
		l.ID, l.Version, l.ProgressFilePath, l.AutomationEnabled, l.MaxRuns,
		l.TotalRuns, l.SuccessfulRuns, l.FailedRuns, l.Status,
		l.Prompt, l.LastRunID, l.LastRunAt,
	)
	if err := execExpectVersionMatch(tag, err, "update loop %s", l.ID); err != nil {
		return err
	}
	l.Version++
	return nil
}

// DeleteLoop cascades to the loop's runs via the foreign key's ON DELETE
// CASCADE (see migrations) rather than an application-level fan-out delete.
func (s *Store) DeleteLoop(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM agent_loops WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete loop %s", id)
}

func scanLoop(row scannable) (agentloop.Loop, error) {
	var l agentloop.Loop
	err := row.Scan(
		&l.ID, &l.UserID, &l.GitIntegrationID, &l.SandboxProviderID,
		&l.RepositoryOwner, &l.RepositoryName, &l.Branch, &l.PlanFilePath, &l.ProgressFilePath,
		&l.ModelProviderID, &l.ModelID, &l.CredentialID, &l.AutomationEnabled, &l.MaxRuns,
		&l.TotalRuns, &l.SuccessfulRuns, &l.FailedRuns, &l.Status,
		&l.Prompt, &l.LastRunID, &l.LastRunAt,
		&l.Version, &l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}
