package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/openclave/controlplane/internal/domain/agentloop"
	"github.com/openclave/controlplane/internal/port/database"
)

const runColumns = `
	id, loop_id, run_number, status, trigger_type,
	sandbox_external_id, prompt, exit_code, failure_reason, diff_summary,
	started_at, completed_at,
	created_at, updated_at`


// CreateRunLocked must only be called while the caller already holds the
// owning loop's row lock (via WithLoopLock), since run_number is assigned
// by the caller from loop.TotalRuns+1 rather than computed here.
func (s *Store) CreateRunLocked(ctx context.Context, r *agentloop.Run) error {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO agent_loop_runs (
			id, loop_id, run_number, status, trigger_type, prompt
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s`, runColumns),
		r.ID, r.LoopID, r.RunNumber, r.Status, r.TriggerType, r.Prompt,
	)

	got, err := scanRun(row)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	*r = got
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*agentloop.Run, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM agent_loop_runs WHERE id = $1`, runColumns), id)
	r, err := scanRun(row)
	if err != nil {
		return nil, notFoundWrap(err, "get run %s", id)
	}
	return &r, nil
}

func (s *Store) ListRunsByLoop(ctx context.Context, loopID string) ([]agentloop.Run, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM agent_loop_runs WHERE loop_id = $1 ORDER BY run_number DESC`, runColumns), loopID)
	if err != nil {
		return nil, notFoundWrap(err, "list runs for loop %s", loopID)
	}
	defer rows.Close()

	var out []agentloop.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetInFlightRun(ctx context.Context, loopID string) (*agentloop.Run, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM agent_loop_runs
		WHERE loop_id = $1 AND status IN ($2, $3)
		ORDER BY run_number DESC LIMIT 1`, runColumns),
		loopID, agentloop.RunPending, agentloop.RunRunning)
	r, err := scanRun(row)
	if err != nil {
		return nil, notFoundWrap(err, "get in-flight run for loop %s", loopID)
	}
	return &r, nil
}

// UpdateRunStatus sets status plus whichever RunStatusUpdate fields were
// supplied; nil fields leave the corresponding column untouched via COALESCE.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status agentloop.RunStatus, fields database.RunStatusUpdate) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE agent_loop_runs SET
			status = $2,
			sandbox_external_id = COALESCE($3, sandbox_external_id),
			exit_code = COALESCE($4, exit_code),
			failure_reason = COALESCE($5, failure_reason),
			diff_summary = COALESCE($6, diff_summary),
			started_at = COALESCE($7, started_at),
			completed_at = COALESCE($8, completed_at),
			updated_at = now()
		WHERE id = $1`,
		id, status,
		fields.SandboxExternalID, fields.ExitCode, fields.FailureReason, fields.DiffSummary,
		fields.StartedAt, fields.CompletedAt,
	)
	return execExpectOne(tag, err, "update run status %s", id)
}

// ListStalledRuns returns runs stuck in running or pending since before
// started_at (or created_at, for runs that never reached dispatch).
func (s *Store) ListStalledRuns(ctx context.Context, before time.Time) ([]agentloop.Run, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM agent_loop_runs
		WHERE status IN ($1, $2) AND COALESCE(started_at, created_at) < $3`, runColumns),
		agentloop.RunRunning, agentloop.RunPending, before)
	if err != nil {
		return nil, notFoundWrap(err, "list stalled runs")
	}
	defer rows.Close()

	var out []agentloop.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) NextRunNumber(ctx context.Context, loopID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(run_number), 0) + 1 FROM agent_loop_runs WHERE loop_id = $1`, loopID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next run number for loop %s: %w", loopID, err)
	}
	return n, nil
}

func scanRun(row scannable) (agentloop.Run, error) {
	var r agentloop.Run
	err := row.Scan(
		&r.ID, &r.LoopID, &r.RunNumber, &r.Status, &r.TriggerType,
		&r.SandboxExternalID, &r.Prompt, &r.ExitCode, &r.FailureReason, &r.DiffSummary,
		&r.StartedAt, &r.CompletedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}
