package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/openclave/controlplane/internal/domain/quota"
)

const quotaColumns = `user_id, monthly_runs, extra_runs, next_monthly_reset_at, updated_at`

// GetOrCreateQuota seeds a fresh quota row for a user on first touch so
// callers never have to special-case a missing row.
func (s *Store) GetOrCreateQuota(ctx context.Context, userID string, nextReset time.Time) (*quota.UserLoopRunQuota, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO user_loop_run_quotas (user_id, next_monthly_reset_at)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = user_loop_run_quotas.user_id
		RETURNING %s`, quotaColumns),
		userID, nextReset,
	)

	q, err := scanQuota(row)
	if err != nil {
		return nil, fmt.Errorf("get or create quota for %s: %w", userID, err)
	}
	return &q, nil
}

func (s *Store) SaveQuota(ctx context.Context, q *quota.UserLoopRunQuota) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE user_loop_run_quotas SET
			monthly_runs = $2,
			extra_runs = $3,
			next_monthly_reset_at = $4,
			updated_at = now()
		WHERE user_id = $1`,
		q.UserID, q.MonthlyRuns, q.ExtraRuns, q.NextMonthlyResetAt,
	)
	return execExpectOne(tag, err, "save quota for %s", q.UserID)
}

func (s *Store) ListQuotasDueForReset(ctx context.Context, asOf time.Time) ([]quota.UserLoopRunQuota, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM user_loop_run_quotas WHERE next_monthly_reset_at <= $1`, quotaColumns), asOf)
	if err != nil {
		return nil, notFoundWrap(err, "list quotas due for reset")
	}
	defer rows.Close()

	var out []quota.UserLoopRunQuota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func scanQuota(row scannable) (quota.UserLoopRunQuota, error) {
	var q quota.UserLoopRunQuota
	err := row.Scan(&q.UserID, &q.MonthlyRuns, &q.ExtraRuns, &q.NextMonthlyResetAt, &q.UpdatedAt)
	return q, err
}
