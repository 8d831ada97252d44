package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/openclave/controlplane/internal/domain/usage"
)

func (s *Store) OpenUsageSession(ctx context.Context, sess *usage.Session) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO usage_sessions (id, workspace_id, user_id, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, workspace_id, user_id, started_at`,
		sess.ID, sess.WorkspaceID, sess.UserID, sess.StartedAt)

	if err := row.Scan(&sess.ID, &sess.WorkspaceID, &sess.UserID, &sess.StartedAt); err != nil {
		return fmt.Errorf("open usage session: %w", err)
	}
	return nil
}

func (s *Store) GetOpenUsageSessionByWorkspace(ctx context.Context, workspaceID string) (*usage.Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, workspace_id, user_id, started_at, stopped_at, duration_minutes, stop_source
		FROM usage_sessions WHERE workspace_id = $1 AND stopped_at IS NULL`, workspaceID)

	var sess usage.Session
	err := row.Scan(&sess.ID, &sess.WorkspaceID, &sess.UserID, &sess.StartedAt, &sess.StoppedAt, &sess.DurationMinutes, &sess.StopSource)
	if err != nil {
		return nil, notFoundWrap(err, "get open usage session for workspace %s", workspaceID)
	}
	return &sess, nil
}

func (s *Store) CloseUsageSession(ctx context.Context, id string, stoppedAt time.Time, durationMinutes int, source usage.StopSource) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE usage_sessions SET stopped_at = $2, duration_minutes = $3, stop_source = $4
		WHERE id = $1 AND stopped_at IS NULL`,
		id, stoppedAt, durationMinutes, source)
	return execExpectOne(tag, err, "close usage session %s", id)
}

func (s *Store) GetDailyUsage(ctx context.Context, userID string, date time.Time) (*usage.Daily, error) {
	row := s.db.QueryRow(ctx, `
		SELECT user_id, date, minutes_used FROM daily_usage WHERE user_id = $1 AND date = $2`,
		userID, date.UTC().Truncate(24*time.Hour))

	var d usage.Daily
	if err := row.Scan(&d.UserID, &d.Date, &d.MinutesUsed); err != nil {
		return nil, notFoundWrap(err, "get daily usage for %s on %s", userID, date)
	}
	return &d, nil
}

func (s *Store) IncrementDailyUsage(ctx context.Context, userID string, date time.Time, minutes int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO daily_usage (user_id, date, minutes_used)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, date) DO UPDATE SET minutes_used = daily_usage.minutes_used + EXCLUDED.minutes_used`,
		userID, date.UTC().Truncate(24*time.Hour), minutes)
	if err != nil {
		return fmt.Errorf("increment daily usage for %s: %w", userID, err)
	}
	return nil
}
