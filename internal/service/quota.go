// Package service implements the control plane's business logic over the
// internal/port interfaces, sitting between internal/adapter/http and
// internal/port/database.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openclave/controlplane/internal/domain/apierr"
	"github.com/openclave/controlplane/internal/domain/quota"
	"github.com/openclave/controlplane/internal/domain/systemconfig"
	"github.com/openclave/controlplane/internal/domain/usage"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/port/database"
)

// QuotaService implements metering and quota: daily minute
// counters for cloud workspaces and monthly run counters for agent loops,
// both backed by database.Store and a short-TTL config cache.
type QuotaService struct {
	store  database.Store
	config *ConfigCache
	// SelfHosted disables the free-tier daily quota ceiling entirely.
	SelfHosted bool
}

func NewQuotaService(store database.Store, config *ConfigCache) *QuotaService {
	return &QuotaService{store: store, config: config}
}

// EnsureDailyUsage returns (used, remaining) minutes for today's UTC date,
// creating the row on first call.
func (s *QuotaService) EnsureDailyUsage(ctx context.Context, userID string, plan user.Plan) (used, remaining int, err error) {
	today := dayTruncUTC(time.Now())
	d, err := s.store.GetDailyUsage(ctx, userID, today)
	if err != nil {
		d = &usage.Daily{UserID: userID, Date: today, MinutesUsed: 0}
	}
	snap, err := s.config.Snapshot(ctx)
	if err != nil {
		return 0, 0, apierr.Internal("load system config: %v", err)
	}
	remaining = snap.FreeTierDailyMinutes - d.MinutesUsed
	if remaining < 0 {
		remaining = 0
	}
	return d.MinutesUsed, remaining, nil
}

// HasRemainingQuota reports false iff remaining<=0, enforcement is
// active, the plan is free, and the deployment isn't self-hosted.
func (s *QuotaService) HasRemainingQuota(ctx context.Context, userID string, plan user.Plan) (bool, error) {
	if plan != user.PlanFree || s.SelfHosted {
		return true, nil
	}
	_, remaining, err := s.EnsureDailyUsage(ctx, userID, plan)
	if err != nil {
		return false, err
	}
	return remaining > 0, nil
}

// OpenUsageSession opens the single usage session a running cloud
// workspace owns, required before the pending->running transition.
func (s *QuotaService) OpenUsageSession(ctx context.Context, workspaceID, userID string) error {
	return s.store.OpenUsageSession(ctx, &usage.Session{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		UserID:      userID,
		StartedAt:   time.Now(),
	})
}

// CloseUsageSession locates the open session for workspaceID, computes
// ceil-minute duration, persists it, and atomically bumps the user's
// daily counter. Idempotent: a missing open session is a no-op.
func (s *QuotaService) CloseUsageSession(ctx context.Context, workspaceID string, source usage.StopSource) error {
	open, err := s.store.GetOpenUsageSessionByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil // already closed or never opened: tolerate double-close
	}
	now := time.Now()
	minutes := usage.CeilMinutes(now.Sub(open.StartedAt))
	if err := s.store.CloseUsageSession(ctx, open.ID, now, minutes, source); err != nil {
		return apierr.Internal("close usage session: %v", err)
	}
	if err := s.store.IncrementDailyUsage(ctx, open.UserID, dayTruncUTC(open.StartedAt), minutes); err != nil {
		slog.Error("increment daily usage", "user_id", open.UserID, "error", err)
		return apierr.Internal("increment daily usage: %v", err)
	}
	return nil
}

// EnsureLoopRunQuota materializes UserLoopRunQuota lazily on first loop
// creation and rolls the monthly counter if the reset pointer has passed.
func (s *QuotaService) EnsureLoopRunQuota(ctx context.Context, userID string, plan user.Plan) (*quota.UserLoopRunQuota, error) {
	q, err := s.store.GetOrCreateQuota(ctx, userID, nextMonthlyReset(time.Now()))
	if err != nil {
		return nil, apierr.Internal("load run quota: %v", err)
	}
	if !time.Now().Before(q.NextMonthlyResetAt) {
		q.ResetMonthly(nextMonthlyReset(time.Now()))
		if err := s.store.SaveQuota(ctx, q); err != nil {
			return nil, apierr.Internal("reset run quota: %v", err)
		}
	}
	return q, nil
}

// AdmitLoopCreation checks that max_runs can be covered by the user's
// remaining monthly+extra run allotment.
func (s *QuotaService) AdmitLoopCreation(ctx context.Context, userID string, plan user.Plan, maxRuns int) error {
	q, err := s.EnsureLoopRunQuota(ctx, userID, plan)
	if err != nil {
		return err
	}
	if q.Remaining(plan) < maxRuns {
		return apierr.QuotaExceeded("monthly run quota (%d remaining) cannot cover max_runs=%d", q.Remaining(plan), maxRuns)
	}
	return nil
}

// ConsumeRunQuota atomically spends one run from the user's allotment,
// returning false when none remain so the caller halts the run instead
// of erroring.
func (s *QuotaService) ConsumeRunQuota(ctx context.Context, userID string, plan user.Plan) (bool, error) {
	q, err := s.EnsureLoopRunQuota(ctx, userID, plan)
	if err != nil {
		return false, err
	}
	if !q.HasRunsRemaining(plan) {
		return false, nil
	}
	q.ConsumeRun(plan)
	if err := s.store.SaveQuota(ctx, q); err != nil {
		return false, apierr.Internal("save run quota: %v", err)
	}
	return true, nil
}

func dayTruncUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func nextMonthlyReset(from time.Time) time.Time {
	u := from.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// ValidateSystemConfigWrite enforces each config key's valid bound
// before an admin write reaches the store.
func ValidateSystemConfigWrite(key, value string) error {
	n, err := parseMinutes(value)
	if err != nil {
		return apierr.BadRequest("%s must be an integer number of minutes", key)
	}
	switch key {
	case systemconfig.KeyIdleTimeoutMinutes:
		if err := systemconfig.ValidateIdleTimeoutMinutes(n); err != nil {
			return apierr.BadRequest("%v", err)
		}
	case systemconfig.KeyFreeTierDailyMinutes:
		if err := systemconfig.ValidateFreeTierDailyMinutes(n); err != nil {
			return apierr.BadRequest("%v", err)
		}
	default:
		return apierr.BadRequest("unknown system config key %q", key)
	}
	return nil
}

func parseMinutes(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
