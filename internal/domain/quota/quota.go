// Package quota defines the monthly agent-loop-run quota entity and the
// per-plan quota table.
package quota

import (
	"time"

	"github.com/openclave/controlplane/internal/domain/user"
)

// MonthlyRunQuotas maps a plan to its included monthly AgentLoopRun count.
var MonthlyRunQuotas = map[user.Plan]int{
	user.PlanFree:   10,
	user.PlanTunnel: 50,
	user.PlanPro:    500,
}

// UserLoopRunQuota tracks one user's consumption against their plan's
// monthly run allotment, plus any purchased extra runs that never expire.
type UserLoopRunQuota struct {
	UserID            string    `json:"user_id"`
	MonthlyRuns       int       `json:"monthly_runs"`       // consumed this cycle
	ExtraRuns         int       `json:"extra_runs"`         // purchased, carries over, consumed after the monthly allotment
	NextMonthlyResetAt time.Time `json:"next_monthly_reset_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Remaining returns the number of runs left for plan: the unused part of
// the monthly allotment plus ExtraRuns.
func (q *UserLoopRunQuota) Remaining(plan user.Plan) int {
	included := MonthlyRunQuotas[plan]
	left := included - q.MonthlyRuns
	if left < 0 {
		left = 0
	}
	return left + q.ExtraRuns
}

// HasRunsRemaining reports whether the user may start another
// AgentLoopRun under plan.
func (q *UserLoopRunQuota) HasRunsRemaining(plan user.Plan) bool {
	return q.Remaining(plan) > 0
}

// ConsumeRun decrements the monthly allotment first, then ExtraRuns: the
// included monthly runs are spent before any purchased extra runs.
func (q *UserLoopRunQuota) ConsumeRun(plan user.Plan) {
	included := MonthlyRunQuotas[plan]
	if q.MonthlyRuns < included {
		q.MonthlyRuns++
		return
	}
	if q.ExtraRuns > 0 {
		q.ExtraRuns--
	}
}

// ResetMonthly zeroes the consumed monthly counter and advances the reset
// timestamp to next. ExtraRuns is untouched — it never expires.
func (q *UserLoopRunQuota) ResetMonthly(next time.Time) {
	q.MonthlyRuns = 0
	q.NextMonthlyResetAt = next
}
