// Package usage defines the usage-session and daily-minute-counter domain
// entities backing metering and quota.
package usage

import (
	"math"
	"time"
)

// StopSource mirrors workspace.StopSource to avoid an import cycle between
// the workspace and usage packages; both are kept in lockstep by the
// workspace service.
type StopSource string

const (
	StopManual         StopSource = "manual"
	StopIdle           StopSource = "idle"
	StopQuotaExhausted StopSource = "quota_exhausted"
	StopError          StopSource = "error"
)

// Session is exactly one open (StoppedAt == nil) row per running cloud
// workspace at any time.
type Session struct {
	ID              string     `json:"id"`
	WorkspaceID     string     `json:"workspace_id"`
	UserID          string     `json:"user_id"`
	StartedAt       time.Time  `json:"started_at"`
	StoppedAt       *time.Time `json:"stopped_at,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	StopSource      StopSource `json:"stop_source,omitempty"`
}

// Daily is the unique-per-(user,date) minute counter.
type Daily struct {
	UserID      string    `json:"user_id"`
	Date        time.Time `json:"date"` // UTC, truncated to day
	MinutesUsed int       `json:"minutes_used"`
}

// CeilMinutes rounds elapsed time up to the nearest whole minute, so a
// session never bills for less usage than it actually consumed.
func CeilMinutes(elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	return int(math.Ceil(elapsed.Seconds() / 60))
}
