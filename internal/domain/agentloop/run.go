package agentloop

import "time"

// RunStatus is the lifecycle state of a single AgentLoopRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	RunHalted    RunStatus = "halted"
)

// TriggerType distinguishes a user-initiated run from one chained by the
// automation scheduler.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerAutomated TriggerType = "automated"
)

// StallWindow bounds how long a run may sit in running or pending before
// it's considered stalled and eligible for the reaper to halt it.
const StallWindow = 40 * time.Minute

// terminalRunStatuses are the statuses from which a run never transitions.
var terminalRunStatuses = map[RunStatus]bool{
	RunCompleted: true,
	RunFailed:    true,
	RunCancelled: true,
	RunHalted:    true,
}

// IsTerminal reports whether status is one the scheduler will never move
// out of.
func (s RunStatus) IsTerminal() bool {
	return terminalRunStatuses[s]
}

// Run is one sandbox execution over a Loop's plan file.
type Run struct {
	ID          string      `json:"id"`
	LoopID      string      `json:"loop_id"`
	RunNumber   int         `json:"run_number"`
	Status      RunStatus   `json:"status"`
	TriggerType TriggerType `json:"trigger_type"`

	SandboxExternalID *string `json:"sandbox_external_id,omitempty"`
	Prompt            string  `json:"prompt"`

	ExitCode      *int    `json:"exit_code,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	DiffSummary   *string `json:"diff_summary,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsStalled reports whether, measured against `now`, this run has sat in
// `running` or `pending` for longer than StallWindow since it started (or,
// while it has no StartedAt yet, since it was created).
func (r *Run) IsStalled(now time.Time) bool {
	if r.Status != RunRunning && r.Status != RunPending {
		return false
	}
	return now.Sub(r.startedAtOrCreated()) > StallWindow
}

// startedAtOrCreated is the time the stall clock runs from: the run's own
// StartedAt once dispatch has set it, or CreatedAt while still pending.
func (r *Run) startedAtOrCreated() time.Time {
	if r.StartedAt != nil {
		return *r.StartedAt
	}
	return r.CreatedAt
}

// ErrOutOfOrderRunNumber signals a violation of the run_number contiguity
// invariant.
type ErrOutOfOrderRunNumber struct {
	LoopID   string
	Expected int
	Got      int
}

func (e *ErrOutOfOrderRunNumber) Error() string {
	return "agentloop: run_number out of order for loop " + e.LoopID
}
