package manager

import "time"

// Status is a bot's lifecycle state.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusStopped  Status = "stopped"
	StatusErrored  Status = "errored"
	StatusDisabled Status = "disabled"
)

// RejectReason explains why StartBot refused an activation.
type RejectReason string

const (
	RejectUnknownBot     RejectReason = "unknown_bot"
	RejectPaused         RejectReason = "paused"
	RejectDisabled       RejectReason = "disabled"
	RejectAlreadyRunning RejectReason = "already_running"
	RejectNotInitialized RejectReason = "not_initialized"
	RejectShuttingDown   RejectReason = "shutting_down"
)

// StartResult is the synchronous outcome of a StartBot call. OK means a
// supervised run task was spawned.
type StartResult struct {
	OK     bool
	Status Status
	Reason RejectReason
}

// BotState is the manager-owned view of one bot. Mutated only inside
// manager methods under the run lock.
type BotState struct {
	Name            string
	Status          Status
	Enabled         bool
	LastRunAt       time.Time
	CooldownUntil   time.Time
	RunsToday       int
	TotalRuns       int
	LastActivatedBy string
}

func (s BotState) payload() map[string]any {
	p := map[string]any{
		"bot_name":   s.Name,
		"status":     string(s.Status),
		"enabled":    s.Enabled,
		"runs_today": s.RunsToday,
		"total_runs": s.TotalRuns,
	}
	if !s.LastRunAt.IsZero() {
		p["last_run_at"] = s.LastRunAt.UTC().Format(time.RFC3339Nano)
	}
	if !s.CooldownUntil.IsZero() {
		p["cooldown_until"] = s.CooldownUntil.UTC().Format(time.RFC3339Nano)
	}
	if s.LastActivatedBy != "" {
		p["last_activated_by"] = s.LastActivatedBy
	}
	return p
}
