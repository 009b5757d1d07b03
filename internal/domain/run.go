package domain

import "time"

// RunState is the lifecycle state of a user run
type RunState string

const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Terminal reports whether no further transition can happen without a new run
func (s RunState) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// RunRequest starts one ingestion run
type RunRequest struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Query       string      `json:"query"`
	RadiusKm    float64     `json:"radius_km"`
	Sources     []SourceKey `json:"sources"`
	MaxPages    int         `json:"max_pages,omitempty"`
	RequestedAt time.Time   `json:"requested_at"`
}

// SourceReport is the per-source outcome of a run
type SourceReport struct {
	Raw     int    `json:"raw"`
	Skipped string `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunResults summarizes pipeline counts
type RunResults struct {
	TotalRaw   int                        `json:"total_raw"`
	Valid      int                        `json:"valid"`
	NonAgency  int                        `json:"non_agency"`
	AfterDedup int                        `json:"after_dedup"`
	Inserted   int                        `json:"inserted"`
	Updated    int                        `json:"updated"`
	Sources    map[SourceKey]SourceReport `json:"sources,omitempty"`
	Rejections map[string]int             `json:"rejections,omitempty"`
}

// RunStatus is the per-user view polled by the UI
type RunStatus struct {
	RunID      string      `json:"run_id,omitempty"`
	UserID     string      `json:"user_id"`
	State      RunState    `json:"state"`
	Running    bool        `json:"running"`
	Progress   int         `json:"progress"`
	Message    string      `json:"message"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
	Results    *RunResults `json:"results,omitempty"`
}

// RunEvent is published when a run reaches a terminal state
type RunEvent struct {
	Status    RunStatus `json:"status"`
	EmittedAt time.Time `json:"emitted_at"`
}
