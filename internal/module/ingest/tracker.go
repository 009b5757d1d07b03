package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/project-tktt/immo-crawler/internal/common/errors"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

// MessageStopped is the final message of a run stopped by the operator
const MessageStopped = "stopped"

type trackedRun struct {
	status domain.RunStatus
	cancel context.CancelFunc
}

// Tracker maps each user to the status of their latest run. At most one
// run per user is running at a time. Readers always get a copy.
type Tracker struct {
	mu   sync.Mutex
	runs map[string]*trackedRun
	now  func() time.Time
}

// NewTracker creates an empty tracker. now may be nil.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{runs: make(map[string]*trackedRun), now: now}
}

// Start moves userID to running under runID. It is refused while another
// run of the same user is running; the current status is left untouched.
func (t *Tracker) Start(userID, runID string, cancel context.CancelFunc) (domain.RunStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.runs[userID]; ok && r.status.Running {
		return r.status, apperrors.NewConcurrentRunError(userID)
	}
	r := &trackedRun{
		status: domain.RunStatus{
			RunID:     runID,
			UserID:    userID,
			State:     domain.RunRunning,
			Running:   true,
			Message:   "starting",
			StartedAt: t.now(),
		},
		cancel: cancel,
	}
	t.runs[userID] = r
	return r.status, nil
}

// Progress records a step of runID. Updates for a run that is no longer
// current or running are ignored, so late writers never clobber a stop.
func (t *Tracker) Progress(userID, runID string, pct int, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.current(userID, runID)
	if r == nil {
		return
	}
	if pct > r.status.Progress {
		r.status.Progress = pct
	}
	r.status.Message = msg
}

// IsRunning reports whether runID is the running run of userID
func (t *Tracker) IsRunning(userID, runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current(userID, runID) != nil
}

// Finish moves runID to a terminal state. It returns false when the run
// had already left running, e.g. after a stop.
func (t *Tracker) Finish(userID, runID string, state domain.RunState, msg string, results *domain.RunResults) (domain.RunStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.current(userID, runID)
	if r == nil {
		if r, ok := t.runs[userID]; ok {
			return r.status, false
		}
		return t.idle(userID), false
	}
	r.status.State = state
	r.status.Running = false
	r.status.Message = msg
	r.status.FinishedAt = t.now()
	r.status.Results = results
	if state == domain.RunSucceeded {
		r.status.Progress = 100
	}
	r.cancel = nil
	return r.status, true
}

// Stop cancels the running run of userID. It returns false when nothing
// was running.
func (t *Tracker) Stop(userID string) (domain.RunStatus, bool) {
	t.mu.Lock()
	r, ok := t.runs[userID]
	if !ok || !r.status.Running {
		defer t.mu.Unlock()
		if ok {
			return r.status, false
		}
		return t.idle(userID), false
	}
	r.status.State = domain.RunCancelled
	r.status.Running = false
	r.status.Message = MessageStopped
	r.status.FinishedAt = t.now()
	cancel := r.cancel
	r.cancel = nil
	status := r.status
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return status, true
}

// Status returns a snapshot of userID's latest run, idle when none
func (t *Tracker) Status(userID string) domain.RunStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.runs[userID]; ok {
		return r.status
	}
	return t.idle(userID)
}

// Running lists the users with a run in progress, sorted
func (t *Tracker) Running() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var users []string
	for user, r := range t.runs {
		if r.status.Running {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users
}

// Active counts running runs
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.runs {
		if r.status.Running {
			n++
		}
	}
	return n
}

func (t *Tracker) current(userID, runID string) *trackedRun {
	r, ok := t.runs[userID]
	if !ok || !r.status.Running || r.status.RunID != runID {
		return nil
	}
	return r
}

func (t *Tracker) idle(userID string) domain.RunStatus {
	return domain.RunStatus{UserID: userID, State: domain.RunIdle}
}
