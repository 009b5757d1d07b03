package timing

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Behavior names the mixture component a delay was drawn from
type Behavior string

const (
	BehaviorQuick       Behavior = "quick"
	BehaviorNormal      Behavior = "normal"
	BehaviorReading     Behavior = "reading"
	BehaviorDistraction Behavior = "distraction"
)

const (
	fatigueAfterPages = 10
	fatigueStep       = 0.05
	fatigueMax        = 2.0
	errorPenalty      = 0.5
	maxErrorBackoff   = 600.0

	breakAfter      = 30 * time.Minute
	breakAfterPages = 50
)

// Timer draws human-like request delays. It only computes durations;
// sleeping belongs to the caller so waits stay cancellable.
type Timer struct {
	mu           sync.Mutex
	profile      Profile
	pages        int
	errors       int
	sessionStart time.Time
	now          func() time.Time
	rng          *rand.Rand
}

// NewTimer creates a timer. now and rng may be nil.
func NewTimer(profile Profile, now func() time.Time, rng *rand.Rand) *Timer {
	if now == nil {
		now = time.Now
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Timer{profile: profile, now: now, rng: rng, sessionStart: now()}
}

// NextDelay draws the pause before the next request and counts a page
func (t *Timer) NextDelay() (time.Duration, Behavior) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.profile
	var (
		delay    float64
		behavior Behavior
	)
	roll := t.rng.Float64()
	switch {
	case roll < p.ProbQuickScan:
		delay, behavior = t.uniform(p.QuickScan), BehaviorQuick
	case roll < p.ProbQuickScan+p.ProbReading:
		delay, behavior = t.uniform(p.Reading), BehaviorReading
	case roll < p.ProbQuickScan+p.ProbReading+p.ProbDistraction:
		delay, behavior = t.uniform(p.Distraction), BehaviorDistraction
	default:
		base := p.MinDelay + t.rng.Float64()*(p.MaxDelay-p.MinDelay)
		delay = math.Max(1, base+t.rng.NormFloat64()*0.5)
		behavior = BehaviorNormal
	}

	delay *= fatigue(t.pages)
	if t.errors > 0 {
		delay *= 1 + float64(t.errors)*errorPenalty
	}
	t.pages++
	return seconds(delay), behavior
}

// ErrorBackoff returns the pause after an error status and counts the error.
// attempt starts at 1.
func (t *Timer) ErrorBackoff(status, attempt int) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.errors++
	p := t.profile
	var delay float64
	switch {
	case status == 429:
		idx := attempt - 1
		if idx < 0 {
			idx = 0
		}
		if idx > len(p.Backoff429)-1 {
			idx = len(p.Backoff429) - 1
		}
		base := p.Backoff429[idx]
		delay = base + t.rng.Float64()*base*0.3
	case status == 403:
		delay = t.uniform(p.Backoff403)
	case status >= 500:
		delay = t.uniform(p.Backoff5xx)
	default:
		delay = t.uniform(p.BackoffOther)
	}
	return seconds(math.Min(delay, maxErrorBackoff))
}

// NoteError counts an error without computing a pause
func (t *Timer) NoteError() {
	t.mu.Lock()
	t.errors++
	t.mu.Unlock()
}

// RecordSuccess resets the consecutive error counter
func (t *Timer) RecordSuccess() {
	t.mu.Lock()
	t.errors = 0
	t.mu.Unlock()
}

// ResetSession starts a fresh reading session
func (t *Timer) ResetSession() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pages = 0
	t.errors = 0
	t.sessionStart = t.now()
}

// SessionDuration is the time since the session started
func (t *Timer) SessionDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.sessionStart)
}

// ShouldTakeBreak reports a session longer than 30 minutes or 50 pages
func (t *Timer) ShouldTakeBreak() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.sessionStart) > breakAfter || t.pages > breakAfterPages
}

// Pages returns the number of delays drawn in this session
func (t *Timer) Pages() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pages
}

// ConsecutiveErrors returns the current error streak
func (t *Timer) ConsecutiveErrors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errors
}

func (t *Timer) uniform(r Range) float64 {
	return r.Min + t.rng.Float64()*(r.Max-r.Min)
}

func fatigue(pages int) float64 {
	if pages <= fatigueAfterPages {
		return 1
	}
	return math.Min(1+float64(pages-fatigueAfterPages)*fatigueStep, fatigueMax)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
