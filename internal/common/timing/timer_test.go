package timing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func createTestTimer(p Profile) (*Timer, *time.Time) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	return NewTimer(p, func() time.Time { return now }, rand.New(rand.NewSource(42))), &now
}

func TestNextDelay_MixtureBounds(t *testing.T) {
	timer, _ := createTestTimer(DefaultProfile())
	seen := map[Behavior]bool{}

	for i := 0; i < 500; i++ {
		timer.ResetSession()
		d, b := timer.NextDelay()
		seen[b] = true
		s := d.Seconds()
		switch b {
		case BehaviorQuick:
			assert.True(t, s >= 0.8 && s <= 1.5, "quick %v", s)
		case BehaviorReading:
			assert.True(t, s >= 5 && s <= 12, "reading %v", s)
		case BehaviorDistraction:
			assert.True(t, s >= 15 && s <= 45, "distraction %v", s)
		case BehaviorNormal:
			assert.GreaterOrEqual(t, s, 1.0)
		}
	}
	assert.Len(t, seen, 4)
}

func TestNextDelay_FatigueCapsAtDouble(t *testing.T) {
	p := DefaultProfile()
	p.ProbQuickScan, p.ProbReading, p.ProbDistraction = 0, 0, 0
	p.MinDelay, p.MaxDelay = 3, 3

	assert.Equal(t, 1.0, fatigue(10))
	assert.InDelta(t, 1.5, fatigue(20), 1e-9)
	assert.Equal(t, 2.0, fatigue(40))
	assert.Equal(t, 2.0, fatigue(100))

	timer, _ := createTestTimer(p)
	for i := 0; i < 60; i++ {
		timer.NextDelay()
	}
	d, _ := timer.NextDelay()
	// 3s +- gaussian jitter, doubled
	assert.InDelta(t, 6.0, d.Seconds(), 4.0)
	assert.GreaterOrEqual(t, d.Seconds(), 2.0)
}

func TestNextDelay_ErrorPenalty(t *testing.T) {
	p := DefaultProfile()
	p.ProbQuickScan, p.ProbReading, p.ProbDistraction = 1, 0, 0
	p.QuickScan = Range{1, 1}

	timer, _ := createTestTimer(p)
	timer.NoteError()
	timer.NoteError()
	d, _ := timer.NextDelay()
	assert.InDelta(t, 2.0, d.Seconds(), 1e-6)

	timer.RecordSuccess()
	d, _ = timer.NextDelay()
	assert.InDelta(t, 1.0, d.Seconds(), 1e-6)
}

func TestErrorBackoff(t *testing.T) {
	timer, _ := createTestTimer(DefaultProfile())

	d := timer.ErrorBackoff(429, 1).Seconds()
	assert.True(t, d >= 30 && d <= 39, "429 first %v", d)
	d = timer.ErrorBackoff(429, 99).Seconds()
	assert.True(t, d >= 300 && d <= 390, "429 saturated %v", d)
	d = timer.ErrorBackoff(403, 1).Seconds()
	assert.True(t, d >= 60 && d <= 180, "403 %v", d)
	d = timer.ErrorBackoff(503, 1).Seconds()
	assert.True(t, d >= 5 && d <= 15, "5xx %v", d)
	d = timer.ErrorBackoff(404, 1).Seconds()
	assert.True(t, d >= 10 && d <= 30, "other %v", d)
	assert.Equal(t, 5, timer.ConsecutiveErrors())

	lbc, _ := createTestTimer(ProfileFor("leboncoin"))
	d = lbc.ErrorBackoff(429, 5).Seconds()
	assert.LessOrEqual(t, d, 600.0)
	assert.GreaterOrEqual(t, d, 600.0)
}

func TestShouldTakeBreak(t *testing.T) {
	timer, now := createTestTimer(DefaultProfile())
	assert.False(t, timer.ShouldTakeBreak())

	*now = now.Add(31 * time.Minute)
	assert.True(t, timer.ShouldTakeBreak())
	assert.Equal(t, 31*time.Minute, timer.SessionDuration())

	timer.ResetSession()
	assert.False(t, timer.ShouldTakeBreak())
	for i := 0; i < 51; i++ {
		timer.NextDelay()
	}
	assert.True(t, timer.ShouldTakeBreak())
}

func TestProfileFor(t *testing.T) {
	assert.Equal(t, 3.0, ProfileFor("leboncoin").MinDelay)
	assert.Equal(t, 0.03, ProfileFor("pap").ProbDistraction)
	assert.Equal(t, DefaultProfile().MaxDelay, ProfileFor("unknown").MaxDelay)
}
