package ingest

import (
	"sync"
	"testing"
	"time"

	apperrors "github.com/project-tktt/immo-crawler/internal/common/errors"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func createTestTracker() *Tracker {
	return NewTracker(func() time.Time { return epoch })
}

func TestTracker_UnknownUserIsIdle(t *testing.T) {
	tr := createTestTracker()
	s := tr.Status("u1")
	assert.Equal(t, domain.RunIdle, s.State)
	assert.False(t, s.Running)
	assert.Equal(t, "u1", s.UserID)
}

func TestTracker_Lifecycle(t *testing.T) {
	tr := createTestTracker()

	s, err := tr.Start("u1", "r1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, s.State)
	assert.True(t, s.Running)
	assert.Equal(t, epoch, s.StartedAt)

	tr.Progress("u1", "r1", 40, "scraping")
	tr.Progress("u1", "r1", 30, "late")
	s = tr.Status("u1")
	assert.Equal(t, 40, s.Progress, "progress never goes back")
	assert.Equal(t, "late", s.Message)

	results := &domain.RunResults{Inserted: 3}
	s, ok := tr.Finish("u1", "r1", domain.RunSucceeded, "done", results)
	require.True(t, ok)
	assert.Equal(t, domain.RunSucceeded, s.State)
	assert.False(t, s.Running)
	assert.Equal(t, 100, s.Progress)
	assert.Equal(t, 3, s.Results.Inserted)

	// terminal states are overwritten only by a new start
	_, ok = tr.Finish("u1", "r1", domain.RunFailed, "boom", nil)
	assert.False(t, ok)
	assert.Equal(t, domain.RunSucceeded, tr.Status("u1").State)

	s, err = tr.Start("u1", "r2", nil)
	require.NoError(t, err)
	assert.Equal(t, "r2", s.RunID)
	assert.Zero(t, s.Progress)
	assert.Nil(t, s.Results)
}

func TestTracker_SecondStartRefused(t *testing.T) {
	tr := createTestTracker()
	_, err := tr.Start("u1", "r1", nil)
	require.NoError(t, err)
	tr.Progress("u1", "r1", 20, "scraping")

	s, err := tr.Start("u1", "r2", nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConcurrentRun))
	assert.Equal(t, "r1", s.RunID, "status unchanged")
	assert.Equal(t, 20, tr.Status("u1").Progress)

	// other users are independent
	_, err = tr.Start("u2", "r3", nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, tr.Active())
}

func TestTracker_ConcurrentStartsYieldOneRun(t *testing.T) {
	tr := createTestTracker()
	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
		refused int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := tr.Start("u1", "r", nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				started++
			} else if apperrors.IsCode(err, apperrors.ErrCodeConcurrentRun) {
				refused++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, started)
	assert.Equal(t, n-1, refused)
	assert.Equal(t, 1, tr.Active())
}

func TestTracker_StopCancelsAndWins(t *testing.T) {
	tr := createTestTracker()
	cancelled := false
	_, err := tr.Start("u1", "r1", func() { cancelled = true })
	require.NoError(t, err)

	s, ok := tr.Stop("u1")
	require.True(t, ok)
	assert.True(t, cancelled)
	assert.Equal(t, domain.RunCancelled, s.State)
	assert.Equal(t, MessageStopped, s.Message)
	assert.False(t, s.Running)

	// the run's own late writes are ignored
	tr.Progress("u1", "r1", 90, "storing")
	_, ok = tr.Finish("u1", "r1", domain.RunSucceeded, "done", &domain.RunResults{})
	assert.False(t, ok)
	s = tr.Status("u1")
	assert.Equal(t, domain.RunCancelled, s.State)
	assert.Equal(t, MessageStopped, s.Message)

	_, ok = tr.Stop("u1")
	assert.False(t, ok, "nothing left to stop")
	_, ok = tr.Stop("nobody")
	assert.False(t, ok)
}

func TestTracker_StaleRunIDIgnored(t *testing.T) {
	tr := createTestTracker()
	_, err := tr.Start("u1", "r1", nil)
	require.NoError(t, err)
	tr.Stop("u1")
	_, err = tr.Start("u1", "r2", nil)
	require.NoError(t, err)

	tr.Progress("u1", "r1", 80, "old run")
	assert.True(t, tr.IsRunning("u1", "r2"))
	assert.False(t, tr.IsRunning("u1", "r1"))
	assert.Zero(t, tr.Status("u1").Progress)
}

func TestTracker_Running(t *testing.T) {
	tr := createTestTracker()
	_, err := tr.Start("u2", "r2", nil)
	require.NoError(t, err)
	_, err = tr.Start("u1", "r1", nil)
	require.NoError(t, err)
	_, err = tr.Start("u3", "r3", nil)
	require.NoError(t, err)
	tr.Finish("u3", "r3", domain.RunSucceeded, "done", nil)

	assert.Equal(t, []string{"u1", "u2"}, tr.Running())
	assert.Equal(t, 2, tr.Active())
}
