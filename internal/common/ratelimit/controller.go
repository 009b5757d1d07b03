package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/metrics"
	"github.com/project-tktt/immo-crawler/internal/common/timing"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const breakerChunk = 60 * time.Second

// Config holds the pacing parameters of one site
type Config struct {
	Source          string
	RPS             float64
	Burst           int
	JitterMin       time.Duration
	JitterMax       time.Duration
	BackoffLadder   []time.Duration
	BreakerFailures int
	BreakerPause    time.Duration
	// Floor is the minimum spacing between two requests
	Floor time.Duration
}

// State is a point-in-time view of a controller
type State struct {
	Source              string    `json:"source"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	BackoffIndex        int       `json:"backoff_index"`
	BreakerOpenUntil    time.Time `json:"breaker_open_until,omitempty"`
	LastRequest         time.Time `json:"last_request,omitempty"`
	Requests            int       `json:"requests"`
}

// Controller is the per-site gate every outbound request passes through.
// It composes the human timer, the backoff ladder and the circuit breaker.
type Controller struct {
	cfg     Config
	clock   Clock
	timer   *timing.Timer
	limiter *rate.Limiter
	log     logger.Logger

	// serializes waits so pacing holds across concurrent callers; a
	// queued caller leaves as soon as its context is done
	gate *semaphore.Weighted

	mu                  sync.Mutex
	rng                 *rand.Rand
	lastRequest         time.Time
	consecutiveFailures int
	backoffIndex        int
	breakerOpenUntil    time.Time
	requests            int
}

// Option configures a Controller
type Option func(*Controller)

func WithClock(c Clock) Option { return func(rc *Controller) { rc.clock = c } }

func WithTimer(t *timing.Timer) Option { return func(rc *Controller) { rc.timer = t } }

func WithRand(r *rand.Rand) Option { return func(rc *Controller) { rc.rng = r } }

func WithLogger(l logger.Logger) Option { return func(rc *Controller) { rc.log = l } }

// NewController creates a controller for one site
func NewController(cfg Config, opts ...Option) *Controller {
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures < 1 {
		cfg.BreakerFailures = 10
	}
	if len(cfg.BackoffLadder) == 0 {
		cfg.BackoffLadder = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second}
	}
	c := &Controller{
		cfg:     cfg,
		clock:   RealClock{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		gate:    semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c.log = logger.OrNop(c.log).WithFields(map[string]interface{}{"source": cfg.Source})
	return c
}

// Wait blocks until the next request may be issued. While the breaker is open
// it sleeps in 60 s chunks until the cooldown elapses, then clears the breaker.
func (c *Controller) Wait(ctx context.Context) error {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.gate.Release(1)

	if err := c.waitBreaker(ctx); err != nil {
		return err
	}

	now := c.clock.Now()
	c.mu.Lock()
	elapsed := now.Sub(c.lastRequest)
	interval := c.jitter()
	if c.cfg.Burst == 1 {
		interval += time.Duration(float64(time.Second) / c.cfg.RPS)
	}
	c.mu.Unlock()

	if interval < c.cfg.Floor {
		interval = c.cfg.Floor
	}
	if c.timer != nil {
		human, _ := c.timer.NextDelay()
		if human > interval {
			interval = human
		}
	}

	delay := interval - elapsed
	if tokens := c.limiter.ReserveN(now, 1).DelayFrom(now); tokens > delay {
		delay = tokens
	}
	if delay > 0 {
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.lastRequest = c.clock.Now()
	c.requests++
	c.mu.Unlock()
	return nil
}

func (c *Controller) waitBreaker(ctx context.Context) error {
	for {
		c.mu.Lock()
		until := c.breakerOpenUntil
		c.mu.Unlock()
		if until.IsZero() {
			return nil
		}

		now := c.clock.Now()
		if !now.Before(until) {
			c.mu.Lock()
			c.breakerOpenUntil = time.Time{}
			c.consecutiveFailures = 0
			c.mu.Unlock()
			metrics.BreakerOpen.WithLabelValues(c.cfg.Source).Set(0)
			c.log.Info("circuit closed, resuming", nil)
			return nil
		}

		chunk := until.Sub(now)
		if chunk > breakerChunk {
			chunk = breakerChunk
		}
		c.log.Debug("circuit open, cooling down", map[string]interface{}{"remaining": until.Sub(now).String()})
		if err := c.clock.Sleep(ctx, chunk); err != nil {
			return err
		}
	}
}

// RecordSuccess resets the failure streak and the backoff ladder
func (c *Controller) RecordSuccess() {
	c.mu.Lock()
	c.consecutiveFailures = 0
	c.backoffIndex = 0
	c.mu.Unlock()
	if c.timer != nil {
		c.timer.RecordSuccess()
	}
}

// RecordFailure counts a failure. At the threshold it opens the breaker;
// below it, throttling, server errors and network errors (status 0) sleep
// on the backoff ladder and a 403 takes the timer's long pause.
func (c *Controller) RecordFailure(ctx context.Context, status int) error {
	c.mu.Lock()
	c.consecutiveFailures++
	if c.consecutiveFailures >= c.cfg.BreakerFailures {
		c.breakerOpenUntil = c.clock.Now().Add(c.cfg.BreakerPause)
		failures := c.consecutiveFailures
		c.mu.Unlock()

		if c.timer != nil {
			c.timer.NoteError()
		}
		metrics.BreakerOpen.WithLabelValues(c.cfg.Source).Set(1)
		c.log.Warn("circuit opened", map[string]interface{}{
			"failures": failures,
			"pause":    c.cfg.BreakerPause.String(),
			"status":   status,
		})
		return nil
	}

	var pause time.Duration
	switch status {
	case 0, 429, 500, 502, 503, 504:
		idx := c.backoffIndex
		if idx > len(c.cfg.BackoffLadder)-1 {
			idx = len(c.cfg.BackoffLadder) - 1
		}
		pause = c.cfg.BackoffLadder[idx]
		c.backoffIndex++
	}
	attempt := c.consecutiveFailures
	c.mu.Unlock()

	if status == 403 && c.timer != nil {
		pause = c.timer.ErrorBackoff(status, attempt)
	} else if c.timer != nil {
		c.timer.NoteError()
	}

	if pause <= 0 {
		return nil
	}
	c.log.Info("backing off", map[string]interface{}{"status": status, "pause": pause.String()})
	return c.clock.Sleep(ctx, pause)
}

// ShouldStop reports whether the breaker is open and still cooling down
func (c *Controller) ShouldStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.breakerOpenUntil.IsZero() && c.clock.Now().Before(c.breakerOpenUntil)
}

// Snapshot returns the controller state
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Source:              c.cfg.Source,
		ConsecutiveFailures: c.consecutiveFailures,
		BackoffIndex:        c.backoffIndex,
		BreakerOpenUntil:    c.breakerOpenUntil,
		LastRequest:         c.lastRequest,
		Requests:            c.requests,
	}
}

// Timer exposes the human timer, nil when none is attached
func (c *Controller) Timer() *timing.Timer { return c.timer }

func (c *Controller) jitter() time.Duration {
	if c.cfg.JitterMax <= c.cfg.JitterMin {
		return c.cfg.JitterMin
	}
	return c.cfg.JitterMin + time.Duration(c.rng.Int63n(int64(c.cfg.JitterMax-c.cfg.JitterMin)))
}
