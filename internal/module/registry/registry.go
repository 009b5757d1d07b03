package registry

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/ratelimit"
	"github.com/project-tktt/immo-crawler/internal/common/timing"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

// SiteStatus is the operator view of a source
type SiteStatus struct {
	Profile    SiteProfile      `json:"profile"`
	Available  bool             `json:"available"`
	Reason     string           `json:"reason,omitempty"`
	DisabledAt time.Time        `json:"disabled_at,omitempty"`
	Rate       *ratelimit.State `json:"rate,omitempty"`
}

type killEntry struct {
	reason string
	at     time.Time
}

// Config configures a Registry
type Config struct {
	// Pacing floor (SCRAPING_DELAY)
	Floor time.Duration
	// Cap for profiles without one (MAX_PAGES_PER_SITE)
	DefaultMaxPages int
	Clock           ratelimit.Clock
	Logger          logger.Logger
}

// Registry holds the site profiles, the kill switch and one rate
// controller per source. Profiles are immutable after construction.
type Registry struct {
	cfg      Config
	profiles map[domain.SourceKey]SiteProfile
	log      logger.Logger

	mu          sync.RWMutex
	disabled    map[domain.SourceKey]killEntry
	controllers map[domain.SourceKey]*ratelimit.Controller
}

// New creates a registry over profiles
func New(profiles []SiteProfile, cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	r := &Registry{
		cfg:         cfg,
		profiles:    make(map[domain.SourceKey]SiteProfile, len(profiles)),
		log:         logger.OrNop(cfg.Logger).WithFields(map[string]interface{}{"component": "registry"}),
		disabled:    make(map[domain.SourceKey]killEntry),
		controllers: make(map[domain.SourceKey]*ratelimit.Controller),
	}
	for _, p := range profiles {
		if p.MaxPages <= 0 {
			p.MaxPages = cfg.DefaultMaxPages
		}
		r.profiles[p.Key] = p
	}
	return r
}

// Profile returns the profile of key
func (r *Registry) Profile(key domain.SourceKey) (SiteProfile, bool) {
	p, ok := r.profiles[key]
	return p, ok
}

// Keys lists every registered source in lexicographic order
func (r *Registry) Keys() []domain.SourceKey {
	keys := make([]domain.SourceKey, 0, len(r.profiles))
	for k := range r.profiles {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Available reports whether key is registered, enabled and not killed
func (r *Registry) Available(key domain.SourceKey) bool {
	p, ok := r.profiles[key]
	if !ok || !p.Enabled {
		return false
	}
	r.mu.RLock()
	_, killed := r.disabled[key]
	r.mu.RUnlock()
	return !killed
}

// DisabledReason explains why key is unavailable. A runtime kill takes
// precedence over the static profile reason.
func (r *Registry) DisabledReason(key domain.SourceKey) string {
	r.mu.RLock()
	entry, killed := r.disabled[key]
	r.mu.RUnlock()
	if killed {
		return entry.reason
	}
	p, ok := r.profiles[key]
	if !ok {
		return "unknown source"
	}
	if !p.Enabled {
		if p.DisabledReason != "" {
			return p.DisabledReason
		}
		return "disabled"
	}
	return ""
}

// Disable marks key unavailable until Enable is called
func (r *Registry) Disable(key domain.SourceKey, reason string) {
	if reason == "" {
		reason = "disabled by operator"
	}
	r.mu.Lock()
	r.disabled[key] = killEntry{reason: reason, at: r.cfg.Clock.Now()}
	r.mu.Unlock()
	r.log.Warn("site disabled", map[string]interface{}{"source": key, "reason": reason})
}

// Enable lifts a runtime kill. Statically disabled profiles stay disabled.
func (r *Registry) Enable(key domain.SourceKey) {
	r.mu.Lock()
	_, was := r.disabled[key]
	delete(r.disabled, key)
	r.mu.Unlock()
	if was {
		r.log.Info("site re-enabled", map[string]interface{}{"source": key})
	}
}

// Controller returns the shared rate controller of key, creating it on first use
func (r *Registry) Controller(key domain.SourceKey) *ratelimit.Controller {
	r.mu.RLock()
	c, ok := r.controllers[key]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.controllers[key]; ok {
		return c
	}
	p, ok := r.profiles[key]
	if !ok {
		p = FallbackProfile(key)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := timing.NewTimer(timing.ProfileFor(string(key)), r.cfg.Clock.Now, rng)
	c = ratelimit.NewController(p.RateConfig(r.cfg.Floor),
		ratelimit.WithClock(r.cfg.Clock),
		ratelimit.WithTimer(timer),
		ratelimit.WithLogger(r.cfg.Logger),
	)
	r.controllers[key] = c
	return c
}

// Statuses lists every source with its availability and pacing state
func (r *Registry) Statuses() []SiteStatus {
	out := make([]SiteStatus, 0, len(r.profiles))
	for _, key := range r.Keys() {
		st := SiteStatus{
			Profile:   r.profiles[key],
			Available: r.Available(key),
			Reason:    r.DisabledReason(key),
		}
		r.mu.RLock()
		if entry, ok := r.disabled[key]; ok {
			st.DisabledAt = entry.at
		}
		c, ok := r.controllers[key]
		r.mu.RUnlock()
		if ok {
			s := c.Snapshot()
			st.Rate = &s
		}
		out = append(out, st)
	}
	return out
}
