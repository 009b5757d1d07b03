package headers

import (
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Factory produces browser-like header sets for one session.
// It remembers the last URL served so API calls carry a plausible Referer.
type Factory struct {
	mu         sync.Mutex
	profiles   []Profile
	current    Profile
	currentURL string
	requests   int
	rotate     bool
	rotateProb float64
	rng        *rand.Rand
}

// Option configures a Factory
type Option func(*Factory)

// WithRotation re-draws the profile on every Initial call
func WithRotation(rotate bool) Option {
	return func(f *Factory) { f.rotate = rotate }
}

// WithRotateProbability re-draws the profile between requests with probability p
func WithRotateProbability(p float64) Option {
	return func(f *Factory) { f.rotateProb = p }
}

// WithProfile pins the starting profile
func WithProfile(p Profile) Option {
	return func(f *Factory) { f.current = p }
}

// WithProfiles replaces the rotation pool
func WithProfiles(pool []Profile) Option {
	return func(f *Factory) { f.profiles = pool }
}

// WithRand injects the random source
func WithRand(r *rand.Rand) Option {
	return func(f *Factory) { f.rng = r }
}

// NewFactory creates a factory with a randomly drawn profile
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		profiles: DefaultProfiles,
		rotate:   true,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.rng == nil {
		f.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if f.current.Name == "" {
		f.current = f.profiles[f.rng.Intn(len(f.profiles))]
	}
	return f
}

// Initial returns headers for a first visit arriving from a search engine.
// An empty referer is drawn from the target host's referer pool.
func (f *Factory) Initial(targetURL, referer string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rotate {
		f.current = f.profiles[f.rng.Intn(len(f.profiles))]
	}
	h := build(f.current.Base)
	if referer == "" {
		pool, ok := Referers[bareHost(targetURL)]
		if !ok {
			pool = Referers["default"]
		}
		referer = pool[f.rng.Intn(len(pool))]
	}
	h.Set("Referer", referer)
	apply(h, f.current.CrossSite)

	f.currentURL = targetURL
	f.requests = 1
	return h
}

// Navigation returns headers for following a link from currentURL to targetURL
func (f *Factory) Navigation(currentURL, targetURL string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rotateProb > 0 && f.rng.Float64() < f.rotateProb {
		f.current = f.profiles[f.rng.Intn(len(f.profiles))]
	}
	h := build(f.current.Base)
	h.Set("Referer", currentURL)
	if host(currentURL) == host(targetURL) {
		apply(h, f.current.SameOrigin)
	} else {
		apply(h, f.current.CrossSite)
	}

	f.currentURL = targetURL
	f.requests++
	return h
}

// API returns headers for a fetch()/XHR call. An empty origin is derived from targetURL.
func (f *Factory) API(targetURL, origin string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := build(f.current.Base)
	h.Set("Accept", "application/json, text/plain, */*")
	if f.current.Family != FamilySafari {
		h.Set("Sec-Fetch-Dest", "empty")
		h.Set("Sec-Fetch-Mode", "cors")
		h.Set("Sec-Fetch-Site", "same-origin")
	}
	if origin == "" {
		if u, err := url.Parse(targetURL); err == nil {
			origin = u.Scheme + "://" + u.Host
		}
	}
	h.Set("Origin", origin)
	if f.currentURL != "" {
		h.Set("Referer", f.currentURL)
	} else {
		h.Set("Referer", origin+"/")
	}
	h.Del("Upgrade-Insecure-Requests")
	h.Del("Sec-Fetch-User")
	h.Del("Cache-Control")

	f.requests++
	return h
}

// ProfileName returns the name of the active profile
func (f *Factory) ProfileName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Name
}

// Family returns the browser family of the active profile
func (f *Factory) Family() Family {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Family
}

// CurrentURL returns the last target URL headers were produced for
func (f *Factory) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentURL
}

// Requests returns how many header sets were produced since the last Initial
func (f *Factory) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

// RotateProfile forces a new profile draw
func (f *Factory) RotateProfile() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.profiles[f.rng.Intn(len(f.profiles))]
	f.requests = 0
}

// Reset forgets the navigation history; the next request is treated as a first visit
func (f *Factory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentURL = ""
	f.requests = 0
}

// HeadersForSite returns first-visit headers for a site homepage
func HeadersForSite(siteKey string) http.Header {
	target, ok := SiteURLs[siteKey]
	if !ok {
		target = "https://www.google.fr/"
	}
	return NewFactory().Initial(target, "")
}

func build(base map[string]string) http.Header {
	h := make(http.Header, len(base)+2)
	apply(h, base)
	return h
}

func apply(h http.Header, values map[string]string) {
	for k, v := range values {
		h.Set(k, v)
	}
}

func host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

func bareHost(raw string) string {
	return strings.TrimPrefix(host(raw), "www.")
}
