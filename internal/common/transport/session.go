package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/project-tktt/immo-crawler/internal/common/errors"
	"github.com/project-tktt/immo-crawler/internal/common/headers"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/metrics"
	"github.com/project-tktt/immo-crawler/internal/common/ratelimit"
)

const (
	defaultTimeout = 15 * time.Second
	warmUpTimeout  = 20 * time.Second
	rotateChance   = 0.10
)

// Gate is the per-site pacing contract every request passes through
type Gate interface {
	Wait(ctx context.Context) error
	RecordSuccess()
	RecordFailure(ctx context.Context, status int) error
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// Config configures a Session
type Config struct {
	Source  string
	Timeout time.Duration
	// Impersonate browser TLS when possible
	Fingerprint bool
	// Sent when no header factory is attached
	FallbackUserAgent string
	Headers           *headers.Factory
	Gate              Gate
	// Replaces the network transport, fingerprinting is then skipped
	Base   http.RoundTripper
	Clock  ratelimit.Clock
	Rand   *rand.Rand
	Logger logger.Logger
}

type (
	suppliedHeadersKey struct{}
	requestTimeoutKey  struct{}
)

// Session is a cookie-keeping HTTP client for one source. Every request is
// paced by the site gate and carries a browser header set; the TLS layer
// impersonates a browser matching the header profile when available.
type Session struct {
	source    string
	timeout   time.Duration
	factory   *headers.Factory
	gate      Gate
	clock     ratelimit.Clock
	fallbackU string
	log       logger.Logger
	jar       http.CookieJar
	client    *http.Client

	mu          sync.Mutex
	base        http.RoundTripper
	fingerprint Fingerprint
	rotate      bool
	rng         *rand.Rand
	lastURL     string
}

// NewSession creates a session. Without a usable TLS fingerprint it
// degrades to the platform transport and logs a detectability warning.
func NewSession(cfg Config) *Session {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	jar, _ := cookiejar.New(nil)

	s := &Session{
		source:    cfg.Source,
		timeout:   cfg.Timeout,
		factory:   cfg.Headers,
		gate:      cfg.Gate,
		clock:     cfg.Clock,
		fallbackU: cfg.FallbackUserAgent,
		log:       logger.OrNop(cfg.Logger).WithFields(map[string]interface{}{"source": cfg.Source}),
		jar:       jar,
		rng:       cfg.Rand,
	}

	switch {
	case cfg.Base != nil:
		s.base = cfg.Base
	case cfg.Fingerprint:
		s.rotate = true
		if err := s.useFingerprint(s.pickFingerprint()); err != nil {
			s.log.Warn("tls fingerprint unavailable, using platform tls; requests are detectable", map[string]interface{}{"error": err.Error()})
			s.base = newPlainTransport(cfg.Timeout)
			s.rotate = false
		}
	default:
		s.log.Warn("tls fingerprinting disabled; requests are detectable", nil)
		s.base = newPlainTransport(cfg.Timeout)
	}

	s.client = &http.Client{Transport: s, Jar: jar}
	return s
}

// Jar returns the session cookie jar
func (s *Session) Jar() http.CookieJar { return s.jar }

// Client returns an http.Client bound to the session
func (s *Session) Client() *http.Client { return s.client }

// Headers returns the session header factory, possibly nil
func (s *Session) Headers() *headers.Factory { return s.factory }

// Mode describes the active TLS strategy
func (s *Session) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fingerprint == FingerprintNone {
		return "plain"
	}
	return "fingerprint:" + string(s.fingerprint)
}

// Fingerprint returns the impersonated ClientHello, empty when plain
func (s *Session) Fingerprint() Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fingerprint
}

// Rotate switches to another fingerprint of the current header family
func (s *Session) Rotate() {
	s.mu.Lock()
	rotate := s.rotate
	s.mu.Unlock()
	if !rotate {
		return
	}
	if err := s.useFingerprint(s.pickFingerprint()); err != nil {
		s.log.Warn("fingerprint rotation failed", map[string]interface{}{"error": err.Error()})
	}
}

// Get fetches target. Nil hdr uses the header factory: initial headers on a
// first visit, navigation headers afterwards.
func (s *Session) Get(ctx context.Context, target string, hdr http.Header) (*Response, error) {
	return s.do(ctx, http.MethodGet, target, nil, hdr, s.timeout)
}

// Post sends body to target. Nil hdr uses API headers.
func (s *Session) Post(ctx context.Context, target string, body []byte, contentType string, hdr http.Header) (*Response, error) {
	if hdr == nil && s.factory != nil {
		hdr = s.factory.API(target, "")
	}
	if hdr == nil {
		hdr = make(http.Header)
	}
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	return s.do(ctx, http.MethodPost, target, body, hdr, s.timeout)
}

// WarmUp visits the site homepage like a visitor arriving from a search
// engine, then pauses 1 to 5 s. It succeeds on a 200.
func (s *Session) WarmUp(ctx context.Context, homepage string) bool {
	var hdr http.Header
	if s.factory != nil {
		hdr = s.factory.Initial(homepage, "")
	}
	resp, err := s.do(ctx, http.MethodGet, homepage, nil, hdr, warmUpTimeout)
	if err != nil {
		s.log.Warn("warm-up failed", map[string]interface{}{"url": homepage, "error": err.Error()})
		return false
	}
	if resp.StatusCode != http.StatusOK {
		s.log.Warn("warm-up refused", map[string]interface{}{"url": homepage, "status": resp.StatusCode})
		return false
	}

	s.mu.Lock()
	pause := time.Second + time.Duration(s.rng.Int63n(int64(4*time.Second)))
	s.mu.Unlock()
	_ = s.clock.Sleep(ctx, pause)
	return true
}

// Reset drops navigation history so the next request looks like a first visit
func (s *Session) Reset() {
	s.mu.Lock()
	s.lastURL = ""
	s.mu.Unlock()
	if s.factory != nil {
		s.factory.Reset()
	}
}

func (s *Session) do(ctx context.Context, method, target string, body []byte, hdr http.Header, timeout time.Duration) (*Response, error) {
	ctx = context.WithValue(ctx, requestTimeoutKey{}, timeout)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	if hdr != nil {
		ctx = context.WithValue(ctx, suppliedHeadersKey{}, true)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range hdr {
		req.Header[k] = v
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		URL:        resp.Request.URL.String(),
	}, nil
}

// RoundTrip applies headers, waits on the gate, sends the request and records
// the outcome. Collectors plug the session in as their transport.
func (s *Session) RoundTrip(in *http.Request) (*http.Response, error) {
	req := in.Clone(in.Context())
	ctx := req.Context()
	target := req.URL.String()

	if supplied, _ := ctx.Value(suppliedHeadersKey{}).(bool); !supplied {
		s.applyHeaders(req)
	}
	if req.Header.Get("User-Agent") == "" && s.fallbackU != "" {
		req.Header.Set("User-Agent", s.fallbackU)
	}

	if s.gate != nil {
		if err := s.gate.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if req.Method == http.MethodGet && s.shouldRotate() {
		s.Rotate()
	}
	s.alignFingerprint()

	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	// The deadline starts after pacing, so a long backoff never eats it.
	timeout := s.timeout
	if d, ok := ctx.Value(requestTimeoutKey{}).(time.Duration); ok && d > 0 {
		timeout = d
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	resp, err := base.RoundTrip(req.WithContext(reqCtx))
	metrics.RequestDuration.WithLabelValues(s.source).Observe(time.Since(start).Seconds())
	if err != nil {
		cancel()
		metrics.RequestsTotal.WithLabelValues(s.source, "error").Inc()
		s.log.Warn("request failed", map[string]interface{}{"url": target, "error": err.Error()})
		if s.gate != nil {
			_ = s.gate.RecordFailure(ctx, 0)
		}
		return nil, apperrors.NewNetworkTimeoutError(target, err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	if err := decodeBody(resp); err != nil {
		s.log.Warn("cannot decode body", map[string]interface{}{"url": target, "error": err.Error()})
	}

	metrics.RequestsTotal.WithLabelValues(s.source, strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode == http.StatusOK {
		if s.gate != nil {
			s.gate.RecordSuccess()
		}
		if req.Method == http.MethodGet {
			s.mu.Lock()
			s.lastURL = target
			s.mu.Unlock()
		}
		return resp, nil
	}

	// Redirect hops are followed by the client and are not failures
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		s.log.Debug("redirect", map[string]interface{}{"url": target, "status": resp.StatusCode, "location": resp.Header.Get("Location")})
		return resp, nil
	}

	s.log.Info("non-200 response", map[string]interface{}{"url": target, "status": resp.StatusCode})
	if s.gate != nil {
		// Backoff is part of this request's cost; a cancelled context
		// surfaces on the caller's next step.
		_ = s.gate.RecordFailure(ctx, resp.StatusCode)
	}
	return resp, nil
}

func (s *Session) applyHeaders(req *http.Request) {
	var hdr http.Header
	switch {
	case s.factory == nil:
		return
	case req.Method != http.MethodGet:
		hdr = s.factory.API(req.URL.String(), "")
	default:
		s.mu.Lock()
		last := s.lastURL
		s.mu.Unlock()
		if last == "" {
			hdr = s.factory.Initial(req.URL.String(), "")
		} else {
			hdr = s.factory.Navigation(last, req.URL.String())
		}
	}
	contentType := req.Header.Get("Content-Type")
	for k, v := range hdr {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
}

// alignFingerprint re-picks the ClientHello when the header profile has
// moved to another browser family
func (s *Session) alignFingerprint() {
	if s.factory == nil {
		return
	}
	s.mu.Lock()
	rotate, current := s.rotate, s.fingerprint
	s.mu.Unlock()
	if !rotate || familyOf(current) == s.factory.Family() {
		return
	}
	s.Rotate()
}

func (s *Session) shouldRotate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotate && s.rng.Float64() < rotateChance
}

func (s *Session) pickFingerprint() Fingerprint {
	family := headers.FamilyChrome
	if s.factory != nil {
		family = s.factory.Family()
	}
	pool := familyFingerprints[family]
	s.mu.Lock()
	defer s.mu.Unlock()
	return pool[s.rng.Intn(len(pool))]
}

func (s *Session) useFingerprint(fp Fingerprint) error {
	t, err := newFingerprintTransport(fp, s.timeout)
	if err != nil {
		return err
	}
	s.mu.Lock()
	old := s.base
	s.base = t
	s.fingerprint = fp
	s.mu.Unlock()
	if ht, ok := old.(*http.Transport); ok {
		ht.CloseIdleConnections()
	}
	s.log.Debug("tls fingerprint selected", map[string]interface{}{"fingerprint": string(fp)})
	return nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
