package normalizer

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/project-tktt/immo-crawler/internal/common/cleaner"
	apperrors "github.com/project-tktt/immo-crawler/internal/common/errors"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/metrics"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

const (
	minURLLength = 10
	// Prices above this are parse accidents (concatenated numbers)
	maxPriceDigits = 10
)

var (
	surfaceRe = regexp.MustCompile(`(?i)(\d+)(?:[.,]\d+)?\s*m(?:²|2\b)`)
	roomsRe   = regexp.MustCompile(`(?i)(\d+)\s*pi[èe]ces?|\b[TF](\d+)\b`)
	dmyRe     = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	isoRe     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})`)
)

// Normalizer converts RawListing to the canonical Listing format
type Normalizer struct {
	cleaner *cleaner.Cleaner
	bases   map[domain.SourceKey]*url.URL
	now     func() time.Time
	log     logger.Logger
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithBaseURLs registers the site base URL per source. When set, a listing
// whose source is not registered is dropped.
func WithBaseURLs(bases map[domain.SourceKey]string) Option {
	return func(n *Normalizer) {
		n.bases = make(map[domain.SourceKey]*url.URL, len(bases))
		for k, v := range bases {
			if u, err := url.Parse(v); err == nil {
				n.bases[k] = u
			}
		}
	}
}

func WithClock(now func() time.Time) Option { return func(n *Normalizer) { n.now = now } }

func WithLogger(l logger.Logger) Option { return func(n *Normalizer) { n.log = l } }

// NewNormalizer creates a new normalizer
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{cleaner: cleaner.NewCleaner(), now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	n.log = logger.OrNop(n.log).WithFields(map[string]interface{}{"component": "normalizer"})
	return n
}

// Normalize converts a RawListing to a canonical Listing. A listing missing
// a mandatory field is dropped with a validation error.
func (n *Normalizer) Normalize(raw domain.RawListing) (*domain.Listing, error) {
	if raw.Source == "" {
		return nil, apperrors.NewValidationError("missing source")
	}
	var base *url.URL
	if n.bases != nil {
		b, ok := n.bases[raw.Source]
		if !ok {
			return nil, apperrors.NewValidationError("unknown source " + string(raw.Source))
		}
		base = b
	}

	title := n.cleaner.Text(raw.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("missing title")
	}
	price := ParsePrice(raw.PriceText)
	if price <= 0 {
		return nil, apperrors.NewValidationError("missing or zero price")
	}
	link, ok := canonicalURL(base, raw.URL)
	if !ok {
		return nil, apperrors.NewValidationError("invalid url")
	}
	location := n.cleaner.Text(raw.LocationText)
	if location == "" {
		return nil, apperrors.NewValidationError("missing location")
	}

	now := n.now()
	description := n.cleaner.Text(raw.Description)
	texts := []string{title, description, raw.Extra["summary"]}

	listing := &domain.Listing{
		Title:        title,
		PublishedOn:  n.publishedOn(raw, now),
		PriceEUR:     price,
		LocationText: location,
		URL:          link,
		Source:       raw.Source,
		Photos:       absolutePhotos(base, raw.Photos),
		Phone:        strings.TrimSpace(raw.Phone),
		SurfaceM2:    raw.SurfaceM2,
		Rooms:        raw.Rooms,
		Description:  description,
	}
	if listing.SurfaceM2 <= 0 {
		listing.SurfaceM2 = firstMatch(ExtractSurface, texts)
	}
	if listing.Rooms <= 0 {
		listing.Rooms = firstMatch(ExtractRooms, texts)
	}

	scrapedAt := raw.ExtractedAt
	if scrapedAt.IsZero() {
		scrapedAt = now
	}
	listing.Annotations = domain.Annotations{
		ScrapedAt:        scrapedAt,
		ScraperKey:       string(raw.Source),
		Professional:     raw.IsPro,
		LocationFallback: raw.LocationFallback,
		Extra:            copyExtra(raw.Extra),
	}
	return listing, nil
}

// NormalizeAll normalizes raws in order. Dropped records are counted by
// reason and never appear in the result.
func (n *Normalizer) NormalizeAll(raws []domain.RawListing) ([]domain.Listing, map[string]int) {
	out := make([]domain.Listing, 0, len(raws))
	drops := make(map[string]int)
	for _, raw := range raws {
		listing, err := n.Normalize(raw)
		if err != nil {
			reason := err.Error()
			if se, ok := err.(*apperrors.StandardError); ok {
				reason = se.Message
			}
			drops[reason]++
			n.log.Debug("listing dropped", map[string]interface{}{
				"source": raw.Source,
				"url":    raw.URL,
				"reason": reason,
			})
			continue
		}
		metrics.ListingsTotal.WithLabelValues(string(raw.Source), "normalized").Inc()
		out = append(out, *listing)
	}
	return out, drops
}

func (n *Normalizer) publishedOn(raw domain.RawListing, now time.Time) time.Time {
	if d, ok := ParseDate(raw.DateText, now); ok {
		return d
	}
	if !raw.PublishedOn.IsZero() {
		return raw.PublishedOn
	}
	return day(now)
}

// ParsePrice keeps the digits of s. "250 000 €" is 250000.
func ParsePrice(s string) int {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")
	if digits == "" || len(digits) > maxPriceDigits {
		return 0
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return v
}

// ExtractSurface finds "<n> m²" or "<n> m2" in text
func ExtractSurface(text string) int {
	m := surfaceRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, _ := strconv.Atoi(m[1])
	return v
}

// ExtractRooms finds "<n> pièces", "T<n>" or "F<n>" in text
func ExtractRooms(text string) int {
	m := roomsRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	v, _ := strconv.Atoi(digits)
	return v
}

// ParseDate understands "aujourd'hui", "hier", dd/mm/yyyy and ISO dates.
// Results are truncated to the day in now's location.
func ParseDate(text string, now time.Time) (time.Time, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return time.Time{}, false
	}
	t = strings.ReplaceAll(t, "’", "'")
	switch {
	case strings.Contains(t, "aujourd'hui"), strings.Contains(t, "aujourd hui"):
		return day(now), true
	case strings.Contains(t, "hier"):
		return day(now).AddDate(0, 0, -1), true
	}
	if m := dmyRe.FindStringSubmatch(t); m != nil {
		return makeDate(m[3], m[2], m[1], now.Location())
	}
	if m := isoRe.FindStringSubmatch(t); m != nil {
		return makeDate(m[1], m[2], m[3], now.Location())
	}
	return time.Time{}, false
}

func makeDate(y, m, d string, loc *time.Location) (time.Time, bool) {
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	dom, _ := strconv.Atoi(d)
	if month < 1 || month > 12 || dom < 1 || dom > 31 {
		return time.Time{}, false
	}
	date := time.Date(year, time.Month(month), dom, 0, 0, 0, 0, loc)
	// 31/02 rolls over into March
	if date.Day() != dom {
		return time.Time{}, false
	}
	return date, true
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// canonicalURL resolves raw against base and accepts only absolute http(s)
func canonicalURL(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if !u.IsAbs() && base != nil {
		u = base.ResolveReference(u)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	s := u.String()
	if len(s) < minURLLength {
		return "", false
	}
	return s, true
}

func absolutePhotos(base *url.URL, photos []string) []string {
	out := make([]string, 0, len(photos))
	seen := make(map[string]bool, len(photos))
	for _, p := range photos {
		if strings.HasPrefix(p, "//") {
			p = "https:" + p
		}
		link, ok := canonicalURL(base, p)
		if !ok || seen[link] {
			continue
		}
		seen[link] = true
		out = append(out, link)
	}
	return out
}

func firstMatch(extract func(string) int, texts []string) int {
	for _, t := range texts {
		if v := extract(t); v > 0 {
			return v
		}
	}
	return 0
}

func copyExtra(extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}
