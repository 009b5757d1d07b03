package module

import (
	"context"
	"net/http"
	"strings"

	"github.com/project-tktt/immo-crawler/internal/common/extractor"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/metrics"
	"github.com/project-tktt/immo-crawler/internal/common/transport"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module/registry"
)

// Adapter is the common interface for all source adapters. Scrape never
// fails: a source that cannot be read yields an empty slice.
type Adapter interface {
	// Key returns the source identifier
	Key() domain.SourceKey
	// Name returns the display name of the site
	Name() string
	// Scrape fetches at most maxPages pages of listings around loc
	Scrape(ctx context.Context, loc domain.ResolvedLocation, radiusKm float64, maxPages int) []domain.RawListing
}

// Breaker reports whether a source's circuit is open
type Breaker interface {
	ShouldStop() bool
}

// Pacer is the reading session of a source's human timer
type Pacer interface {
	ResetSession()
	ShouldTakeBreak() bool
}

// SeenChecker tells whether every URL of a page was stored by an earlier run
type SeenChecker interface {
	AllSeen(ctx context.Context, source domain.SourceKey, urls []string) (bool, error)
}

// Deps are the collaborators an adapter is built with. Each source gets its
// own session; sessions are never shared across sources.
type Deps struct {
	Profile registry.SiteProfile
	Session *transport.Session
	Gate    Breaker
	// Nil disables reading-session limits
	Pacer Pacer
	// Nil when no browser is available
	Renderer transport.Renderer
	// Nil disables stop-early-if-unchanged
	Seen   SeenChecker
	Logger logger.Logger
}

// Candidate is one URL shape tried for a location
type Candidate struct {
	Label   string
	PageURL func(page int) string
}

// Paginator drives candidate URL shapes page by page through an extractor
type Paginator struct {
	Deps      Deps
	Extractor extractor.Extractor
	// Homepage visited once before the first listing request, empty to skip
	WarmUpURL string
	// Location written into listings that carry none
	Fallback string
}

// Run tries candidates in order and returns the listings of the first one
// that yields any. Pagination stops on an empty page or a non-200 answer;
// a network error moves on to the next page. Cancellation, an open circuit
// and an exhausted reading session end the run with what was collected so far.
func (p *Paginator) Run(ctx context.Context, candidates []Candidate, maxPages int) []domain.RawListing {
	source := p.Deps.Profile.Key
	log := logger.OrNop(p.Deps.Logger).WithFields(map[string]interface{}{"source": source})

	if p.Deps.Pacer != nil {
		p.Deps.Pacer.ResetSession()
	}

	if p.WarmUpURL != "" && p.Deps.Session != nil && ctx.Err() == nil {
		if !p.Deps.Session.WarmUp(ctx, p.WarmUpURL) {
			log.Info("warm-up unsuccessful, continuing", nil)
		}
	}

	for _, cand := range candidates {
		if ctx.Err() != nil {
			return nil
		}
		got, stop := p.runCandidate(ctx, log, cand, maxPages)
		if len(got) > 0 {
			log.Info("candidate yielded listings", map[string]interface{}{"candidate": cand.Label, "count": len(got)})
			metrics.ListingsTotal.WithLabelValues(string(source), "raw").Add(float64(len(got)))
			return got
		}
		if stop {
			return nil
		}
	}
	log.Info("no listings found", nil)
	return nil
}

// runCandidate paginates one URL shape. stop reports that no further
// candidate may be tried.
func (p *Paginator) runCandidate(ctx context.Context, log logger.Logger, cand Candidate, maxPages int) (got []domain.RawListing, stop bool) {
	for page := 1; page <= maxPages; page++ {
		if ctx.Err() != nil {
			return got, true
		}
		if p.Deps.Gate != nil && p.Deps.Gate.ShouldStop() {
			log.Warn("circuit open, yielding partial results", map[string]interface{}{"candidate": cand.Label, "page": page})
			return got, true
		}
		if p.Deps.Pacer != nil && p.Deps.Pacer.ShouldTakeBreak() {
			log.Info("reading session exhausted, yielding partial results", map[string]interface{}{"candidate": cand.Label, "page": page})
			return got, true
		}

		pageURL := cand.PageURL(page)
		res, err := p.Extractor.ExtractList(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return got, true
			}
			log.Warn("page fetch failed", map[string]interface{}{"url": pageURL, "error": err.Error()})
			continue
		}

		switch {
		case res.Status == http.StatusOK:
		case res.Status == http.StatusForbidden:
			log.Warn("blocked, abandoning candidate", map[string]interface{}{"url": pageURL})
			return got, false
		case res.Status == http.StatusTooManyRequests || res.Status >= 500:
			log.Warn("throttled or server error, abandoning candidate", map[string]interface{}{"url": pageURL, "status": res.Status})
			return got, false
		default:
			log.Info("unexpected status, abandoning candidate", map[string]interface{}{"url": pageURL, "status": res.Status})
			return got, false
		}

		if len(res.Listings) == 0 {
			log.Debug("empty page, end of results", map[string]interface{}{"url": pageURL, "page": page})
			return got, false
		}

		urls := make([]string, 0, len(res.Listings))
		for i := range res.Listings {
			if res.Listings[i].LocationText == "" && p.Fallback != "" {
				res.Listings[i].LocationText = p.Fallback
				res.Listings[i].LocationFallback = true
			}
			urls = append(urls, res.Listings[i].URL)
		}
		got = append(got, res.Listings...)

		if p.Deps.Seen != nil && p.Deps.Profile.StopEarlyIfUnchanged {
			all, err := p.Deps.Seen.AllSeen(ctx, p.Deps.Profile.Key, urls)
			if err != nil {
				log.Debug("seen-set unavailable", map[string]interface{}{"error": err.Error()})
			} else if all {
				log.Info("page unchanged since last run, stopping early", map[string]interface{}{"url": pageURL})
				return got, false
			}
		}
	}
	return got, false
}

// Term is one way of naming a location in a site URL
type Term struct {
	Label string
	Value string
}

// LocationTerms returns the candidate URL terms of loc in trial order:
// slug, postal code, department. Empty and repeated values are skipped.
func LocationTerms(loc domain.ResolvedLocation) []Term {
	var out []Term
	seen := make(map[string]bool)
	add := func(label, value string) {
		if value == "" || seen[value] {
			return
		}
		seen[value] = true
		out = append(out, Term{Label: label, Value: value})
	}
	add("slug", loc.Slug)
	add("cp", loc.PostalCode)
	add("dept", loc.Department)
	return out
}

// FallbackLocation is the text written into listings whose page shows no location
func FallbackLocation(loc domain.ResolvedLocation) string {
	if loc.City != "" {
		return loc.City
	}
	return loc.Query
}

// BaseURL returns the profile base URL without its trailing slash
func BaseURL(p registry.SiteProfile) string {
	return strings.TrimRight(p.BaseURL, "/")
}
