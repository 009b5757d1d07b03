package extractor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gocolly/colly/v2"

	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/transport"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

// CollyExtractor implements Extractor using Colly for static HTML pages.
// Requests go through the source's stealth session, so pacing, headers and
// cookies are shared with every other request of that source.
type CollyExtractor struct {
	source  domain.SourceKey
	session *transport.Session
	parse   Parser
	log     logger.Logger
}

// NewCollyExtractor creates a new Colly-based HTML scraper
func NewCollyExtractor(source domain.SourceKey, session *transport.Session, parse Parser, log logger.Logger) *CollyExtractor {
	return &CollyExtractor{
		source:  source,
		session: session,
		parse:   parse,
		log:     logger.OrNop(log),
	}
}

func (e *CollyExtractor) Name() string {
	return fmt.Sprintf("colly_%s", e.source)
}

// newCollector builds a collector bound to ctx. The session enforces the
// request deadline after pacing, so the collector has none of its own.
func (e *CollyExtractor) newCollector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(0)
	c.SetCookieJar(e.session.Jar())
	c.WithTransport(contextTransport{ctx: ctx, next: e.session})
	return c
}

func (e *CollyExtractor) ExtractList(ctx context.Context, pageURL string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page := &Page{URL: pageURL}
	var visitErr error

	collector := e.newCollector(ctx)

	collector.OnResponse(func(r *colly.Response) {
		page.Status = r.StatusCode
	})

	collector.OnHTML("html", func(el *colly.HTMLElement) {
		page.Listings = e.parse(el.DOM, el.Request.URL)
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			page.Status = r.StatusCode
		}
		if page.Status == 0 {
			visitErr = err
		}
	})

	if err := collector.Visit(pageURL); err != nil && page.Status == 0 {
		if visitErr == nil {
			visitErr = err
		}
	}
	if visitErr != nil {
		return page, fmt.Errorf("visit %s: %w", pageURL, visitErr)
	}

	e.log.Debug("page extracted", map[string]interface{}{
		"url":      pageURL,
		"status":   page.Status,
		"listings": len(page.Listings),
	})
	return page, nil
}

// contextTransport attaches a caller context to requests issued by colly
type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}
