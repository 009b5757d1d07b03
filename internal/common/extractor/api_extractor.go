package extractor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/transport"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

// Request describes the API call issued for one page
type Request struct {
	Method      string
	URL         string
	Body        []byte
	ContentType string
}

// APIExtractor implements Extractor for JSON API sources
type APIExtractor struct {
	source    domain.SourceKey
	session   *transport.Session
	build     func(pageURL string) (Request, error)
	parseFunc func(data []byte, base *url.URL) ([]domain.RawListing, error)
	log       logger.Logger
}

// NewAPIExtractor creates a new API-based extractor issuing GET pageURL
func NewAPIExtractor(source domain.SourceKey, session *transport.Session, log logger.Logger) *APIExtractor {
	return &APIExtractor{
		source:  source,
		session: session,
		build: func(pageURL string) (Request, error) {
			return Request{Method: http.MethodGet, URL: pageURL}, nil
		},
		log: logger.OrNop(log),
	}
}

// SetRequestBuilder maps a page URL to the API call actually sent
func (e *APIExtractor) SetRequestBuilder(fn func(pageURL string) (Request, error)) {
	e.build = fn
}

// SetParseFunc sets the parsing function for the API response
func (e *APIExtractor) SetParseFunc(fn func(data []byte, base *url.URL) ([]domain.RawListing, error)) {
	e.parseFunc = fn
}

func (e *APIExtractor) Name() string {
	return fmt.Sprintf("api_%s", e.source)
}

func (e *APIExtractor) ExtractList(ctx context.Context, pageURL string) (*Page, error) {
	if e.parseFunc == nil {
		return nil, fmt.Errorf("api extractor %s: no parse function", e.source)
	}
	req, err := e.build(pageURL)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var resp *transport.Response
	if req.Method == http.MethodPost {
		resp, err = e.session.Post(ctx, req.URL, req.Body, req.ContentType, nil)
	} else {
		var hdr http.Header
		if f := e.session.Headers(); f != nil {
			hdr = f.API(req.URL, "")
		}
		resp, err = e.session.Get(ctx, req.URL, hdr)
	}
	if err != nil {
		return &Page{URL: pageURL}, err
	}

	page := &Page{URL: pageURL, Status: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		return page, nil
	}

	base, _ := url.Parse(resp.URL)
	items, err := e.parseFunc(resp.Body, base)
	if err != nil {
		// An unreadable page ends pagination like an empty one.
		e.log.Warn("cannot parse api response", map[string]interface{}{"url": pageURL, "error": err.Error()})
		return page, nil
	}
	for i := range items {
		items[i].Source = e.source
	}
	page.Listings = items
	return page, nil
}
