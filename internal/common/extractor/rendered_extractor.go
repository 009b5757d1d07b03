package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/transport"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

// RenderedExtractor extracts listings from pages rendered by a browser
type RenderedExtractor struct {
	source   domain.SourceKey
	renderer transport.Renderer
	parse    Parser
}

func NewRenderedExtractor(source domain.SourceKey, renderer transport.Renderer, parse Parser) *RenderedExtractor {
	return &RenderedExtractor{source: source, renderer: renderer, parse: parse}
}

func (e *RenderedExtractor) Name() string {
	return fmt.Sprintf("browser_%s", e.source)
}

func (e *RenderedExtractor) ExtractList(ctx context.Context, pageURL string) (*Page, error) {
	resp, err := e.renderer.Render(ctx, pageURL)
	if err != nil {
		return &Page{URL: pageURL}, err
	}
	page := &Page{URL: pageURL, Status: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		return page, nil
	}
	// Unparseable markup yields an empty page, which ends pagination.
	page.Listings, _ = ParseHTML(resp.Body, pageURL, e.parse)
	return page, nil
}

// ParseHTML parses body and runs parse over it with pageURL as base
func ParseHTML(body []byte, pageURL string, parse Parser) ([]domain.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	return parse(doc.Selection, base), nil
}

// NextData returns the JSON payload embedded by Next.js pages, if any
func NextData(doc *goquery.Selection) json.RawMessage {
	payload := strings.TrimSpace(doc.Find("script#__NEXT_DATA__").First().Text())
	if payload == "" || !json.Valid([]byte(payload)) {
		return nil
	}
	return json.RawMessage(payload)
}

// HybridParser reads listings from the embedded Next.js state and falls
// back to the DOM when the state is absent or holds nothing.
func HybridParser(source domain.SourceKey, state func(data json.RawMessage, base *url.URL) ([]domain.RawListing, error), dom Parser) Parser {
	return func(doc *goquery.Selection, base *url.URL) []domain.RawListing {
		if data := NextData(doc); data != nil {
			if items, err := state(data, base); err == nil && len(items) > 0 {
				for i := range items {
					items[i].Source = source
				}
				return items
			}
		}
		return dom(doc, base)
	}
}

// FallbackExtractor serves pages from a primary extractor and switches to
// a secondary one when the primary has never produced a listing and comes
// back empty or blocked. Once switched, it stays on the secondary.
type FallbackExtractor struct {
	primary   Extractor
	secondary Extractor
	log       logger.Logger

	mu       sync.Mutex
	worked   bool
	switched bool
}

func NewFallbackExtractor(primary, secondary Extractor, log logger.Logger) *FallbackExtractor {
	return &FallbackExtractor{primary: primary, secondary: secondary, log: logger.OrNop(log)}
}

func (e *FallbackExtractor) Name() string {
	return fmt.Sprintf("%s+%s", e.primary.Name(), e.secondary.Name())
}

func (e *FallbackExtractor) ExtractList(ctx context.Context, pageURL string) (*Page, error) {
	e.mu.Lock()
	switched := e.switched
	e.mu.Unlock()
	if switched {
		return e.secondary.ExtractList(ctx, pageURL)
	}

	page, err := e.primary.ExtractList(ctx, pageURL)
	if err != nil {
		return page, err
	}
	if len(page.Listings) > 0 {
		e.mu.Lock()
		e.worked = true
		e.mu.Unlock()
		return page, nil
	}

	e.mu.Lock()
	worked := e.worked
	e.mu.Unlock()
	if worked || (page.Status != http.StatusOK && page.Status != http.StatusForbidden) {
		return page, nil
	}

	e.log.Info("primary extraction empty, switching to fallback", map[string]interface{}{
		"url":      pageURL,
		"status":   page.Status,
		"fallback": e.secondary.Name(),
	})
	e.mu.Lock()
	e.switched = true
	e.mu.Unlock()
	return e.secondary.ExtractList(ctx, pageURL)
}
