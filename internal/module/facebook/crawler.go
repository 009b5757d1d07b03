package facebook

import (
	"context"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/project-tktt/immo-crawler/internal/common/extractor"
	"github.com/project-tktt/immo-crawler/internal/common/geo"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module"
)

const searchQuery = "query=appartement%20maison&exact=false"

// Selectors change often on this site; cards are found by test id or role
var Selectors = extractor.Selectors{
	Item:  `[data-testid="marketplace-card"], div[role="article"]`,
	Link:  `a[href*="/marketplace/item/"]`,
	Title: `span[dir="auto"]`,
	Photo: "img",
}

// Crawler implements listing crawling for Facebook Marketplace. It needs a
// browser; without one it yields nothing.
type Crawler struct {
	deps module.Deps
}

// NewCrawler creates a new Facebook Marketplace crawler
func NewCrawler(deps module.Deps) *Crawler {
	return &Crawler{deps: deps}
}

func (c *Crawler) Key() domain.SourceKey { return domain.SourceFacebook }

func (c *Crawler) Name() string { return c.deps.Profile.Name }

// Scrape renders the marketplace search of the city. Results load by
// infinite scroll, so only one page is read.
func (c *Crawler) Scrape(ctx context.Context, loc domain.ResolvedLocation, _ float64, _ int) []domain.RawListing {
	if c.deps.Renderer == nil {
		logger.OrNop(c.deps.Logger).Warn("browser unavailable, skipping source", map[string]interface{}{"source": domain.SourceFacebook})
		return nil
	}
	base := module.BaseURL(c.deps.Profile)
	p := &module.Paginator{
		Deps:      c.deps,
		Extractor: extractor.NewRenderedExtractor(domain.SourceFacebook, c.deps.Renderer, Selectors.Parser(domain.SourceFacebook, Card)),
		Fallback:  module.FallbackLocation(loc),
	}

	city := geo.Slugify(module.FallbackLocation(loc))
	pageURL := base + "/marketplace/" + url.PathEscape(city) + "/search?" + searchQuery
	return p.Run(ctx, []module.Candidate{{
		Label:   "city",
		PageURL: func(int) string { return pageURL },
	}}, 1)
}

// Card reads a marketplace card: the first span is the title, the first
// span with a currency is the price, the first other short span the place.
func Card(card *goquery.Selection, base *url.URL) (domain.RawListing, bool) {
	raw, ok := Selectors.Card(card, base)
	if !ok {
		return raw, false
	}
	card.Find("span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
		t := strings.TrimSpace(span.Text())
		if raw.PriceText == "" && (strings.Contains(t, "€") || strings.Contains(t, "EUR")) {
			raw.PriceText = t
			return true
		}
		if raw.LocationText == "" && looksLikePlace(t) && t != raw.Title {
			raw.LocationText = t
		}
		return raw.PriceText == "" || raw.LocationText == ""
	})
	// Inline data: images are placeholders
	var photos []string
	for _, p := range raw.Photos {
		if strings.HasPrefix(p, "http") {
			photos = append(photos, p)
		}
	}
	raw.Photos = photos
	return raw, true
}

func looksLikePlace(t string) bool {
	n := len([]rune(t))
	if n <= 3 || n >= 50 || strings.ContainsAny(t, "€") {
		return false
	}
	return strings.IndexFunc(t, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0
}
