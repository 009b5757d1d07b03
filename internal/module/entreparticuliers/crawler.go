package entreparticuliers

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/project-tktt/immo-crawler/internal/common/extractor"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module"
)

// PerPage caps the cards read from one page
const PerPage = 15

// Card layouts tried in order; the first one present wins
var cardGroups = []string{
	`article[class*="annonce"]`,
	`div[class*="listing-item"], div[class*="property-card"], div.annonce`,
	`li[class*="annonce"]`,
	`a[href*="/annonce/"]`,
}

var priceRe = regexp.MustCompile(`\d[\d\s.\x{00a0}\x{202f}]*€`)

// Crawler implements listing crawling for entreparticuliers.com (private sellers only)
type Crawler struct {
	deps module.Deps
}

// NewCrawler creates a new entreparticuliers.com crawler
func NewCrawler(deps module.Deps) *Crawler {
	return &Crawler{deps: deps}
}

func (c *Crawler) Key() domain.SourceKey { return domain.SourceEntreParticuliers }

func (c *Crawler) Name() string { return c.deps.Profile.Name }

// Scrape reads the purchase listings of the location slug. Cards carry no
// location, so every listing takes the searched city.
func (c *Crawler) Scrape(ctx context.Context, loc domain.ResolvedLocation, _ float64, maxPages int) []domain.RawListing {
	base := module.BaseURL(c.deps.Profile)
	var ext extractor.Extractor = extractor.NewCollyExtractor(domain.SourceEntreParticuliers, c.deps.Session, Parse, c.deps.Logger)
	if c.deps.Renderer != nil {
		ext = extractor.NewFallbackExtractor(ext, extractor.NewRenderedExtractor(domain.SourceEntreParticuliers, c.deps.Renderer, Parse), c.deps.Logger)
	}
	p := &module.Paginator{
		Deps:      c.deps,
		Extractor: ext,
		WarmUpURL: base + "/",
		Fallback:  module.FallbackLocation(loc),
	}

	var candidates []module.Candidate
	for _, term := range module.LocationTerms(loc) {
		listURL := fmt.Sprintf("%s/achat-immobilier/%s", base, term.Value)
		candidates = append(candidates, module.Candidate{
			Label:   term.Label,
			PageURL: func(page int) string { return fmt.Sprintf("%s?page=%d", listURL, page) },
		})
	}
	return p.Run(ctx, candidates, maxPages)
}

// Parse extracts up to PerPage cards from a result page
func Parse(doc *goquery.Selection, base *url.URL) []domain.RawListing {
	var cards *goquery.Selection
	for _, group := range cardGroups {
		if found := doc.Find(group); found.Length() > 0 {
			cards = found
			break
		}
	}
	if cards == nil {
		return nil
	}

	var out []domain.RawListing
	now := time.Now()
	cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if len(out) >= PerPage {
			return false
		}
		if raw, ok := parseCard(card, base); ok {
			raw.Source = domain.SourceEntreParticuliers
			raw.ExtractedAt = now
			out = append(out, raw)
		}
		return true
	})
	return out
}

func parseCard(card *goquery.Selection, base *url.URL) (domain.RawListing, bool) {
	href, _ := card.Attr("href")
	if goquery.NodeName(card) != "a" {
		href, _ = card.Find("a[href]").First().Attr("href")
	}
	link := extractor.Absolute(base, href)
	if link == "" {
		return domain.RawListing{}, false
	}

	summary := strings.Join(strings.Fields(card.Text()), " ")
	title := strings.TrimSpace(card.Find("h2, h3, .titre, .title").First().Text())
	if title == "" {
		title = truncate(summary, 80)
	}

	raw := domain.RawListing{
		URL:       link,
		Title:     title,
		PriceText: priceRe.FindString(summary),
		Extra:     map[string]string{"summary": summary},
	}
	if img := card.Find("img").First(); img.Length() > 0 {
		if src := extractor.ImageSource(img); src != "" {
			raw.Photos = []string{extractor.Absolute(base, src)}
		}
	}
	return raw, true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
