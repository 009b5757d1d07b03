package pap

import (
	"context"
	"fmt"

	"github.com/project-tktt/immo-crawler/internal/common/extractor"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module"
)

// Listing cards; the site has used both layouts
var Selectors = extractor.Selectors{
	Item:        "div.search-list-item, article.annonce",
	Link:        "a.item-title, a[href]",
	Title:       "span.item-title, h2",
	Price:       "span.item-price, span.price",
	Location:    "span.item-location, span.ville",
	Photo:       "img",
	Description: "span.item-description, p.item-description",
}

// Crawler implements listing crawling for pap.fr (owner-to-owner only)
type Crawler struct {
	deps module.Deps
}

// NewCrawler creates a new pap.fr crawler
func NewCrawler(deps module.Deps) *Crawler {
	return &Crawler{deps: deps}
}

func (c *Crawler) Key() domain.SourceKey { return domain.SourcePap }

func (c *Crawler) Name() string { return c.deps.Profile.Name }

// Scrape walks the sale search of each location term: slug, then postal code, then department
func (c *Crawler) Scrape(ctx context.Context, loc domain.ResolvedLocation, _ float64, maxPages int) []domain.RawListing {
	base := module.BaseURL(c.deps.Profile)
	p := &module.Paginator{
		Deps:      c.deps,
		Extractor: extractor.NewCollyExtractor(domain.SourcePap, c.deps.Session, Selectors.Parser(domain.SourcePap, nil), c.deps.Logger),
		WarmUpURL: base + "/",
		Fallback:  module.FallbackLocation(loc),
	}
	return p.Run(ctx, c.candidates(base, loc), maxPages)
}

func (c *Crawler) candidates(base string, loc domain.ResolvedLocation) []module.Candidate {
	var out []module.Candidate
	for _, term := range module.LocationTerms(loc) {
		listURL := fmt.Sprintf("%s/annonce/vente-immobilier-%s", base, term.Value)
		out = append(out, module.Candidate{
			Label: term.Label,
			PageURL: func(page int) string {
				if page == 1 {
					return listURL
				}
				return fmt.Sprintf("%s?p=%d", listURL, page)
			},
		})
	}
	return out
}
