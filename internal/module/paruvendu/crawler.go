package paruvendu

import (
	"context"
	"fmt"
	"net/url"

	"github.com/project-tktt/immo-crawler/internal/common/extractor"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module"
)

const searchPath = "/immobilier/annonceimmofo/liste/listeAnnonces"

var Selectors = extractor.Selectors{
	Item:        "div.blocAnnonce, article.annonce",
	Link:        "a[href*='/immobilier/'], a[href]",
	Title:       "h3, .ergov3-h3",
	Price:       ".ergov3-priceannonce, .price",
	Location:    ".ergov3-txtannonce cite, .ville",
	Photo:       "img",
	Description: ".ergov3-txtannonce p, .description",
	Pro:         ".ergov3-pro, .annonce-pro",
}

// Crawler implements listing crawling for paruvendu.fr
type Crawler struct {
	deps module.Deps
}

// NewCrawler creates a new paruvendu.fr crawler
func NewCrawler(deps module.Deps) *Crawler {
	return &Crawler{deps: deps}
}

func (c *Crawler) Key() domain.SourceKey { return domain.SourceParuvendu }

func (c *Crawler) Name() string { return c.deps.Profile.Name }

func (c *Crawler) Scrape(ctx context.Context, loc domain.ResolvedLocation, _ float64, maxPages int) []domain.RawListing {
	base := module.BaseURL(c.deps.Profile)
	p := &module.Paginator{
		Deps:      c.deps,
		Extractor: extractor.NewCollyExtractor(domain.SourceParuvendu, c.deps.Session, Selectors.Parser(domain.SourceParuvendu, nil), c.deps.Logger),
		WarmUpURL: base + "/",
		Fallback:  module.FallbackLocation(loc),
	}
	return p.Run(ctx, c.candidates(base, loc), maxPages)
}

// The search form takes a free location; private sellers only (tt=1, pa=FR)
func (c *Crawler) candidates(base string, loc domain.ResolvedLocation) []module.Candidate {
	var out []module.Candidate
	for _, term := range module.LocationTerms(loc) {
		q := url.Values{}
		q.Set("tt", "1")
		q.Set("pa", "FR")
		q.Set("lo", term.Value)
		out = append(out, module.Candidate{
			Label: term.Label,
			PageURL: func(page int) string {
				q.Set("p", fmt.Sprint(page))
				return base + searchPath + "?" + q.Encode()
			},
		})
	}
	return out
}
