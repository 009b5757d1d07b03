package figaro

import (
	"context"
	"fmt"

	"github.com/project-tktt/immo-crawler/internal/common/extractor"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module"
)

var Selectors = extractor.Selectors{
	Item:     "article.classified-card, div.annonce",
	Link:     "a[href]",
	Title:    "h2, h3",
	Price:    "span.price, div.price",
	Location: "span.location, div.ville",
	Photo:    "img",
}

// Crawler implements listing crawling for proprietes.lefigaro.fr. The
// profile ships disabled: the search pages currently surface press articles.
type Crawler struct {
	deps module.Deps
}

// NewCrawler creates a new Figaro Immobilier crawler
func NewCrawler(deps module.Deps) *Crawler {
	return &Crawler{deps: deps}
}

func (c *Crawler) Key() domain.SourceKey { return domain.SourceFigaro }

func (c *Crawler) Name() string { return c.deps.Profile.Name }

func (c *Crawler) Scrape(ctx context.Context, loc domain.ResolvedLocation, _ float64, maxPages int) []domain.RawListing {
	base := module.BaseURL(c.deps.Profile)
	p := &module.Paginator{
		Deps:      c.deps,
		Extractor: extractor.NewCollyExtractor(domain.SourceFigaro, c.deps.Session, Selectors.Parser(domain.SourceFigaro, nil), c.deps.Logger),
		Fallback:  module.FallbackLocation(loc),
	}

	var candidates []module.Candidate
	for _, term := range module.LocationTerms(loc) {
		listURL := fmt.Sprintf("%s/annonces/immobilier-vente-%s.html", base, term.Value)
		candidates = append(candidates, module.Candidate{
			Label: term.Label,
			PageURL: func(page int) string {
				if page == 1 {
					return listURL
				}
				return fmt.Sprintf("%s?page=%d", listURL, page)
			},
		})
	}
	return p.Run(ctx, candidates, maxPages)
}
