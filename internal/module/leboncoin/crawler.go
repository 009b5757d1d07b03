package leboncoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/project-tktt/immo-crawler/internal/common/extractor"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module"
)

// Real-estate sales category
const category = "9"

// Cards as rendered in the DOM
var Selectors = extractor.Selectors{
	Item:     `[data-qa-id="aditem_container"]`,
	Link:     `a[data-qa-id="aditem_link"], a[href]`,
	Title:    `[data-qa-id="aditem_title"]`,
	Price:    `[data-qa-id="aditem_price"]`,
	Location: `[data-qa-id="aditem_location"]`,
	Date:     `[data-qa-id="aditem_date"]`,
	Photo:    "img",
	Pro:      `[data-qa-id="aditem_pro"]`,
}

// SearchState is the part of the embedded Next.js state holding results
type SearchState struct {
	Props struct {
		PageProps struct {
			SearchData struct {
				Ads []Ad `json:"ads"`
			} `json:"searchData"`
		} `json:"pageProps"`
	} `json:"props"`
}

type Ad struct {
	ListID           int64       `json:"list_id"`
	Subject          string      `json:"subject"`
	Body             string      `json:"body"`
	URL              string      `json:"url"`
	Price            []int       `json:"price"`
	FirstPublication string      `json:"first_publication_date"`
	Location         AdLocation  `json:"location"`
	Images           AdImages    `json:"images"`
	Owner            AdOwner     `json:"owner"`
	Attributes       []Attribute `json:"attributes"`
}

type AdLocation struct {
	City    string `json:"city"`
	Zipcode string `json:"zipcode"`
}

type AdImages struct {
	URLs []string `json:"urls"`
}

type AdOwner struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Crawler implements listing crawling for leboncoin.fr. Pages are read from
// their embedded state, then from the DOM; when static pages come back
// empty or blocked and a browser is available, pages are rendered instead.
type Crawler struct {
	deps module.Deps
}

// NewCrawler creates a new leboncoin.fr crawler
func NewCrawler(deps module.Deps) *Crawler {
	return &Crawler{deps: deps}
}

func (c *Crawler) Key() domain.SourceKey { return domain.SourceLeboncoin }

func (c *Crawler) Name() string { return c.deps.Profile.Name }

func (c *Crawler) Scrape(ctx context.Context, loc domain.ResolvedLocation, _ float64, maxPages int) []domain.RawListing {
	base := module.BaseURL(c.deps.Profile)
	parse := extractor.HybridParser(domain.SourceLeboncoin, ParseState, Selectors.Parser(domain.SourceLeboncoin, nil))

	var ext extractor.Extractor = extractor.NewCollyExtractor(domain.SourceLeboncoin, c.deps.Session, parse, c.deps.Logger)
	if c.deps.Renderer != nil {
		ext = extractor.NewFallbackExtractor(ext, extractor.NewRenderedExtractor(domain.SourceLeboncoin, c.deps.Renderer, parse), c.deps.Logger)
	}
	p := &module.Paginator{
		Deps:      c.deps,
		Extractor: ext,
		WarmUpURL: base + "/",
		Fallback:  module.FallbackLocation(loc),
	}
	return p.Run(ctx, c.candidates(base, loc), maxPages)
}

// The text search takes a city name or a postal code
func (c *Crawler) candidates(base string, loc domain.ResolvedLocation) []module.Candidate {
	var terms []module.Term
	if loc.City != "" {
		terms = append(terms, module.Term{Label: "city", Value: loc.City})
	}
	if loc.PostalCode != "" {
		terms = append(terms, module.Term{Label: "cp", Value: loc.PostalCode})
	}
	if len(terms) == 0 {
		terms = append(terms, module.Term{Label: "query", Value: loc.Query})
	}

	out := make([]module.Candidate, 0, len(terms))
	for _, term := range terms {
		q := url.Values{}
		q.Set("category", category)
		q.Set("text", term.Value)
		out = append(out, module.Candidate{
			Label: term.Label,
			PageURL: func(page int) string {
				if page > 1 {
					q.Set("page", fmt.Sprint(page))
				}
				return base + "/recherche?" + q.Encode()
			},
		})
	}
	return out
}

// ParseState reads listings from the embedded search state
func ParseState(data json.RawMessage, base *url.URL) ([]domain.RawListing, error) {
	var state SearchState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode search state: %w", err)
	}

	ads := state.Props.PageProps.SearchData.Ads
	out := make([]domain.RawListing, 0, len(ads))
	now := time.Now()
	for _, ad := range ads {
		link := extractor.Absolute(base, ad.URL)
		if link == "" {
			continue
		}
		raw := domain.RawListing{
			Title:        ad.Subject,
			Description:  ad.Body,
			URL:          link,
			LocationText: location(ad.Location),
			DateText:     ad.FirstPublication,
			Photos:       ad.Images.URLs,
			IsPro:        ad.Owner.Type == "pro",
			ExtractedAt:  now,
		}
		if len(ad.Price) > 0 {
			raw.PriceText = fmt.Sprint(ad.Price[0])
		}
		for _, attr := range ad.Attributes {
			switch attr.Key {
			case "square":
				raw.SurfaceM2 = atoi(attr.Value)
			case "rooms":
				raw.Rooms = atoi(attr.Value)
			}
		}
		out = append(out, raw)
	}
	return out, nil
}

// location renders "City (CP)" so the postal code is read with high confidence
func location(l AdLocation) string {
	if l.City != "" && l.Zipcode != "" {
		return fmt.Sprintf("%s (%s)", l.City, l.Zipcode)
	}
	return strings.TrimSpace(l.City + " " + l.Zipcode)
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}
