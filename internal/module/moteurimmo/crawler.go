package moteurimmo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/project-tktt/immo-crawler/internal/common/extractor"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module"
)

const (
	// Search endpoint used by the site's own front end
	SearchAPIPath = "/api/search"
	AdsPerPage    = 30
)

// SearchRequest is the body posted to the search API
type SearchRequest struct {
	Location    string   `json:"location"`
	Page        int      `json:"page"`
	PerPage     int      `json:"perPage"`
	Transaction string   `json:"transaction"`
	Types       []string `json:"types"`
}

// SearchResponse is the search API response
type SearchResponse struct {
	Ads   []AdData `json:"ads"`
	Total int      `json:"total"`
}

type AdData struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Price           float64  `json:"price"`
	Surface         float64  `json:"surface"`
	Rooms           int      `json:"rooms"`
	City            string   `json:"city"`
	PostalCode      string   `json:"postalCode"`
	URL             string   `json:"url"`
	PublicationDate string   `json:"publicationDate"`
	Pictures        []string `json:"pictures"`
	Origin          string   `json:"origin"`
	Seller          struct {
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"seller"`
}

// Crawler implements listing crawling for moteurimmo.fr through its JSON API
type Crawler struct {
	deps module.Deps
}

// NewCrawler creates a new moteurimmo.fr crawler
func NewCrawler(deps module.Deps) *Crawler {
	return &Crawler{deps: deps}
}

func (c *Crawler) Key() domain.SourceKey { return domain.SourceMoteurImmo }

func (c *Crawler) Name() string { return c.deps.Profile.Name }

func (c *Crawler) Scrape(ctx context.Context, loc domain.ResolvedLocation, _ float64, maxPages int) []domain.RawListing {
	base := module.BaseURL(c.deps.Profile)

	ext := extractor.NewAPIExtractor(domain.SourceMoteurImmo, c.deps.Session, c.deps.Logger)
	ext.SetRequestBuilder(func(pageURL string) (extractor.Request, error) {
		return BuildRequest(base, pageURL)
	})
	ext.SetParseFunc(ParseResponse)

	p := &module.Paginator{
		Deps:      c.deps,
		Extractor: ext,
		WarmUpURL: base + "/",
		Fallback:  module.FallbackLocation(loc),
	}

	var candidates []module.Candidate
	for _, term := range []module.Term{{Label: "cp", Value: loc.PostalCode}, {Label: "city", Value: loc.City}, {Label: "dept", Value: loc.Department}} {
		if term.Value == "" {
			continue
		}
		q := url.Values{}
		q.Set("location", term.Value)
		candidates = append(candidates, module.Candidate{
			Label: term.Label,
			PageURL: func(page int) string {
				q.Set("page", strconv.Itoa(page))
				return base + SearchAPIPath + "?" + q.Encode()
			},
		})
	}
	return p.Run(ctx, candidates, maxPages)
}

// BuildRequest turns a paginated search URL into the POST the API expects
func BuildRequest(base, pageURL string) (extractor.Request, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return extractor.Request{}, err
	}
	page, _ := strconv.Atoi(u.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	body, err := json.Marshal(SearchRequest{
		Location:    u.Query().Get("location"),
		Page:        page,
		PerPage:     AdsPerPage,
		Transaction: "sale",
		Types:       []string{"apartment", "house"},
	})
	if err != nil {
		return extractor.Request{}, err
	}
	return extractor.Request{
		Method:      http.MethodPost,
		URL:         base + SearchAPIPath,
		Body:        body,
		ContentType: "application/json",
	}, nil
}

// ParseResponse maps API ads to raw listings
func ParseResponse(data []byte, base *url.URL) ([]domain.RawListing, error) {
	var resp SearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.RawListing, 0, len(resp.Ads))
	now := time.Now()
	for _, ad := range resp.Ads {
		link := extractor.Absolute(base, ad.URL)
		if link == "" {
			continue
		}
		raw := domain.RawListing{
			Title:       ad.Title,
			Description: ad.Description,
			URL:         link,
			DateText:    ad.PublicationDate,
			SurfaceM2:   int(ad.Surface),
			Rooms:       ad.Rooms,
			IsPro:       ad.Seller.Type == "pro" || ad.Seller.Type == "agency",
			ExtractedAt: now,
		}
		if ad.Price > 0 {
			raw.PriceText = strconv.FormatInt(int64(ad.Price), 10)
		}
		switch {
		case ad.City != "" && ad.PostalCode != "":
			raw.LocationText = fmt.Sprintf("%s (%s)", ad.City, ad.PostalCode)
		case ad.PostalCode != "":
			raw.LocationText = ad.PostalCode
		default:
			raw.LocationText = ad.City
		}
		for _, pic := range ad.Pictures {
			if abs := extractor.Absolute(base, pic); abs != "" {
				raw.Photos = append(raw.Photos, abs)
			}
		}
		if ad.Origin != "" {
			raw.Extra = map[string]string{"origin": ad.Origin}
		}
		out = append(out, raw)
	}
	return out, nil
}
