package extractor

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/project-tktt/immo-crawler/internal/domain"
)

// Extractor fetches one listing page and extracts raw listings from it.
// Implementations: CollyExtractor (static HTML), APIExtractor (JSON),
// RenderedExtractor (browser) and FallbackExtractor (hybrid sites).
type Extractor interface {
	// ExtractList fetches pageURL. A non-200 answer is reported through
	// Page.Status with a nil error; errors are transport failures.
	ExtractList(ctx context.Context, pageURL string) (*Page, error)

	// Name returns the name of this extractor
	Name() string
}

// Page is the outcome of one listing page fetch
type Page struct {
	URL      string
	Status   int
	Listings []domain.RawListing
}

// Parser extracts listings from a parsed document
type Parser func(doc *goquery.Selection, base *url.URL) []domain.RawListing

// CardFunc extracts one listing from a card element. It reports false to
// drop the card.
type CardFunc func(card *goquery.Selection, base *url.URL) (domain.RawListing, bool)

// Selectors defines CSS selectors for extracting listing cards. A
// comma-separated selector takes the first match in document order.
type Selectors struct {
	Item string
	// Empty means the item itself is the link
	Link        string
	Title       string
	Price       string
	Location    string
	Date        string
	Photo       string
	Description string
	Phone       string
	// Presence of this element marks a professional seller
	Pro string
	// Cards beyond Limit are ignored, 0 means no limit
	Limit int
}

// Card is the default CardFunc driven by the selectors
func (s Selectors) Card(card *goquery.Selection, base *url.URL) (domain.RawListing, bool) {
	var href string
	if s.Link == "" {
		href, _ = card.Attr("href")
	} else {
		href, _ = card.Find(s.Link).First().Attr("href")
	}
	link := Absolute(base, href)
	if link == "" {
		return domain.RawListing{}, false
	}

	raw := domain.RawListing{
		URL:          link,
		Title:        text(card, s.Title),
		PriceText:    text(card, s.Price),
		LocationText: text(card, s.Location),
		DateText:     text(card, s.Date),
		Description:  text(card, s.Description),
		Phone:        text(card, s.Phone),
	}
	if s.Photo != "" {
		card.Find(s.Photo).Each(func(_ int, img *goquery.Selection) {
			if src := ImageSource(img); src != "" {
				raw.Photos = append(raw.Photos, Absolute(base, src))
			}
		})
	}
	if s.Pro != "" && card.Find(s.Pro).Length() > 0 {
		raw.IsPro = true
	}
	return raw, true
}

// Parser returns a Parser over the selectors. A nil card uses Selectors.Card.
func (s Selectors) Parser(source domain.SourceKey, card CardFunc) Parser {
	if card == nil {
		card = s.Card
	}
	return func(doc *goquery.Selection, base *url.URL) []domain.RawListing {
		var out []domain.RawListing
		now := time.Now()
		doc.Find(s.Item).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			if s.Limit > 0 && len(out) >= s.Limit {
				return false
			}
			raw, ok := card(el, base)
			if !ok {
				return true
			}
			raw.Source = source
			raw.ExtractedAt = now
			out = append(out, raw)
			return true
		})
		return out
	}
}

// Absolute resolves href against base. Absolute http(s) links on other
// hosts are kept as they are; other schemes are rejected.
func Absolute(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}

// ImageSource returns the first usable source of an img element, lazy
// loading attributes included.
func ImageSource(img *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
		if v, ok := img.Attr(attr); ok && v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	if set, ok := img.Attr("srcset"); ok {
		if first := strings.Fields(set); len(first) > 0 {
			return first[0]
		}
	}
	return ""
}

func text(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(sel.Find(selector).First().Text()), " ")
}
