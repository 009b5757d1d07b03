// Package filter removes listings published by professionals.
package filter

import (
	"strings"

	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/metrics"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

// DefaultAgencyKeywords mark a listing as published by an agency
var DefaultAgencyKeywords = []string{
	"agence",
	"immobilier",
	"immo",
	"real estate",
	"sarl",
	"sas",
	"eurl",
	"siret",
	"siren",
	"professional",
	"professionnel",
}

// AgencyFilter keeps private-seller listings only
type AgencyFilter struct {
	keywords []string
	log      logger.Logger
}

// NewAgencyFilter creates a filter over keywords, DefaultAgencyKeywords when empty
func NewAgencyFilter(keywords []string, log logger.Logger) *AgencyFilter {
	if len(keywords) == 0 {
		keywords = DefaultAgencyKeywords
	}
	lower := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lower = append(lower, k)
		}
	}
	return &AgencyFilter{
		keywords: lower,
		log:      logger.OrNop(log).WithFields(map[string]interface{}{"component": "agency_filter"}),
	}
}

// Keywords returns the lowercase keyword set
func (f *AgencyFilter) Keywords() []string {
	return append([]string(nil), f.keywords...)
}

// Match returns the first keyword found in the title or description
func (f *AgencyFilter) Match(l domain.Listing) (string, bool) {
	title := strings.ToLower(l.Title)
	description := strings.ToLower(l.Description)
	for _, k := range f.keywords {
		if strings.Contains(title, k) || strings.Contains(description, k) {
			return k, true
		}
	}
	return "", false
}

// IsAgency reports whether l was published by a professional, either
// flagged by its site or matched by a keyword
func (f *AgencyFilter) IsAgency(l domain.Listing) bool {
	if l.Annotations.Professional {
		return true
	}
	_, ok := f.Match(l)
	return ok
}

// Filter returns the private listings in order and the number removed
func (f *AgencyFilter) Filter(listings []domain.Listing) ([]domain.Listing, int) {
	out := make([]domain.Listing, 0, len(listings))
	removed := 0
	for _, l := range listings {
		reason := "site flag"
		if !l.Annotations.Professional {
			k, ok := f.Match(l)
			if !ok {
				out = append(out, l)
				continue
			}
			reason = "keyword " + k
		}
		removed++
		metrics.ListingsTotal.WithLabelValues(string(l.Source), "agency_removed").Inc()
		f.log.Debug("agency listing removed", map[string]interface{}{
			"source": l.Source,
			"url":    l.URL,
			"reason": reason,
		})
	}
	return out, removed
}
