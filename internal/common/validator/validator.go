// Package validator checks that listings are located where the user searched.
package validator

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/project-tktt/immo-crawler/internal/common/geo"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/metrics"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

// RadiusMargin widens the search radius for centroid imprecision
const RadiusMargin = 1.1

// Validation reasons, recorded on kept listings and counted on rejects
const (
	ReasonWithinRadius     = "within_radius"
	ReasonNoPostalCode     = "kept_no_postal_code"
	ReasonGeocodingFailed  = "geocoding_failed"
	ReasonNotChecked       = "not_checked"
	ReasonOutsideRadius    = "outside_radius"
	ReasonWrongDepartment  = "wrong_department"
	ReasonInferredStrict   = "inferred_strict"
	ReasonInferredNoPostal = "inferred_no_postal_code"
)

var (
	// "Paris 17e (75017)"
	nameThenCodeRe = regexp.MustCompile(`(\p{L}[\p{L}\d' .-]*?)\s*\(\s*(\d{5})\s*\)`)
	// "75017 Paris"
	codeThenNameRe = regexp.MustCompile(`\b(\d{5})\s+(\p{L}[\p{L}' -]*)`)
	loneCodeRe     = regexp.MustCompile(`\b(\d{5})\b`)
)

// PostalCodeResolver maps a postal code to its commune
type PostalCodeResolver interface {
	LookupPostalCode(ctx context.Context, cp string) (*domain.ResolvedLocation, error)
}

// SearchContext is what the user asked for
type SearchContext struct {
	Location domain.ResolvedLocation
	RadiusKm float64
}

// Assessment is the location read from a listing's text
type Assessment struct {
	Confidence domain.Confidence
	PostalCode string
	City       string
}

// Stats counts validation outcomes over one run
type Stats struct {
	Total                int `json:"total"`
	ValidWithDistance    int `json:"valid_with_distance"`
	ValidNoValidation    int `json:"valid_no_validation"`
	RejectedDistance     int `json:"rejected_distance"`
	RejectedNoPostalCode int `json:"rejected_no_postal_code"`
	RejectedInferred     int `json:"rejected_inferred"`
	RejectedDepartment   int `json:"rejected_department"`
}

// Rejected is the number of listings dropped
func (s Stats) Rejected() int {
	return s.RejectedDistance + s.RejectedNoPostalCode + s.RejectedInferred + s.RejectedDepartment
}

// Map returns the rejection counters keyed by reason
func (s Stats) Map() map[string]int {
	out := make(map[string]int)
	for k, v := range map[string]int{
		ReasonOutsideRadius:    s.RejectedDistance,
		ReasonInferredNoPostal: s.RejectedNoPostalCode,
		ReasonInferredStrict:   s.RejectedInferred,
		ReasonWrongDepartment:  s.RejectedDepartment,
	} {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// Validator assigns location confidence and rejects listings that are
// outside the searched department or radius
type Validator struct {
	resolver PostalCodeResolver
	strict   map[domain.SourceKey]bool
	log      logger.Logger
}

// New creates a validator. strict lists the sources whose inferred
// locations are rejected; resolver may be nil.
func New(resolver PostalCodeResolver, strict map[domain.SourceKey]bool, log logger.Logger) *Validator {
	return &Validator{
		resolver: resolver,
		strict:   strict,
		log:      logger.OrNop(log).WithFields(map[string]interface{}{"component": "validator"}),
	}
}

// Assess reads the location of text. The first matching rule wins:
// a search fallback is inferred, then name with code is high, a lone code
// is medium, the searched city name is medium or low.
func Assess(text string, fallback bool, sc SearchContext) Assessment {
	text = strings.TrimSpace(text)
	if fallback || text == "" || isSearchEcho(text, sc.Location) {
		return Assessment{Confidence: domain.ConfidenceInferred}
	}

	if m := nameThenCodeRe.FindStringSubmatch(text); m != nil {
		return Assessment{Confidence: domain.ConfidenceHigh, PostalCode: m[2], City: strings.TrimSpace(m[1])}
	}
	if m := codeThenNameRe.FindStringSubmatch(text); m != nil {
		return Assessment{Confidence: domain.ConfidenceHigh, PostalCode: m[1], City: strings.TrimSpace(m[2])}
	}
	if m := loneCodeRe.FindStringSubmatch(text); m != nil {
		return Assessment{Confidence: domain.ConfidenceMedium, PostalCode: m[1]}
	}

	if city := geo.Slugify(geo.StripArrondissement(sc.Location.City)); city != "" {
		slug := "-" + geo.Slugify(text) + "-"
		if strings.Contains(slug, "-"+city+"-") {
			// The code is recoverable when the commune has only one
			if len(sc.Location.PostalCodes) == 1 {
				return Assessment{Confidence: domain.ConfidenceMedium, PostalCode: sc.Location.PostalCodes[0], City: sc.Location.City}
			}
			return Assessment{Confidence: domain.ConfidenceLow, City: sc.Location.City}
		}
	}
	return Assessment{Confidence: domain.ConfidenceInferred}
}

func isSearchEcho(text string, loc domain.ResolvedLocation) bool {
	s := geo.Slugify(text)
	if s == "" {
		return false
	}
	return s == geo.Slugify(loc.City) || s == geo.Slugify(loc.Query)
}

// Validate annotates and filters listings. Order is preserved.
func (v *Validator) Validate(ctx context.Context, listings []domain.Listing, sc SearchContext) ([]domain.Listing, Stats) {
	stats := Stats{Total: len(listings)}
	lookups := make(map[string]*domain.ResolvedLocation)
	out := make([]domain.Listing, 0, len(listings))

	for _, l := range listings {
		reason, ok := v.check(ctx, &l, sc, lookups)
		if !ok {
			switch reason {
			case ReasonWrongDepartment:
				stats.RejectedDepartment++
			case ReasonInferredStrict:
				stats.RejectedInferred++
			case ReasonInferredNoPostal:
				stats.RejectedNoPostalCode++
			default:
				stats.RejectedDistance++
			}
			v.log.Debug("listing rejected", map[string]interface{}{
				"source":   l.Source,
				"url":      l.URL,
				"location": l.LocationText,
				"reason":   reason,
			})
			metrics.ListingsTotal.WithLabelValues(string(l.Source), "location_rejected").Inc()
			continue
		}
		if l.Annotations.GeoDistanceKm != nil {
			stats.ValidWithDistance++
		} else {
			stats.ValidNoValidation++
		}
		out = append(out, l)
	}
	return out, stats
}

// check fills the geo annotations of l and decides whether it is kept
func (v *Validator) check(ctx context.Context, l *domain.Listing, sc SearchContext, lookups map[string]*domain.ResolvedLocation) (string, bool) {
	a := Assess(l.LocationText, l.Annotations.LocationFallback, sc)
	ann := &l.Annotations
	ann.GeoConfidence = a.Confidence
	ann.GeoPostalCode = a.PostalCode
	ann.GeoDepartment = geo.DepartmentFromPostalCode(a.PostalCode)
	ann.ExpectedDepartment = sc.Location.Department
	if ann.ExpectedDepartment == "" {
		ann.ExpectedDepartment = geo.DepartmentFromPostalCode(sc.Location.PostalCode)
	}
	ann.GeoDistanceKm = nil

	reason, ok := v.decide(ctx, l, sc, lookups)
	ann.GeoReason = reason
	return reason, ok
}

func (v *Validator) decide(ctx context.Context, l *domain.Listing, sc SearchContext, lookups map[string]*domain.ResolvedLocation) (string, bool) {
	ann := &l.Annotations
	if ann.GeoDepartment != "" && ann.ExpectedDepartment != "" && ann.GeoDepartment != ann.ExpectedDepartment {
		return ReasonWrongDepartment, false
	}
	if ann.GeoConfidence == domain.ConfidenceInferred && v.strict[l.Source] {
		return ReasonInferredStrict, false
	}

	target := sc.Location.Coords
	if target == nil || sc.RadiusKm <= 0 {
		return ReasonNotChecked, true
	}
	if ann.GeoPostalCode == "" {
		if ann.GeoConfidence == domain.ConfidenceInferred {
			return ReasonInferredNoPostal, false
		}
		return ReasonNoPostalCode, true
	}

	loc := v.lookup(ctx, ann.GeoPostalCode, lookups)
	if loc == nil || loc.Coords == nil {
		return ReasonGeocodingFailed, true
	}
	d := geo.Haversine(target.Lat, target.Lon, loc.Coords.Lat, loc.Coords.Lon)
	rounded := math.Round(d*10) / 10
	ann.GeoDistanceKm = &rounded
	if d > sc.RadiusKm*RadiusMargin {
		return ReasonOutsideRadius, false
	}
	return ReasonWithinRadius, true
}

func (v *Validator) lookup(ctx context.Context, cp string, lookups map[string]*domain.ResolvedLocation) *domain.ResolvedLocation {
	if loc, ok := lookups[cp]; ok {
		return loc
	}
	var loc *domain.ResolvedLocation
	if v.resolver != nil {
		var err error
		loc, err = v.resolver.LookupPostalCode(ctx, cp)
		if err != nil {
			v.log.Debug("postal code lookup failed", map[string]interface{}{"postal_code": cp, "error": err.Error()})
			loc = nil
		}
	}
	lookups[cp] = loc
	return loc
}
