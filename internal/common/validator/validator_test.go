package validator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/project-tktt/immo-crawler/internal/common/geo"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver map[string]*domain.Coordinates

func (f fakeResolver) LookupPostalCode(_ context.Context, cp string) (*domain.ResolvedLocation, error) {
	if cp == "75000" {
		return nil, errors.New("directory down")
	}
	c, ok := f[cp]
	if !ok {
		return nil, nil
	}
	return &domain.ResolvedLocation{PostalCode: cp, Department: geo.DepartmentFromPostalCode(cp), Coords: c}, nil
}

var communes = fakeResolver{
	"75017": {Lat: 48.887, Lon: 2.319},
	"75008": {Lat: 48.872, Lon: 2.312},
	"75019": {Lat: 48.887, Lon: 2.384},
	"33000": {Lat: 44.837, Lon: -0.579},
	"97400": {Lat: -20.882, Lon: 55.450},
	"97411": {Lat: -21.009, Lon: 55.270},
	"93200": {Lat: 48.936, Lon: 2.357},
}

func paris17() SearchContext {
	return SearchContext{
		Location: domain.ResolvedLocation{
			Query:       "75017",
			City:        "Paris 17e Arrondissement",
			PostalCode:  "75017",
			PostalCodes: []string{"75017"},
			Department:  "75",
			Coords:      &domain.Coordinates{Lat: 48.887, Lon: 2.319},
			Slug:        "paris-17e-arrondissement",
		},
		RadiusKm: 5,
	}
}

func saintDenisReunion() SearchContext {
	return SearchContext{
		Location: domain.ResolvedLocation{
			Query:       "97400",
			City:        "Saint-Denis",
			PostalCode:  "97400",
			PostalCodes: []string{"97400", "97490"},
			Department:  "974",
			Coords:      &domain.Coordinates{Lat: -20.882, Lon: 55.450},
		},
		RadiusKm: 10,
	}
}

func createTestValidator(t *testing.T, strict ...domain.SourceKey) *Validator {
	s := make(map[domain.SourceKey]bool)
	for _, k := range strict {
		s[k] = true
	}
	return New(communes, s, logger.NewTestLogger(t))
}

func listing(source domain.SourceKey, title, location string) domain.Listing {
	return domain.Listing{
		Title:        title,
		PriceEUR:     100000,
		LocationText: location,
		URL:          "https://example.fr/" + geo.Slugify(title+" "+location),
		Source:       source,
	}
}

func TestAssess(t *testing.T) {
	sc := paris17()
	tests := []struct {
		text string
		want Assessment
	}{
		{"Paris 17e (75017)", Assessment{domain.ConfidenceHigh, "75017", "Paris 17e"}},
		{"75017 Paris", Assessment{domain.ConfidenceHigh, "75017", "Paris"}},
		{"Appartement - 75008", Assessment{Confidence: domain.ConfidenceMedium, PostalCode: "75008"}},
		{"Quartier Batignolles, Paris 17e Arrondissement, proche métro", Assessment{domain.ConfidenceMedium, "75017", "Paris 17e Arrondissement"}},
		{"Paris 17e Arrondissement", Assessment{Confidence: domain.ConfidenceInferred}},
		{"75017", Assessment{Confidence: domain.ConfidenceInferred}},
		{"Île-de-France", Assessment{Confidence: domain.ConfidenceInferred}},
		{"", Assessment{Confidence: domain.ConfidenceInferred}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Assess(tt.text, false, sc))
		})
	}
}

func TestAssess_CityWithManyPostalCodesIsLow(t *testing.T) {
	sc := saintDenisReunion()
	a := Assess("Centre-ville de Saint-Denis", false, sc)
	assert.Equal(t, domain.ConfidenceLow, a.Confidence)
	assert.Empty(t, a.PostalCode)
}

func TestAssess_FallbackIsInferred(t *testing.T) {
	a := Assess("Paris 17e (75017)", true, paris17())
	assert.Equal(t, domain.ConfidenceInferred, a.Confidence)
}

func TestAssess_Deterministic(t *testing.T) {
	sc := paris17()
	texts := []string{"Paris 17e (75017)", "75008", "Paris 17e Arrondissement", "Lyon", "33000 Bordeaux", "Paris 17e Arrondissement centre"}
	for _, text := range texts {
		first := Assess(text, false, sc)
		for i := 0; i < 20; i++ {
			assert.Equal(t, first, Assess(text, false, sc), text)
		}
	}
}

// S1
func TestValidate_PostalCodeOverride(t *testing.T) {
	v := createTestValidator(t, domain.SourcePap)
	in := []domain.Listing{
		listing(domain.SourcePap, "Studio Paris 17e", "Paris 17e (75017)"),
		listing(domain.SourcePap, "Maison Bordeaux", "Bordeaux (33000)"),
	}
	in[0].PriceEUR = 250000

	out, stats := v.Validate(context.Background(), in, paris17())
	require.Len(t, out, 1)
	assert.Equal(t, 250000, out[0].PriceEUR)
	assert.Equal(t, domain.ConfidenceHigh, out[0].Annotations.GeoConfidence)
	assert.Equal(t, "75017", out[0].Annotations.GeoPostalCode)
	assert.Equal(t, ReasonWithinRadius, out[0].Annotations.GeoReason)
	require.NotNil(t, out[0].Annotations.GeoDistanceKm)
	assert.Equal(t, 0.0, *out[0].Annotations.GeoDistanceKm)
	assert.Equal(t, 1, stats.RejectedDepartment)
	assert.Equal(t, 1, stats.ValidWithDistance)
}

// S2
func TestValidate_OverseasDepartment(t *testing.T) {
	v := createTestValidator(t)
	in := []domain.Listing{
		listing(domain.SourceLeboncoin, "T2 vue mer", "Saint-Denis (93200)"),
		listing(domain.SourceLeboncoin, "Case créole", "Saint-Denis (97400)"),
	}
	out, stats := v.Validate(context.Background(), in, saintDenisReunion())
	require.Len(t, out, 1)
	assert.Equal(t, "97400", out[0].Annotations.GeoPostalCode)
	assert.Equal(t, "974", out[0].Annotations.GeoDepartment)
	assert.Equal(t, 1, stats.RejectedDepartment)
}

// S3
func TestValidate_StrictRejectsInferred(t *testing.T) {
	v := createTestValidator(t, domain.SourcePap)
	sc := paris17()
	sc.Location.City = "Paris"
	in := []domain.Listing{listing(domain.SourcePap, "Appartement", "Paris")}

	out, stats := v.Validate(context.Background(), in, sc)
	assert.Empty(t, out)
	assert.Equal(t, 1, stats.RejectedInferred)
	assert.Equal(t, map[string]int{ReasonInferredStrict: 1}, stats.Map())
}

func TestValidate_InferredWithoutPostalCodeRejectedWhenCheckable(t *testing.T) {
	v := createTestValidator(t)
	in := []domain.Listing{listing(domain.SourceParuvendu, "Maison", "Paris 17e Arrondissement")}

	out, stats := v.Validate(context.Background(), in, paris17())
	assert.Empty(t, out)
	assert.Equal(t, 1, stats.RejectedNoPostalCode)

	// no target coordinates: benefit of the doubt
	sc := paris17()
	sc.Location.Coords = nil
	out, stats = v.Validate(context.Background(), in, sc)
	require.Len(t, out, 1)
	assert.Equal(t, ReasonNotChecked, out[0].Annotations.GeoReason)
	assert.Equal(t, 1, stats.ValidNoValidation)
}

func TestValidate_BenefitOfTheDoubt(t *testing.T) {
	v := createTestValidator(t)
	sc := paris17()
	sc.Location.PostalCodes = []string{"75017", "75117"}
	in := []domain.Listing{
		// low, no code
		listing(domain.SourcePap, "Loft", "Paris 17e Arrondissement - Batignolles"),
		// code unknown to the directory
		listing(domain.SourcePap, "Studio", "Paris (75099)"),
		// directory failure
		listing(domain.SourcePap, "Duplex", "Paris (75000)"),
	}

	out, stats := v.Validate(context.Background(), in, sc)
	require.Len(t, out, 3)
	assert.Equal(t, ReasonNoPostalCode, out[0].Annotations.GeoReason)
	assert.Equal(t, ReasonGeocodingFailed, out[1].Annotations.GeoReason)
	assert.Equal(t, ReasonGeocodingFailed, out[2].Annotations.GeoReason)
	assert.Equal(t, 3, stats.ValidNoValidation)
}

func TestValidate_RadiusBound(t *testing.T) {
	v := createTestValidator(t)
	sc := paris17()
	sc.RadiusKm = 2
	// 75019 is about 4.8 km from 75017, 75008 about 1.7 km
	in := []domain.Listing{
		listing(domain.SourcePap, "A", "Paris (75019)"),
		listing(domain.SourcePap, "B", "Paris (75008)"),
	}
	out, stats := v.Validate(context.Background(), in, sc)
	require.Len(t, out, 1)
	assert.Equal(t, "75008", out[0].Annotations.GeoPostalCode)
	assert.Equal(t, 1, stats.RejectedDistance)

	for _, l := range out {
		c := communes[l.Annotations.GeoPostalCode]
		d := geo.Haversine(sc.Location.Coords.Lat, sc.Location.Coords.Lon, c.Lat, c.Lon)
		assert.LessOrEqual(t, d, sc.RadiusKm*RadiusMargin)
	}
}

// Strict sources never yield inferred listings; department always matches.
func TestValidate_OutputIsAnnotatedAndBounded(t *testing.T) {
	v := createTestValidator(t, domain.SourcePap, domain.SourceLeboncoin)
	texts := []string{
		"Paris 17e (75017)", "Paris", "75017", "Bordeaux (33000)", "97411 Saint-Pierre",
		"Paris 17e Arrondissement", "Appartement 75008", "", "Lyon", "Saint-Denis (93200)",
	}
	var in []domain.Listing
	for i, text := range texts {
		for _, src := range []domain.SourceKey{domain.SourcePap, domain.SourceLeboncoin, domain.SourceParuvendu} {
			in = append(in, listing(src, fmt.Sprintf("annonce %d", i), text))
		}
	}

	for _, sc := range []SearchContext{paris17(), saintDenisReunion()} {
		out, stats := v.Validate(context.Background(), in, sc)
		assert.Equal(t, len(in), len(out)+stats.Rejected())
		for _, l := range out {
			if l.Source == domain.SourcePap || l.Source == domain.SourceLeboncoin {
				assert.NotEqual(t, domain.ConfidenceInferred, l.Annotations.GeoConfidence, l.LocationText)
			}
			if l.Annotations.GeoDepartment != "" {
				assert.Equal(t, sc.Location.Department, l.Annotations.GeoDepartment, l.LocationText)
			}
		}
	}
}
