package filter

import (
	"strings"
	"testing"

	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/stretchr/testify/assert"
)

func createTestFilter(t *testing.T) *AgencyFilter {
	return NewAgencyFilter(nil, logger.NewTestLogger(t))
}

func listing(title, description string) domain.Listing {
	return domain.Listing{Title: title, Description: description, URL: "https://www.pap.fr/" + title, Source: domain.SourcePap}
}

// S5
func TestFilter_RemovesAgencyTitle(t *testing.T) {
	f := createTestFilter(t)
	l := listing("AGENCE IMMO PARIS - T3", "")
	l.Annotations.GeoConfidence = domain.ConfidenceHigh

	out, removed := f.Filter([]domain.Listing{l, listing("T3 lumineux", "Vends mon appartement")})
	assert.Equal(t, 1, removed)
	assert.Len(t, out, 1)
	assert.Equal(t, "T3 lumineux", out[0].Title)
}

func TestFilter_DescriptionAndFlag(t *testing.T) {
	f := createTestFilter(t)
	pro := listing("Maison 5 pièces", "")
	pro.Annotations.Professional = true

	out, removed := f.Filter([]domain.Listing{
		listing("Maison", "Contactez notre cabinet, SIRET 123"),
		listing("Studio", "Honoraires Real Estate inclus"),
		pro,
		listing("Duplex", "Particulier vend duplex"),
	})
	assert.Equal(t, 3, removed)
	assert.Len(t, out, 1)
	assert.Equal(t, "Duplex", out[0].Title)
}

func TestMatch(t *testing.T) {
	f := NewAgencyFilter([]string{" Mandataire ", ""}, nil)
	k, ok := f.Match(listing("Appartement", "MANDATAIRE indépendant"))
	assert.True(t, ok)
	assert.Equal(t, "mandataire", k)
	_, ok = f.Match(listing("Appartement", "agence"))
	assert.False(t, ok)
	assert.Equal(t, []string{"mandataire"}, f.Keywords())
}

// No output listing contains a keyword in its title or description.
func TestFilter_Coverage(t *testing.T) {
	f := createTestFilter(t)
	var in []domain.Listing
	for _, k := range DefaultAgencyKeywords {
		in = append(in,
			listing("Bel appartement "+strings.ToUpper(k), ""),
			listing("Maison", "Vendu par "+strings.ToUpper(k[:1])+k[1:]),
		)
	}
	in = append(in, listing("Maison de ville", "Vends maison"), listing("Terrain", ""))

	out, removed := f.Filter(in)
	assert.Equal(t, len(in)-2, removed)
	for _, l := range out {
		for _, k := range DefaultAgencyKeywords {
			assert.NotContains(t, strings.ToLower(l.Title), k)
			assert.NotContains(t, strings.ToLower(l.Description), k)
		}
	}
}
