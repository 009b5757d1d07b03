package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDepartmentFromPostalCode(t *testing.T) {
	tests := []struct {
		cp   string
		want string
	}{
		{"75017", "75"},
		{"33000", "33"},
		{"97400", "974"},
		{"97200", "972"},
		{"98800", "988"},
		{"20000", "2A"},
		{"20199", "2A"},
		{"20200", "2B"},
		{"20600", "2B"},
		{"01000", "01"},
		{"9", ""},
	}
	for _, tt := range tests {
		t.Run(tt.cp, func(t *testing.T) {
			assert.Equal(t, tt.want, DepartmentFromPostalCode(tt.cp))
		})
	}
}

func TestHaversine(t *testing.T) {
	// Paris to Lyon is roughly 392 km.
	d := Haversine(48.8566, 2.3522, 45.7640, 4.8357)
	assert.InDelta(t, 392, d, 5)
	assert.Equal(t, 0.0, Haversine(48.0, 2.0, 48.0, 2.0))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "saint-etienne", Slugify("Saint-Étienne"))
	assert.Equal(t, "l-hay-les-roses", Slugify("L'Haÿ-les-Roses"))
	assert.Equal(t, "paris-17e", Slugify("  Paris 17e "))
	assert.Equal(t, "aix-en-provence", Slugify("Aix en Provence"))
}

func TestStripArrondissement(t *testing.T) {
	assert.Equal(t, "Paris", StripArrondissement("Paris 17e"))
	assert.Equal(t, "Lyon", StripArrondissement("Lyon 1er"))
	assert.Equal(t, "Marseille", StripArrondissement("Marseille"))
}

func TestIsPostalCode(t *testing.T) {
	assert.True(t, IsPostalCode("75017"))
	assert.True(t, IsPostalCode(" 97400 "))
	assert.False(t, IsPostalCode("7501"))
	assert.False(t, IsPostalCode("Paris"))
}

func TestSearchTerms(t *testing.T) {
	assert.Equal(t, []string{"Lyon", "69001", "Lyon 69001", "69001 Lyon"}, SearchTerms("Lyon", "69001"))
	assert.Equal(t, []string{"Lyon"}, SearchTerms("Lyon", ""))
}
