package geo

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// EarthRadiusKm is the sphere radius used for great-circle distances
const EarthRadiusKm = 6371.0

var (
	postalCodeRe   = regexp.MustCompile(`^\d{5}$`)
	arrondissement = regexp.MustCompile(`\s*\d+e?r?\s*$`)
	nonSlugRe      = regexp.MustCompile(`[^a-z0-9]+`)
)

// IsPostalCode reports whether s is exactly five digits
func IsPostalCode(s string) bool {
	return postalCodeRe.MatchString(strings.TrimSpace(s))
}

// DepartmentFromPostalCode derives the department code of a French postal code.
// Overseas codes keep three digits, Corsica splits 20xxx into 2A and 2B.
func DepartmentFromPostalCode(cp string) string {
	cp = strings.TrimSpace(cp)
	if len(cp) < 2 {
		return ""
	}
	switch {
	case strings.HasPrefix(cp, "97"), strings.HasPrefix(cp, "98"):
		if len(cp) < 3 {
			return ""
		}
		return cp[:3]
	case strings.HasPrefix(cp, "20"):
		n, err := strconv.Atoi(cp)
		if err != nil {
			return "20"
		}
		if n < 20200 {
			return "2A"
		}
		return "2B"
	}
	return cp[:2]
}

// Haversine returns the great-circle distance in km between two points
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Slugify lowercases, strips accents and joins words with dashes.
// "Saint-Étienne" becomes "saint-etienne", "L'Haÿ-les-Roses" "l-hay-les-roses".
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(strings.TrimSpace(folded))
	return strings.Trim(nonSlugRe.ReplaceAllString(folded, "-"), "-")
}

// StripArrondissement removes a trailing arrondissement number ("Paris 17e" -> "Paris")
func StripArrondissement(name string) string {
	return strings.TrimSpace(arrondissement.ReplaceAllString(name, ""))
}

// SearchTerms lists the textual forms a site may use for a location
func SearchTerms(city, cp string) []string {
	if cp == "" {
		return []string{city}
	}
	return []string{city, cp, city + " " + cp, cp + " " + city}
}
