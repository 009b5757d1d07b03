package dedup

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listing(source domain.SourceKey, url, title string, price int, location string) domain.Listing {
	return domain.Listing{Source: source, URL: url, Title: title, PriceEUR: price, LocationText: location}
}

// S4
func TestDeduplicate_CrossSource(t *testing.T) {
	in := []domain.Listing{
		listing(domain.SourcePap, "https://www.pap.fr/annonces/r1", "Studio Paris 17e", 250000, "Paris 17e (75017)"),
		listing(domain.SourcePap, "https://www.pap.fr/annonces/r2", "T3 Batignolles", 540000, "Paris 17e (75017)"),
		listing(domain.SourceParuvendu, "https://www.paruvendu.fr/a/9", "Studio Paris 17e", 250000, "Paris 17e (75017)"),
		listing(domain.SourceParuvendu, "https://www.pap.fr/annonces/r2", "T3 Batignolles!", 540000, "Paris 17e (75017)"),
	}
	res := Deduplicate(in)
	require.Len(t, res.Listings, 2)
	assert.Equal(t, domain.SourcePap, res.Listings[0].Source)
	assert.Equal(t, "https://www.pap.fr/annonces/r1", res.Listings[0].URL)
	assert.Equal(t, 1, res.URLDupes)
	assert.Equal(t, 1, res.ContentDupes)
}

func TestSignature(t *testing.T) {
	a := listing(domain.SourcePap, "u1", "Maison", 100, "Lyon")
	b := listing(domain.SourceFigaro, "u2", "Maison", 100, "Lyon")
	c := listing(domain.SourcePap, "u1", "Maison", 101, "Lyon")
	assert.Equal(t, Signature(a), Signature(b))
	assert.NotEqual(t, Signature(a), Signature(c))
	assert.Len(t, Signature(a), 32)
}

func randomListings(r *rand.Rand, n int) []domain.Listing {
	titles := []string{"Studio", "T2", "Maison", "Loft"}
	places := []string{"Paris (75017)", "Lyon (69001)"}
	out := make([]domain.Listing, n)
	for i := range out {
		out[i] = listing(
			domain.SourcePap,
			fmt.Sprintf("https://www.pap.fr/annonces/r%d", r.Intn(n/2+1)),
			titles[r.Intn(len(titles))],
			100000*(1+r.Intn(3)),
			places[r.Intn(len(places))],
		)
	}
	return out
}

func TestDedup_Idempotent(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		xs := randomListings(r, 1+r.Intn(40))
		assert.Equal(t, ByURL(xs), ByURL(ByURL(xs)))
		assert.Equal(t, BySignature(xs), BySignature(BySignature(xs)))
	}
}

func TestDedup_CompositionNeverLeavesDuplicates(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 50; i++ {
		xs := randomListings(r, 1+r.Intn(40))
		for _, out := range [][]domain.Listing{BySignature(ByURL(xs)), ByURL(BySignature(xs)), Deduplicate(xs).Listings} {
			urls := map[string]bool{}
			sigs := map[string]bool{}
			for _, l := range out {
				assert.False(t, urls[l.URL], "duplicate url")
				assert.False(t, sigs[Signature(l)], "duplicate signature")
				urls[l.URL] = true
				sigs[Signature(l)] = true
			}
		}
	}
}

// When a URL always carries the same advertisement, pass order does not matter.
func TestDedup_CompositionOrderInsensitive(t *testing.T) {
	r := rand.New(rand.NewSource(13))
	titles := []string{"Studio", "T2", "Maison"}
	for i := 0; i < 50; i++ {
		pool := make([]domain.Listing, 1+r.Intn(10))
		for j := range pool {
			pool[j] = listing(domain.SourcePap, fmt.Sprintf("https://www.pap.fr/annonces/r%d", j), titles[r.Intn(len(titles))], 100000, "Paris (75017)")
		}
		xs := make([]domain.Listing, 1+r.Intn(30))
		for j := range xs {
			xs[j] = pool[r.Intn(len(pool))]
		}
		assert.Equal(t, urlsOf(BySignature(ByURL(xs))), urlsOf(ByURL(BySignature(xs))))
	}
}

func urlsOf(xs []domain.Listing) []string {
	out := make([]string, 0, len(xs))
	for _, l := range xs {
		out = append(out, l.URL)
	}
	sort.Strings(out)
	return out
}
