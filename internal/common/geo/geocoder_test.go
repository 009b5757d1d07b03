package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const communesByName = `[
  {"nom":"Saint-Denis","code":"93066","codesPostaux":["93200","93210"],"codeDepartement":"93","population":113000,"centre":{"type":"Point","coordinates":[2.3574,48.9362]}},
  {"nom":"Saint-Denis","code":"97411","codesPostaux":["97400","97490"],"codeDepartement":"974","population":153000,"centre":{"type":"Point","coordinates":[55.4481,-20.8823]}}
]`

const communesByCP = `[
  {"nom":"Petite Commune","code":"00001","codesPostaux":["75017"],"codeDepartement":"75","population":10,"centre":{"type":"Point","coordinates":[2.30,48.88]}},
  {"nom":"Paris","code":"75056","codesPostaux":["75001","75017"],"codeDepartement":"75","population":2100000,"centre":{"type":"Point","coordinates":[2.319,48.887]}}
]`

func createTestDirectory(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case q.Get("codePostal") == "75017":
			_, _ = w.Write([]byte(communesByCP))
		case q.Get("nom") == "Saint-Denis":
			_, _ = w.Write([]byte(communesByName))
		case q.Get("nom") == "Paris":
			_, _ = w.Write([]byte(`[{"nom":"Paris","code":"75056","codesPostaux":["75001"],"codeDepartement":"75","population":2100000}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolve_PostalCodePicksMostPopulated(t *testing.T) {
	var hits int32
	srv := createTestDirectory(t, &hits)
	g := NewGeocoder(Config{BaseURL: srv.URL})

	loc := g.Resolve(context.Background(), "75017")

	assert.Equal(t, "Paris", loc.City)
	assert.Equal(t, "75017", loc.PostalCode)
	assert.Equal(t, "75", loc.Department)
	require.NotNil(t, loc.Coords)
	assert.InDelta(t, 48.887, loc.Coords.Lat, 1e-6)
	assert.InDelta(t, 2.319, loc.Coords.Lon, 1e-6)
	assert.Equal(t, "paris", loc.Slug)
	assert.False(t, loc.Degraded)
}

func TestResolve_NameExactMatchThenPopulation(t *testing.T) {
	var hits int32
	srv := createTestDirectory(t, &hits)
	g := NewGeocoder(Config{BaseURL: srv.URL})

	loc := g.Resolve(context.Background(), "Saint-Denis")
	assert.Equal(t, "Saint-Denis", loc.City)
	assert.Equal(t, "93200", loc.PostalCode)
	assert.Equal(t, "93", loc.Department)

	loc = g.Resolve(context.Background(), "Paris 17e")
	assert.Equal(t, "Paris", loc.City)
	assert.Equal(t, "75", loc.Department)
}

func TestResolve_CachesByRawQuery(t *testing.T) {
	var hits int32
	srv := createTestDirectory(t, &hits)
	g := NewGeocoder(Config{BaseURL: srv.URL})

	g.Resolve(context.Background(), "75017")
	g.Resolve(context.Background(), "75017")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestResolve_DegradesWhenUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	g := NewGeocoder(Config{BaseURL: srv.URL})

	loc := g.Resolve(context.Background(), "97400")
	assert.True(t, loc.Degraded)
	assert.Equal(t, "974", loc.Department)
	assert.Equal(t, "97400", loc.Slug)
	assert.Nil(t, loc.Coords)

	loc = g.Resolve(context.Background(), "Saint Malo")
	assert.True(t, loc.Degraded)
	assert.Equal(t, "saint-malo", loc.Slug)
	assert.Empty(t, loc.Department)
}

func TestPickCommune(t *testing.T) {
	communes := []Commune{
		{Name: "Villeneuve", Population: 500},
		{Name: "Villeneuve-sur-Lot", Population: 22000},
		{Name: "Villeneuve-d'Ascq", Population: 62000},
	}
	assert.Equal(t, "Villeneuve", pickCommune(communes, "villeneuve").Name)
	assert.Equal(t, "Villeneuve-d'Ascq", pickCommune(communes, "Villeneuve les Bois").Name)
	assert.Nil(t, pickCommune(nil, "x"))
}

func TestLookupPostalCode_UnknownReturnsNil(t *testing.T) {
	var hits int32
	srv := createTestDirectory(t, &hits)
	g := NewGeocoder(Config{BaseURL: srv.URL})

	loc, err := g.LookupPostalCode(context.Background(), "12345")
	require.NoError(t, err)
	assert.Nil(t, loc)
}

func TestTieredCache_RedisBackfill(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	shared := NewRedisCache(client, "test:geo", time.Hour)

	var hits int32
	srv := createTestDirectory(t, &hits)
	first := NewGeocoder(Config{BaseURL: srv.URL, Cache: NewTieredCache(NewMemoryCache(), shared)})
	first.Resolve(context.Background(), "75017")

	local := NewMemoryCache()
	second := NewGeocoder(Config{BaseURL: srv.URL, Cache: NewTieredCache(local, shared)})
	loc := second.Resolve(context.Background(), "75017")

	assert.Equal(t, "Paris", loc.City)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, 1, local.Len())
	assert.True(t, mr.Exists("test:geo:q:75017"))
}
