package pap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module/moduletest"
)

const page1 = `<html><body>
<div class="search-list-item">
  <a class="item-title" href="/annonces/appartement-paris-17e-r1"><span class="item-title">Studio Paris 17e 25 m²</span></a>
  <span class="item-price">250.000 €</span>
  <span class="item-location">Paris 17e (75017)</span>
  <img src="/photos/r1.jpg">
</div>
<div class="search-list-item">
  <a class="item-title" href="/annonces/maison-bordeaux-r2"><span class="item-title">Maison 5 pièces</span></a>
  <span class="item-price">450.000 €</span>
</div>
</body></html>`

func TestCrawler_Scrape(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.RequestURI())
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.RequestURI() {
		case "/":
			io.WriteString(w, "<html><body>home</body></html>")
		case "/annonce/vente-immobilier-paris":
			io.WriteString(w, page1)
		default:
			io.WriteString(w, "<html><body>no results</body></html>")
		}
	}))
	defer srv.Close()

	c := NewCrawler(moduletest.NewDeps(t, domain.SourcePap, srv.URL))
	assert.Equal(t, domain.SourcePap, c.Key())
	assert.Equal(t, "pap.fr", c.Name())

	got := c.Scrape(context.Background(), moduletest.Location(), 5, 3)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"/", "/annonce/vente-immobilier-paris", "/annonce/vente-immobilier-paris?p=2"}, paths)

	assert.Equal(t, srv.URL+"/annonces/appartement-paris-17e-r1", got[0].URL)
	assert.Equal(t, "Paris 17e (75017)", got[0].LocationText)
	assert.Equal(t, []string{srv.URL + "/photos/r1.jpg"}, got[0].Photos)
	assert.False(t, got[0].LocationFallback)

	assert.Equal(t, "Paris", got[1].LocationText)
	assert.True(t, got[1].LocationFallback)
}

func TestCrawler_FallsBackToPostalCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.RequestURI() {
		case "/annonce/vente-immobilier-paris":
			w.WriteHeader(http.StatusForbidden)
		case "/annonce/vente-immobilier-75017":
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, page1)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	got := NewCrawler(moduletest.NewDeps(t, domain.SourcePap, srv.URL)).Scrape(context.Background(), moduletest.Location(), 5, 1)
	assert.Len(t, got, 2)
}
