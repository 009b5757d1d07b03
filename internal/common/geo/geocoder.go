package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/project-tktt/immo-crawler/internal/common/errors"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

const communeFields = "nom,code,codesPostaux,centre,codeDepartement,population"

// Commune is one entry of the geographic directory
type Commune struct {
	Name           string   `json:"nom"`
	INSEE          string   `json:"code"`
	PostalCodes    []string `json:"codesPostaux"`
	DepartmentCode string   `json:"codeDepartement"`
	Population     int      `json:"population"`
	Centre         *struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"` // [lon, lat]
	} `json:"centre,omitempty"`
}

// Coords returns the commune centroid, or nil
func (c Commune) Coords() *domain.Coordinates {
	if c.Centre == nil || len(c.Centre.Coordinates) < 2 {
		return nil
	}
	return &domain.Coordinates{Lat: c.Centre.Coordinates[1], Lon: c.Centre.Coordinates[0]}
}

// Config configures a Geocoder
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Client    *http.Client
	Cache     Cache
	Logger    logger.Logger
}

// Geocoder resolves free-text location queries against the communes directory
type Geocoder struct {
	baseURL   string
	userAgent string
	client    *http.Client
	cache     Cache
	log       logger.Logger
}

// NewGeocoder creates a geocoder with a process-scoped cache unless one is given
func NewGeocoder(cfg Config) *Geocoder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://geo.api.gouv.fr"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	return &Geocoder{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		client:    cfg.Client,
		cache:     cfg.Cache,
		log:       logger.OrNop(cfg.Logger).WithFields(map[string]interface{}{"component": "geocoder"}),
	}
}

// Resolve never fails: when the directory is unreachable or has no match the
// result is degraded to the slugified query and a best-effort department.
func (g *Geocoder) Resolve(ctx context.Context, query string) domain.ResolvedLocation {
	query = strings.TrimSpace(query)
	if loc, ok := g.cache.Get(ctx, "q:"+query); ok {
		return *loc
	}

	var (
		commune *Commune
		err     error
	)
	if IsPostalCode(query) {
		commune, err = g.ByPostalCode(ctx, query)
	} else {
		commune, err = g.ByName(ctx, query)
	}
	if err != nil || commune == nil {
		fields := map[string]interface{}{"query": query}
		if err != nil {
			fields["error"] = err.Error()
		}
		g.log.Warn("location degraded to query slug", fields)
		return degraded(query)
	}

	cp := ""
	if IsPostalCode(query) {
		cp = query
	} else if len(commune.PostalCodes) > 0 {
		cp = commune.PostalCodes[0]
	}
	loc := toResolved(query, commune, cp)
	g.cache.Set(ctx, "q:"+query, loc)
	return loc
}

// LookupPostalCode resolves a listing postal code, cached separately from queries
func (g *Geocoder) LookupPostalCode(ctx context.Context, cp string) (*domain.ResolvedLocation, error) {
	if loc, ok := g.cache.Get(ctx, "cp:"+cp); ok {
		return loc, nil
	}
	commune, err := g.ByPostalCode(ctx, cp)
	if err != nil {
		return nil, err
	}
	if commune == nil {
		return nil, nil
	}
	loc := toResolved(cp, commune, cp)
	g.cache.Set(ctx, "cp:"+cp, loc)
	return &loc, nil
}

// ByPostalCode returns the most populated commune served by cp
func (g *Geocoder) ByPostalCode(ctx context.Context, cp string) (*Commune, error) {
	communes, err := g.fetch(ctx, "/communes", url.Values{
		"codePostal": {cp},
		"fields":     {communeFields},
	})
	if err != nil {
		return nil, err
	}
	return pickCommune(communes, ""), nil
}

// ByName returns the exact case-insensitive match, else the most populated candidate
func (g *Geocoder) ByName(ctx context.Context, name string) (*Commune, error) {
	clean := StripArrondissement(name)
	if clean == "" {
		clean = strings.TrimSpace(name)
	}
	communes, err := g.fetch(ctx, "/communes", url.Values{
		"nom":    {clean},
		"fields": {communeFields},
		"boost":  {"population"},
		"limit":  {"5"},
	})
	if err != nil {
		return nil, err
	}
	return pickCommune(communes, clean), nil
}

// Nearby lists communes around a point
func (g *Geocoder) Nearby(ctx context.Context, lat, lon float64, limit int) ([]Commune, error) {
	if limit <= 0 {
		limit = 50
	}
	return g.fetch(ctx, "/communes", url.Values{
		"lat":    {fmt.Sprintf("%f", lat)},
		"lon":    {fmt.Sprintf("%f", lon)},
		"fields": {communeFields},
		"limit":  {fmt.Sprintf("%d", limit)},
	})
}

// DepartmentCommunes lists the communes of a department
func (g *Geocoder) DepartmentCommunes(ctx context.Context, department string) ([]Commune, error) {
	return g.fetch(ctx, "/departements/"+url.PathEscape(department)+"/communes", url.Values{
		"fields": {"nom,codesPostaux"},
	})
}

func (g *Geocoder) fetch(ctx context.Context, path string, params url.Values) ([]Commune, error) {
	endpoint := g.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, apperrors.NewGeocodingUnavailableError(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewGeocodingUnavailableError(endpoint, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	var communes []Commune
	if err := json.Unmarshal(body, &communes); err != nil {
		return nil, fmt.Errorf("parse communes: %w", err)
	}
	return communes, nil
}

func pickCommune(communes []Commune, name string) *Commune {
	if len(communes) == 0 {
		return nil
	}
	if name != "" {
		for i := range communes {
			if strings.EqualFold(communes[i].Name, name) {
				return &communes[i]
			}
		}
	}
	best := 0
	for i := range communes {
		if communes[i].Population > communes[best].Population {
			best = i
		}
	}
	return &communes[best]
}

func toResolved(query string, c *Commune, cp string) domain.ResolvedLocation {
	dept := DepartmentFromPostalCode(cp)
	if dept == "" {
		dept = c.DepartmentCode
	}
	return domain.ResolvedLocation{
		Query:       query,
		City:        c.Name,
		PostalCode:  cp,
		PostalCodes: c.PostalCodes,
		Department:  dept,
		INSEE:       c.INSEE,
		Coords:      c.Coords(),
		Population:  c.Population,
		Slug:        Slugify(c.Name),
		SearchTerms: SearchTerms(c.Name, cp),
	}
}

func degraded(query string) domain.ResolvedLocation {
	loc := domain.ResolvedLocation{
		Query:       query,
		City:        query,
		Slug:        Slugify(query),
		SearchTerms: []string{query},
		Degraded:    true,
	}
	if IsPostalCode(query) {
		loc.Department = DepartmentFromPostalCode(query)
	}
	return loc
}
