// Package moduletest builds adapter dependencies against local test servers.
package moduletest

import (
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/project-tktt/immo-crawler/internal/common/headers"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/ratelimit"
	"github.com/project-tktt/immo-crawler/internal/common/transport"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module"
	"github.com/project-tktt/immo-crawler/internal/module/registry"
)

var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// NewDeps returns deps for key whose base URL is baseURL. Pacing runs on a
// manual clock, so tests never sleep.
func NewDeps(t testing.TB, key domain.SourceKey, baseURL string) module.Deps {
	profile := registry.FallbackProfile(key)
	for _, p := range registry.DefaultProfiles() {
		if p.Key == key {
			profile = p
		}
	}
	profile.BaseURL = baseURL + "/"

	clock := ratelimit.NewManualClock(Epoch)
	log := logger.NewTestLogger(t)
	gate := ratelimit.NewController(profile.RateConfig(0),
		ratelimit.WithClock(clock),
		ratelimit.WithRand(rand.New(rand.NewSource(1))),
		ratelimit.WithLogger(log),
	)
	session := transport.NewSession(transport.Config{
		Source:  string(key),
		Timeout: 5 * time.Second,
		Headers: headers.NewFactory(headers.WithRand(rand.New(rand.NewSource(1)))),
		Gate:    gate,
		Base:    &http.Transport{DisableCompression: true},
		Clock:   clock,
		Rand:    rand.New(rand.NewSource(1)),
		Logger:  log,
	})
	return module.Deps{
		Profile: profile,
		Session: session,
		Gate:    gate,
		Logger:  log,
	}
}

// Location is a resolved Paris 17e used by adapter tests
func Location() domain.ResolvedLocation {
	return domain.ResolvedLocation{
		Query:       "75017",
		City:        "Paris",
		PostalCode:  "75017",
		PostalCodes: []string{"75017"},
		Department:  "75",
		Coords:      &domain.Coordinates{Lat: 48.887, Lon: 2.319},
		Slug:        "paris",
		SearchTerms: []string{"Paris", "75017", "Paris 75017", "75017 Paris"},
	}
}
