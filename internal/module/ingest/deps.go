package ingest

import (
	"net/http"
	"time"

	"github.com/project-tktt/immo-crawler/internal/common/headers"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/ratelimit"
	"github.com/project-tktt/immo-crawler/internal/common/transport"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module"
	"github.com/project-tktt/immo-crawler/internal/module/entreparticuliers"
	"github.com/project-tktt/immo-crawler/internal/module/facebook"
	"github.com/project-tktt/immo-crawler/internal/module/figaro"
	"github.com/project-tktt/immo-crawler/internal/module/leboncoin"
	"github.com/project-tktt/immo-crawler/internal/module/moteurimmo"
	"github.com/project-tktt/immo-crawler/internal/module/pap"
	"github.com/project-tktt/immo-crawler/internal/module/paruvendu"
	"github.com/project-tktt/immo-crawler/internal/module/registry"
)

// AdapterFactory builds the adapter of one source
type AdapterFactory func(deps module.Deps) module.Adapter

// Catalogue maps source keys to their adapter
type Catalogue map[domain.SourceKey]AdapterFactory

// DefaultCatalogue returns every built-in adapter
func DefaultCatalogue() Catalogue {
	return Catalogue{
		domain.SourcePap:               func(d module.Deps) module.Adapter { return pap.NewCrawler(d) },
		domain.SourceParuvendu:         func(d module.Deps) module.Adapter { return paruvendu.NewCrawler(d) },
		domain.SourceEntreParticuliers: func(d module.Deps) module.Adapter { return entreparticuliers.NewCrawler(d) },
		domain.SourceLeboncoin:         func(d module.Deps) module.Adapter { return leboncoin.NewCrawler(d) },
		domain.SourceFigaro:            func(d module.Deps) module.Adapter { return figaro.NewCrawler(d) },
		domain.SourceMoteurImmo:        func(d module.Deps) module.Adapter { return moteurimmo.NewCrawler(d) },
		domain.SourceFacebook:          func(d module.Deps) module.Adapter { return facebook.NewCrawler(d) },
	}
}

// DepsFactory builds the per-run collaborators of one source. The returned
// func releases them.
type DepsFactory interface {
	Build(profile registry.SiteProfile) (module.Deps, func())
}

// DepsBuilder wires a fresh session per source and run: cookies and header
// profile are never shared across sources, pacing is shared through the
// registry's controller.
type DepsBuilder struct {
	Registry    *registry.Registry
	Timeout     time.Duration
	Fingerprint bool
	// Sent by requests that bypass the header factory
	UserAgent string
	// Nil disables browser rendering
	Browser *transport.BrowserConfig
	// Nil disables stop-early-if-unchanged
	Seen  module.SeenChecker
	Base  http.RoundTripper
	Clock ratelimit.Clock
	Log   logger.Logger
}

// Build implements DepsFactory
func (b *DepsBuilder) Build(profile registry.SiteProfile) (module.Deps, func()) {
	log := logger.OrNop(b.Log)
	gate := b.Registry.Controller(profile.Key)
	session := transport.NewSession(transport.Config{
		Source:            string(profile.Key),
		Timeout:           b.Timeout,
		Fingerprint:       b.Fingerprint,
		FallbackUserAgent: b.UserAgent,
		Headers:           headers.NewFactory(headers.WithRotateProbability(0.1)),
		Gate:              gate,
		Base:              b.Base,
		Clock:             b.Clock,
		Logger:            log,
	})
	deps := module.Deps{
		Profile: profile,
		Session: session,
		Gate:    gate,
		Seen:    b.Seen,
		Logger:  log,
	}
	if timer := gate.Timer(); timer != nil {
		deps.Pacer = timer
	}

	release := func() {}
	if b.Browser != nil && profile.Mode != domain.ModeText {
		cfg := *b.Browser
		cfg.Source = string(profile.Key)
		cfg.Gate = gate
		cfg.Logger = log
		if cfg.UserAgent == "" {
			cfg.UserAgent = b.UserAgent
		}
		fetcher := transport.NewBrowserFetcher(cfg)
		deps.Renderer = fetcher
		release = fetcher.Close
	}
	return deps, release
}
