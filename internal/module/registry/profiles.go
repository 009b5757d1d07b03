package registry

import (
	"time"

	"github.com/project-tktt/immo-crawler/internal/common/ratelimit"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

// SiteProfile is the static fetch configuration of one source
type SiteProfile struct {
	Key            domain.SourceKey `json:"key"`
	Name           string           `json:"name"`
	BaseURL        string           `json:"base_url"`
	Enabled        bool             `json:"enabled"`
	DisabledReason string           `json:"disabled_reason,omitempty"`
	Mode           domain.FetchMode `json:"mode"`

	RPS         float64 `json:"rps"`
	Burst       int     `json:"burst"`
	JitterMinMs int     `json:"jitter_min_ms"`
	JitterMaxMs int     `json:"jitter_max_ms"`
	MaxPages    int     `json:"max_pages"`

	// Seconds, indexed by consecutive failure count
	BackoffLadder       []int `json:"backoff_ladder"`
	BreakerFailures     int   `json:"breaker_failures"`
	BreakerPauseMinutes int   `json:"breaker_pause_minutes"`

	StrictLocation       bool          `json:"strict_location"`
	StopEarlyIfUnchanged bool          `json:"stop_early_if_unchanged"`
	ListRefresh          time.Duration `json:"list_refresh"`
	DetailRefresh        time.Duration `json:"detail_refresh"`
}

// RateConfig derives the rate controller parameters. floor is the global
// pacing floor; a profile faster than it is slowed down to it.
func (p SiteProfile) RateConfig(floor time.Duration) ratelimit.Config {
	ladder := make([]time.Duration, len(p.BackoffLadder))
	for i, s := range p.BackoffLadder {
		ladder[i] = time.Duration(s) * time.Second
	}
	return ratelimit.Config{
		Source:          string(p.Key),
		RPS:             p.RPS,
		Burst:           p.Burst,
		JitterMin:       time.Duration(p.JitterMinMs) * time.Millisecond,
		JitterMax:       time.Duration(p.JitterMaxMs) * time.Millisecond,
		BackoffLadder:   ladder,
		BreakerFailures: p.BreakerFailures,
		BreakerPause:    time.Duration(p.BreakerPauseMinutes) * time.Minute,
		Floor:           floor,
	}
}

// FallbackProfile is used for a key without a dedicated profile
func FallbackProfile(key domain.SourceKey) SiteProfile {
	return SiteProfile{
		Key:                  key,
		Name:                 string(key),
		Enabled:              true,
		Mode:                 domain.ModeText,
		RPS:                  1,
		Burst:                1,
		JitterMinMs:          200,
		JitterMaxMs:          800,
		MaxPages:             5,
		BackoffLadder:        []int{10, 30, 60, 120},
		BreakerFailures:      10,
		BreakerPauseMinutes:  20,
		StopEarlyIfUnchanged: true,
		ListRefresh:          15 * time.Minute,
		DetailRefresh:        72 * time.Hour,
	}
}

// DefaultProfiles is the built-in site catalogue
func DefaultProfiles() []SiteProfile {
	pap := FallbackProfile(domain.SourcePap)
	pap.Name = "pap.fr"
	pap.BaseURL = "https://www.pap.fr/"
	pap.RPS = 0.5
	pap.JitterMinMs, pap.JitterMaxMs = 1500, 4000
	pap.MaxPages = 5
	pap.ListRefresh = 30 * time.Minute
	pap.BackoffLadder = []int{30, 60, 120, 240, 300}
	pap.BreakerFailures, pap.BreakerPauseMinutes = 5, 30
	pap.StrictLocation = true

	paruvendu := pap
	paruvendu.Key = domain.SourceParuvendu
	paruvendu.Name = "paruvendu.fr"
	paruvendu.BaseURL = "https://www.paruvendu.fr/"
	paruvendu.MaxPages = 4
	paruvendu.BackoffLadder = []int{30, 60, 120, 240}

	entre := paruvendu
	entre.Key = domain.SourceEntreParticuliers
	entre.Name = "entreparticuliers.com"
	entre.BaseURL = "https://www.entreparticuliers.com/"

	lbc := FallbackProfile(domain.SourceLeboncoin)
	lbc.Name = "leboncoin.fr"
	lbc.BaseURL = "https://www.leboncoin.fr/"
	lbc.Mode = domain.ModeHybrid
	lbc.RPS = 0.25
	lbc.JitterMinMs, lbc.JitterMaxMs = 3000, 8000
	lbc.MaxPages = 3
	lbc.ListRefresh = 45 * time.Minute
	lbc.BackoffLadder = []int{60, 120, 240, 300, 600}
	lbc.BreakerFailures, lbc.BreakerPauseMinutes = 3, 60
	lbc.StrictLocation = true

	figaro := FallbackProfile(domain.SourceFigaro)
	figaro.Name = "figaro-immo"
	figaro.BaseURL = "https://proprietes.lefigaro.fr/"
	figaro.Enabled = false
	figaro.DisabledReason = "Scrape articles de presse au lieu d'annonces - V2"
	figaro.RPS = 0.4
	figaro.JitterMinMs, figaro.JitterMaxMs = 2000, 5000
	figaro.MaxPages = 3
	figaro.ListRefresh = 45 * time.Minute
	figaro.DetailRefresh = 96 * time.Hour
	figaro.BackoffLadder = []int{30, 60, 120, 240, 300}
	figaro.BreakerFailures, figaro.BreakerPauseMinutes = 4, 45
	figaro.StrictLocation = true

	moteur := figaro
	moteur.Key = domain.SourceMoteurImmo
	moteur.Name = "moteurimmo.fr"
	moteur.BaseURL = "https://www.moteurimmo.fr/"
	moteur.Enabled = true
	moteur.DisabledReason = ""

	fb := FallbackProfile(domain.SourceFacebook)
	fb.Name = "facebook-marketplace"
	fb.BaseURL = "https://www.facebook.com/"
	fb.Enabled = false
	fb.DisabledReason = "Site hostile, captcha fréquent, risque de ban"
	fb.Mode = domain.ModeBrowser
	fb.RPS = 0.1
	fb.JitterMinMs, fb.JitterMaxMs = 5000, 15000
	fb.MaxPages = 1
	fb.ListRefresh = 120 * time.Minute
	fb.DetailRefresh = 168 * time.Hour
	fb.BackoffLadder = []int{120, 300, 600, 1800}
	fb.BreakerFailures, fb.BreakerPauseMinutes = 2, 120
	fb.StrictLocation = true

	return []SiteProfile{pap, paruvendu, entre, lbc, figaro, moteur, fb}
}
