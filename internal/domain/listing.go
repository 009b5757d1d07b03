package domain

import "time"

// SourceKey identifies a supported real-estate website
type SourceKey string

const (
	SourcePap               SourceKey = "pap"
	SourceParuvendu         SourceKey = "paruvendu"
	SourceEntreParticuliers SourceKey = "entreparticuliers"
	SourceLeboncoin         SourceKey = "leboncoin"
	SourceFigaro            SourceKey = "figaro"
	SourceMoteurImmo        SourceKey = "moteurimmo"
	SourceFacebook          SourceKey = "facebook"
)

// FetchMode selects the transport strategy of a source
type FetchMode string

const (
	ModeText    FetchMode = "text"
	ModeHybrid  FetchMode = "hybrid"
	ModeBrowser FetchMode = "browser"
)

// Confidence tags how reliably a listing's location was extracted
type Confidence string

const (
	ConfidenceHigh     Confidence = "high"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceLow      Confidence = "low"
	ConfidenceInferred Confidence = "inferred"
)

// ListingStatus is the follow-up state a user assigns to a stored listing
type ListingStatus string

const (
	StatusNew           ListingStatus = "Nouveau"
	StatusContacted     ListingStatus = "Contacté"
	StatusReplied       ListingStatus = "Réponse reçue"
	StatusNoReply       ListingStatus = "Pas de réponse"
	StatusNotInterested ListingStatus = "Pas intéressé"
)

// ValidStatus reports whether s is one of the known statuses
func ValidStatus(s ListingStatus) bool {
	switch s {
	case StatusNew, StatusContacted, StatusReplied, StatusNoReply, StatusNotInterested:
		return true
	}
	return false
}

// RawListing is what an adapter extracts from a page, before normalization.
// Text fields are kept as displayed by the site.
type RawListing struct {
	Source       SourceKey `json:"source"`
	Title        string    `json:"title"`
	PriceText    string    `json:"price_text"`
	LocationText string    `json:"location_text"`
	URL          string    `json:"url"`
	DateText     string    `json:"date_text,omitempty"`
	Description  string    `json:"description,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Photos       []string  `json:"photos,omitempty"`

	// Structured values for sources that expose them (JSON APIs)
	PublishedOn time.Time `json:"published_on,omitempty"`
	SurfaceM2   int       `json:"surface_m2,omitempty"`
	Rooms       int       `json:"rooms,omitempty"`

	// Site-side professional marker
	IsPro bool `json:"is_pro,omitempty"`
	// LocationText was filled from the search context, not from the page
	LocationFallback bool `json:"location_fallback,omitempty"`

	Extra       map[string]string `json:"extra,omitempty"`
	ExtractedAt time.Time         `json:"extracted_at"`
}

// Listing is the canonical advertisement record
type Listing struct {
	Title        string    `json:"title"`
	PublishedOn  time.Time `json:"published_on"`
	PriceEUR     int       `json:"price_eur"`
	LocationText string    `json:"location_text"`
	URL          string    `json:"url"`
	Source       SourceKey `json:"source"`
	Photos       []string  `json:"photos"`
	Phone        string    `json:"phone,omitempty"`
	SurfaceM2    int       `json:"surface_m2,omitempty"`
	Rooms        int       `json:"rooms,omitempty"`
	Description  string    `json:"description,omitempty"`

	Annotations Annotations `json:"annotations"`
}

// Annotations are added by the pipeline, never by the sites
type Annotations struct {
	GeoConfidence      Confidence `json:"geo_confidence,omitempty"`
	GeoPostalCode      string     `json:"geo_postal_code,omitempty"`
	GeoDepartment      string     `json:"geo_department,omitempty"`
	GeoDistanceKm      *float64   `json:"geo_distance_km,omitempty"`
	GeoReason          string     `json:"geo_reason,omitempty"`
	ExpectedDepartment string     `json:"expected_department,omitempty"`
	ScrapedAt          time.Time  `json:"scraped_at"`
	ScraperKey         string     `json:"scraper_key"`
	Professional       bool       `json:"professional,omitempty"`
	LocationFallback   bool       `json:"location_fallback,omitempty"`

	// Unknown per-source fields
	Extra map[string]string `json:"extra,omitempty"`
}

// StoredListing is a Listing as held by the storage collaborator
type StoredListing struct {
	Listing
	UserID    string        `json:"user_id"`
	Status    ListingStatus `json:"status"`
	FirstSeen time.Time     `json:"first_seen"`
	LastSeen  time.Time     `json:"last_seen"`
}

// Coordinates is a WGS84 point
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ResolvedLocation is the canonical form of a user location query
type ResolvedLocation struct {
	Query       string       `json:"query"`
	City        string       `json:"city"`
	PostalCode  string       `json:"postal_code,omitempty"`
	PostalCodes []string     `json:"postal_codes,omitempty"`
	Department  string       `json:"department,omitempty"`
	INSEE       string       `json:"insee,omitempty"`
	Coords      *Coordinates `json:"coords,omitempty"`
	Population  int          `json:"population,omitempty"`
	Slug        string       `json:"slug"`
	SearchTerms []string     `json:"search_terms"`
	// Degraded is set when the directory could not be reached
	Degraded bool `json:"degraded,omitempty"`
}
