package indexer

import (
	"context"
	"errors"
	"time"

	"github.com/project-tktt/immo-crawler/internal/domain"
)

// DefaultRetention is how long a listing survives without being seen again
const DefaultRetention = 90 * 24 * time.Hour

// ErrListingNotFound is returned when no row matches (user, url)
var ErrListingNotFound = errors.New("listing not found")

// InsertResult counts the outcome of an upsert batch
type InsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Sort columns accepted by GetListings
const (
	SortPublished = "published_on"
	SortPrice     = "price_eur"
	SortFirstSeen = "first_seen"
	SortLastSeen  = "last_seen"
)

// ListFilter selects and orders stored listings
type ListFilter struct {
	Status domain.ListingStatus
	Source domain.SourceKey
	Sort   string
	Asc    bool
	Limit  int
}

// Store is the storage collaborator of the ingestion pipeline. Rows are
// unique per (user, url); inserting a known url refreshes its last-seen
// time, so retries are idempotent.
type Store interface {
	InsertListings(ctx context.Context, userID string, listings []domain.Listing) (InsertResult, error)
	UpdateListingStatus(ctx context.Context, userID, url string, status domain.ListingStatus) error
	DeleteListing(ctx context.Context, userID, url string) error
	GetListings(ctx context.Context, userID string, filter ListFilter) ([]domain.StoredListing, error)
	// Cleanup deletes the user's listings not seen within the retention window
	Cleanup(ctx context.Context, userID string) (int, error)
}

func sortColumn(s string) string {
	switch s {
	case SortPublished, SortPrice, SortFirstSeen, SortLastSeen:
		return s
	}
	return SortFirstSeen
}
