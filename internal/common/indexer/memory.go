package indexer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/project-tktt/immo-crawler/internal/common/errors"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

// MemoryStore keeps listings in process. Used in demo mode and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	rows      map[string]map[string]*domain.StoredListing
	retention time.Duration
	now       func() time.Time
	// FailWith makes every write fail, to exercise storage failures
	FailWith error
}

// NewMemoryStore creates an empty store
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		rows:      make(map[string]map[string]*domain.StoredListing),
		retention: DefaultRetention,
		now:       now,
	}
}

// SetRetention changes the Cleanup window
func (s *MemoryStore) SetRetention(d time.Duration) {
	s.mu.Lock()
	s.retention = d
	s.mu.Unlock()
}

func (s *MemoryStore) InsertListings(_ context.Context, userID string, listings []domain.Listing) (InsertResult, error) {
	var res InsertResult
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return res, apperrors.NewStorageError("insert listings", s.FailWith)
	}

	user, ok := s.rows[userID]
	if !ok {
		user = make(map[string]*domain.StoredListing)
		s.rows[userID] = user
	}
	now := s.now()
	for _, l := range listings {
		if row, ok := user[l.URL]; ok {
			row.Listing = l
			row.LastSeen = now
			res.Updated++
			continue
		}
		user[l.URL] = &domain.StoredListing{
			Listing:   l,
			UserID:    userID,
			Status:    domain.StatusNew,
			FirstSeen: now,
			LastSeen:  now,
		}
		res.Inserted++
	}
	return res, nil
}

func (s *MemoryStore) UpdateListingStatus(_ context.Context, userID, url string, status domain.ListingStatus) error {
	if !domain.ValidStatus(status) {
		return apperrors.NewInvalidRequestError(fmt.Sprintf("unknown status %q", status))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[userID][url]
	if !ok {
		return ErrListingNotFound
	}
	row.Status = status
	return nil
}

func (s *MemoryStore) DeleteListing(_ context.Context, userID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[userID][url]; !ok {
		return ErrListingNotFound
	}
	delete(s.rows[userID], url)
	return nil
}

func (s *MemoryStore) GetListings(_ context.Context, userID string, filter ListFilter) ([]domain.StoredListing, error) {
	s.mu.RLock()
	out := make([]domain.StoredListing, 0, len(s.rows[userID]))
	for _, row := range s.rows[userID] {
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		if filter.Source != "" && row.Source != filter.Source {
			continue
		}
		out = append(out, *row)
	}
	s.mu.RUnlock()

	col := sortColumn(filter.Sort)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if filter.Asc {
			a, b = b, a
		}
		switch col {
		case SortPrice:
			if a.PriceEUR != b.PriceEUR {
				return a.PriceEUR > b.PriceEUR
			}
		case SortPublished:
			if !a.PublishedOn.Equal(b.PublishedOn) {
				return a.PublishedOn.After(b.PublishedOn)
			}
		case SortLastSeen:
			if !a.LastSeen.Equal(b.LastSeen) {
				return a.LastSeen.After(b.LastSeen)
			}
		default:
			if !a.FirstSeen.Equal(b.FirstSeen) {
				return a.FirstSeen.After(b.FirstSeen)
			}
		}
		return a.URL > b.URL
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Cleanup(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.retention)
	n := 0
	for url, row := range s.rows[userID] {
		if row.LastSeen.Before(cutoff) {
			delete(s.rows[userID], url)
			n++
		}
	}
	return n, nil
}
