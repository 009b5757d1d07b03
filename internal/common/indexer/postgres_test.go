package indexer

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	apperrors "github.com/project-tktt/immo-crawler/internal/common/errors"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func createTestPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := NewPostgresStoreFromDB(db, "listings",
		WithClock(func() time.Time { return now }),
		WithLogger(logger.NewTestLogger(t)),
	)
	return store, mock
}

func sampleListings() []domain.Listing {
	return []domain.Listing{
		{
			Title:        "Studio Paris 17e",
			PriceEUR:     250000,
			LocationText: "Paris 17e (75017)",
			URL:          "https://www.pap.fr/annonces/r1",
			Source:       domain.SourcePap,
			Photos:       []string{"https://cdn.pap.fr/1.jpg"},
			PublishedOn:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			Annotations:  domain.Annotations{GeoConfidence: domain.ConfidenceHigh, ScraperKey: "pap"},
		},
		{
			Title:        "T3 Batignolles",
			PriceEUR:     540000,
			LocationText: "75017 Paris",
			URL:          "https://www.paruvendu.fr/a/9",
			Source:       domain.SourceParuvendu,
			Photos:       []string{},
		},
	}
}

func TestPostgres_InsertListingsCountsUpserts(t *testing.T) {
	store, mock := createTestPostgresStore(t)
	listings := sampleListings()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "listings"`) + `(?s).*` + regexp.QuoteMeta(`ON CONFLICT (user_id, url) DO UPDATE`))
	prep.ExpectQuery().
		WithArgs("user-1", listings[0].URL, "Studio Paris 17e", 250000, "Paris 17e (75017)", "pap", listings[0].PublishedOn,
			sqlmock.AnyArg(), "", 0, 0, "", sqlmock.AnyArg(), "Nouveau", now).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	prep.ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))
	mock.ExpectCommit()

	res, err := store.InsertListings(context.Background(), "user-1", listings)
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 1, Updated: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertListingsFailureIsStorageError(t *testing.T) {
	store, mock := createTestPostgresStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "listings"`))
	prep.ExpectQuery().WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	res, err := store.InsertListings(context.Background(), "user-1", sampleListings())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStorageFailure))
	assert.Equal(t, InsertResult{}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertNothing(t *testing.T) {
	store, mock := createTestPostgresStore(t)
	res, err := store.InsertListings(context.Background(), "user-1", nil)
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateListingStatus(t *testing.T) {
	store, mock := createTestPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "listings" SET status = $3 WHERE user_id = $1 AND url = $2`)).
		WithArgs("user-1", "https://www.pap.fr/annonces/r1", "Contacté").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.UpdateListingStatus(ctx, "user-1", "https://www.pap.fr/annonces/r1", domain.StatusContacted))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "listings"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.UpdateListingStatus(ctx, "user-1", "https://missing.fr/x", domain.StatusReplied)
	assert.ErrorIs(t, err, ErrListingNotFound)

	err = store.UpdateListingStatus(ctx, "user-1", "https://www.pap.fr/annonces/r1", "Vendu")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidRequest))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteListing(t *testing.T) {
	store, mock := createTestPostgresStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "listings" WHERE user_id = $1 AND url = $2`)).
		WithArgs("user-1", "https://www.pap.fr/annonces/r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.DeleteListing(context.Background(), "user-1", "https://www.pap.fr/annonces/r1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetListings(t *testing.T) {
	store, mock := createTestPostgresStore(t)
	published := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"user_id", "url", "title", "price_eur", "location_text", "source", "published_on",
		"photos", "phone", "surface_m2", "rooms", "description", "annotations", "status", "first_seen", "last_seen",
	}).AddRow(
		"user-1", "https://www.pap.fr/annonces/r1", "Studio", 250000, "Paris (75017)", "pap", published,
		"{https://cdn.pap.fr/1.jpg,https://cdn.pap.fr/2.jpg}", "0601020304", int64(25), nil, nil,
		[]byte(`{"geo_confidence":"high","scraped_at":"2026-03-01T09:00:00Z","scraper_key":"pap"}`),
		"Contacté", now.Add(-time.Hour), now,
	)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "listings" WHERE user_id = $1 AND status = $2 ORDER BY price_eur ASC LIMIT 10`)).
		WithArgs("user-1", "Contacté").
		WillReturnRows(rows)

	out, err := store.GetListings(context.Background(), "user-1", ListFilter{
		Status: domain.StatusContacted,
		Sort:   SortPrice,
		Asc:    true,
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	l := out[0]
	assert.Equal(t, domain.SourcePap, l.Source)
	assert.Equal(t, domain.StatusContacted, l.Status)
	assert.Equal(t, []string{"https://cdn.pap.fr/1.jpg", "https://cdn.pap.fr/2.jpg"}, l.Photos)
	assert.Equal(t, 25, l.SurfaceM2)
	assert.Zero(t, l.Rooms)
	assert.Equal(t, domain.ConfidenceHigh, l.Annotations.GeoConfidence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetListingsUnknownSortFallsBack(t *testing.T) {
	store, mock := createTestPostgresStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE user_id = $1 ORDER BY first_seen DESC`)).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	out, err := store.GetListings(context.Background(), "user-1", ListFilter{Sort: "price; DROP TABLE listings"})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Cleanup(t *testing.T) {
	store, mock := createTestPostgresStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "listings" WHERE user_id = $1 AND last_seen < $2`)).
		WithArgs("user-1", now.Add(-DefaultRetention)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Cleanup(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
