package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	apperrors "github.com/project-tktt/immo-crawler/internal/common/errors"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/domain"
)

const listingColumns = `user_id, url, title, price_eur, location_text, source, published_on,
	photos, phone, surface_m2, rooms, description, annotations, status, first_seen, last_seen`

// PostgresStore stores listings in PostgreSQL
type PostgresStore struct {
	db        *sql.DB
	tableName string
	retention time.Duration
	now       func() time.Time
	log       logger.Logger
}

// PostgresOption configures a PostgresStore
type PostgresOption func(*PostgresStore)

func WithRetention(d time.Duration) PostgresOption {
	return func(s *PostgresStore) { s.retention = d }
}

func WithClock(now func() time.Time) PostgresOption {
	return func(s *PostgresStore) { s.now = now }
}

func WithLogger(l logger.Logger) PostgresOption {
	return func(s *PostgresStore) { s.log = l }
}

// NewPostgresStore opens connStr and creates the table if needed
func NewPostgresStore(connStr, tableName string, opts ...PostgresOption) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := NewPostgresStoreFromDB(db, tableName, opts...)

	// Ensure table exists
	if err := store.ensureTable(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure table: %w", err)
	}

	return store, nil
}

// NewPostgresStoreFromDB wraps an open handle without touching the schema
func NewPostgresStoreFromDB(db *sql.DB, tableName string, opts ...PostgresOption) *PostgresStore {
	if tableName == "" {
		tableName = "listings"
	}
	s := &PostgresStore{
		db:        db,
		tableName: pq.QuoteIdentifier(tableName),
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrNop(s.log).WithFields(map[string]interface{}{"component": "postgres_store"})
	return s
}

// ensureTable creates the listings table if it doesn't exist
func (s *PostgresStore) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT NOT NULL,
			url TEXT NOT NULL,
			title TEXT NOT NULL,
			price_eur INTEGER NOT NULL,
			location_text TEXT NOT NULL,
			source TEXT NOT NULL,
			published_on DATE,
			photos TEXT[] DEFAULT '{}',
			phone TEXT,
			surface_m2 INTEGER,
			rooms INTEGER,
			description TEXT,
			annotations JSONB,
			status TEXT NOT NULL DEFAULT 'Nouveau',
			first_seen TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			last_seen TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (user_id, url)
		)
	`, s.tableName)

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// InsertListings upserts listings in one transaction. Known urls keep
// their status and first-seen time.
func (s *PostgresStore) InsertListings(ctx context.Context, userID string, listings []domain.Listing) (InsertResult, error) {
	var res InsertResult
	if len(listings) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, apperrors.NewStorageError("begin transaction", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		ON CONFLICT (user_id, url) DO UPDATE SET
			title = EXCLUDED.title,
			price_eur = EXCLUDED.price_eur,
			location_text = EXCLUDED.location_text,
			photos = EXCLUDED.photos,
			phone = EXCLUDED.phone,
			surface_m2 = EXCLUDED.surface_m2,
			rooms = EXCLUDED.rooms,
			description = EXCLUDED.description,
			annotations = EXCLUDED.annotations,
			last_seen = EXCLUDED.last_seen
		RETURNING (xmax = 0) AS inserted
	`, s.tableName, listingColumns)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return res, apperrors.NewStorageError("prepare statement", err)
	}
	defer stmt.Close()

	now := s.now()
	for _, l := range listings {
		annotations, err := json.Marshal(l.Annotations)
		if err != nil {
			return InsertResult{}, apperrors.NewStorageError("marshal annotations", err)
		}
		var inserted bool
		err = stmt.QueryRowContext(ctx,
			userID, l.URL, l.Title, l.PriceEUR, l.LocationText, string(l.Source), l.PublishedOn,
			pq.Array(l.Photos), l.Phone, l.SurfaceM2, l.Rooms, l.Description, annotations,
			string(domain.StatusNew), now,
		).Scan(&inserted)
		if err != nil {
			return InsertResult{}, apperrors.NewStorageError("upsert listing", err).WithMetadata("url", l.URL)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, apperrors.NewStorageError("commit transaction", err)
	}
	s.log.Info("listings stored", map[string]interface{}{
		"user_id":  userID,
		"inserted": res.Inserted,
		"updated":  res.Updated,
	})
	return res, nil
}

// UpdateListingStatus sets the follow-up status of one listing
func (s *PostgresStore) UpdateListingStatus(ctx context.Context, userID, url string, status domain.ListingStatus) error {
	if !domain.ValidStatus(status) {
		return apperrors.NewInvalidRequestError(fmt.Sprintf("unknown status %q", status))
	}
	query := fmt.Sprintf(`UPDATE %s SET status = $3 WHERE user_id = $1 AND url = $2`, s.tableName)
	return s.execOne(ctx, "update status", query, userID, url, string(status))
}

// DeleteListing removes one listing
func (s *PostgresStore) DeleteListing(ctx context.Context, userID, url string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1 AND url = $2`, s.tableName)
	return s.execOne(ctx, "delete listing", query, userID, url)
}

func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewStorageError(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewStorageError(op, err)
	}
	if n == 0 {
		return ErrListingNotFound
	}
	return nil
}

// GetListings returns the user's listings matching filter
func (s *PostgresStore) GetListings(ctx context.Context, userID string, filter ListFilter) ([]domain.StoredListing, error) {
	var (
		where = []string{"user_id = $1"}
		args  = []interface{}{userID}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Source != "" {
		args = append(args, string(filter.Source))
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}
	order := "DESC"
	if filter.Asc {
		order = "ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY %s %s`,
		listingColumns, s.tableName, strings.Join(where, " AND "), sortColumn(filter.Sort), order)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStorageError("query listings", err)
	}
	defer rows.Close()

	var out []domain.StoredListing
	for rows.Next() {
		var (
			l           domain.StoredListing
			source      string
			status      string
			phone       sql.NullString
			description sql.NullString
			surface     sql.NullInt64
			rooms       sql.NullInt64
			annotations []byte
		)
		if err := rows.Scan(
			&l.UserID, &l.URL, &l.Title, &l.PriceEUR, &l.LocationText, &source, &l.PublishedOn,
			pq.Array(&l.Photos), &phone, &surface, &rooms, &description, &annotations, &status,
			&l.FirstSeen, &l.LastSeen,
		); err != nil {
			return nil, apperrors.NewStorageError("scan listing", err)
		}
		l.Source = domain.SourceKey(source)
		l.Status = domain.ListingStatus(status)
		l.Phone = phone.String
		l.Description = description.String
		l.SurfaceM2 = int(surface.Int64)
		l.Rooms = int(rooms.Int64)
		if len(annotations) > 0 {
			if err := json.Unmarshal(annotations, &l.Annotations); err != nil {
				s.log.Warn("cannot decode annotations", map[string]interface{}{"url": l.URL, "error": err.Error()})
			}
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("iterate listings", err)
	}
	return out, nil
}

// Cleanup deletes the user's listings not seen within the retention window
func (s *PostgresStore) Cleanup(ctx context.Context, userID string) (int, error) {
	cutoff := s.now().Add(-s.retention)
	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1 AND last_seen < $2`, s.tableName)
	result, err := s.db.ExecContext(ctx, query, userID, cutoff)
	if err != nil {
		return 0, apperrors.NewStorageError("cleanup", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.NewStorageError("cleanup", err)
	}
	if n > 0 {
		s.log.Info("old listings removed", map[string]interface{}{"user_id": userID, "count": n})
	}
	return int(n), nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
