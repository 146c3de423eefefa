package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/geocode"
	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
	"github.com/cognicore/yelpetl/pkg/yelp/store"
)

// Store implements store.Warehouse and store.GeocodeCache on SQLite.
type Store struct {
	db *sql.DB
}

var (
	_ store.Warehouse    = (*Store)(nil)
	_ store.GeocodeCache = (*Store)(nil)
)

// OpenSQLite opens a SQLite database with WAL mode enabled and creates the
// schema when missing.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection and writers serialize on the database lock,
	// so one connection serves every worker.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS businesses (
	id TEXT PRIMARY KEY,
	alias TEXT NOT NULL,
	name TEXT NOT NULL,
	url TEXT NOT NULL,
	review_count INTEGER NOT NULL,
	rating REAL NOT NULL,
	price TEXT,
	latitude REAL,
	longitude REAL,
	city TEXT NOT NULL,
	address TEXT NOT NULL,
	loaded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS business_categories (
	business_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	category TEXT NOT NULL,
	PRIMARY KEY(business_id, position),
	FOREIGN KEY(business_id) REFERENCES businesses(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS business_ethnic_categories (
	business_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	category TEXT NOT NULL,
	PRIMARY KEY(business_id, position),
	FOREIGN KEY(business_id) REFERENCES businesses(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	key TEXT PRIMARY KEY,
	latitude REAL,
	longitude REAL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_businesses_city ON businesses(city);
CREATE INDEX IF NOT EXISTS idx_business_categories_category ON business_categories(category);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Exists implements store.Warehouse.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM businesses WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return true, nil
}

// Insert implements store.Warehouse. The row and its category lists are
// written in one transaction.
func (s *Store) Insert(ctx context.Context, r business.Record) error {
	if r.ID == "" {
		return fmt.Errorf("insert: empty id: %w", internalerr.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO businesses (id, alias, name, url, review_count, rating, price, latitude, longitude, city, address, loaded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Alias, r.Name, r.URL, r.ReviewCount, r.Rating,
		nullString(r.Price), nullFloat(r.Latitude), nullFloat(r.Longitude),
		r.City, r.Address, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert %s: %w", r.ID, internalerr.ErrDuplicate)
		}
		return fmt.Errorf("insert %s: %w", r.ID, err)
	}

	if err := insertList(ctx, tx, "business_categories", r.ID, r.Categories); err != nil {
		return err
	}
	if err := insertList(ctx, tx, "business_ethnic_categories", r.ID, r.EthnicCategory); err != nil {
		return err
	}
	return tx.Commit()
}

func insertList(ctx context.Context, tx *sql.Tx, table, id string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+table+` (business_id, position, category) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, v := range values {
		if _, err := stmt.ExecContext(ctx, id, i, v); err != nil {
			return fmt.Errorf("insert %s for %s: %w", table, id, err)
		}
	}
	return nil
}

// Get implements store.Warehouse.
func (s *Store) Get(ctx context.Context, id string) (business.Record, bool, error) {
	var (
		r        business.Record
		price    sql.NullString
		lat, lng sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, alias, name, url, review_count, rating, price, latitude, longitude, city, address
FROM businesses WHERE id = ?`, id).Scan(
		&r.ID, &r.Alias, &r.Name, &r.URL, &r.ReviewCount, &r.Rating,
		&price, &lat, &lng, &r.City, &r.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return business.Record{}, false, nil
	}
	if err != nil {
		return business.Record{}, false, fmt.Errorf("get %s: %w", id, err)
	}
	if price.Valid {
		r.Price = business.String(price.String)
	}
	if lat.Valid {
		r.Latitude = business.Float(lat.Float64)
	}
	if lng.Valid {
		r.Longitude = business.Float(lng.Float64)
	}

	if r.Categories, err = s.readList(ctx, "business_categories", id); err != nil {
		return business.Record{}, false, err
	}
	if r.EthnicCategory, err = s.readList(ctx, "business_ethnic_categories", id); err != nil {
		return business.Record{}, false, err
	}
	return r, true, nil
}

func (s *Store) readList(ctx context.Context, table, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category FROM `+table+` WHERE business_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Count implements store.Warehouse.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM businesses`).Scan(&n)
	return n, err
}

// LookupGeocode implements geocode.Store. A row with null coordinates is a
// recorded miss.
func (s *Store) LookupGeocode(ctx context.Context, key string) (*geocode.Point, bool, error) {
	var lat, lng sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT latitude, longitude FROM geocode_cache WHERE key = ?`, key).Scan(&lat, &lng)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !lat.Valid || !lng.Valid {
		return nil, true, nil
	}
	return &geocode.Point{Latitude: lat.Float64, Longitude: lng.Float64}, true, nil
}

// SaveGeocode implements geocode.Store.
func (s *Store) SaveGeocode(ctx context.Context, key string, p *geocode.Point) error {
	var lat, lng sql.NullFloat64
	if p != nil {
		lat = sql.NullFloat64{Float64: p.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: p.Longitude, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO geocode_cache (key, latitude, longitude, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET latitude = excluded.latitude, longitude = excluded.longitude, updated_at = excluded.updated_at`,
		key, lat, lng, time.Now().UTC().Format(time.RFC3339))
	return err
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY must be unique")
}
