// Package postgres implements the warehouse on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/geocode"
	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
	"github.com/cognicore/yelpetl/pkg/yelp/store"
)

// DefaultTable is the warehouse table name.
const DefaultTable = "yelp_businesses"

const uniqueViolation = "23505"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configures Open.
type Options struct {
	DSN      string
	Schema   string
	Table    string
	MaxConns int
	// SimpleProtocol is needed behind pgbouncer in transaction mode.
	SimpleProtocol bool
}

// Store implements store.Warehouse and store.GeocodeCache.
type Store struct {
	pool     *pgxpool.Pool
	table    string
	geocodes string
}

var (
	_ store.Warehouse    = (*Store)(nil)
	_ store.GeocodeCache = (*Store)(nil)
)

// Open connects and creates the tables when missing.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("postgres: empty dsn: %w", internalerr.ErrInvalidConfig)
	}
	table, geocodes, err := qualify(opts.Schema, opts.Table)
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 4
	}
	cfg.MaxConns = int32(opts.MaxConns)
	if opts.SimpleProtocol {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w: %v", internalerr.ErrStoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w: %v", internalerr.ErrStoreUnavailable, err)
	}

	s := &Store{pool: pool, table: table, geocodes: geocodes}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func qualify(schema, table string) (string, string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identRe.MatchString(table) {
		return "", "", fmt.Errorf("postgres: table %q: %w", table, internalerr.ErrInvalidConfig)
	}
	geocodes := table + "_geocodes"
	if schema == "" {
		return table, geocodes, nil
	}
	if !identRe.MatchString(schema) {
		return "", "", fmt.Errorf("postgres: schema %q: %w", schema, internalerr.ErrInvalidConfig)
	}
	return schema + "." + table, schema + "." + geocodes, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	id TEXT PRIMARY KEY,
	alias TEXT NOT NULL,
	name TEXT NOT NULL,
	url TEXT NOT NULL,
	review_count INTEGER NOT NULL,
	categories TEXT[] NOT NULL,
	ethnic_category TEXT[] NOT NULL,
	rating DOUBLE PRECISION NOT NULL,
	price TEXT,
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	city TEXT NOT NULL,
	address TEXT NOT NULL,
	loaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS ` + s.geocodes + ` (
	key TEXT PRIMARY KEY,
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	}
	for _, q := range ddl {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Exists implements store.Warehouse.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM `+s.table+` WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return ok, nil
}

// Insert implements store.Warehouse.
func (s *Store) Insert(ctx context.Context, r business.Record) error {
	if r.ID == "" {
		return fmt.Errorf("insert: empty id: %w", internalerr.ErrInvalidInput)
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO `+s.table+` (id, alias, name, url, review_count, categories, ethnic_category, rating, price, latitude, longitude, city, address)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.Alias, r.Name, r.URL, r.ReviewCount, nonNil(r.Categories), nonNil(r.EthnicCategory),
		r.Rating, r.Price, r.Latitude, r.Longitude, r.City, r.Address)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert %s: %w", r.ID, internalerr.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.ID, err)
	}
	return nil
}

// Get implements store.Warehouse.
func (s *Store) Get(ctx context.Context, id string) (business.Record, bool, error) {
	var r business.Record
	err := s.pool.QueryRow(ctx, `
SELECT id, alias, name, url, review_count, categories, ethnic_category, rating, price, latitude, longitude, city, address
FROM `+s.table+` WHERE id = $1`, id).Scan(
		&r.ID, &r.Alias, &r.Name, &r.URL, &r.ReviewCount, &r.Categories, &r.EthnicCategory,
		&r.Rating, &r.Price, &r.Latitude, &r.Longitude, &r.City, &r.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return business.Record{}, false, nil
	}
	if err != nil {
		return business.Record{}, false, fmt.Errorf("get %s: %w", id, err)
	}
	return r, true, nil
}

// Count implements store.Warehouse.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+s.table).Scan(&n)
	return n, err
}

// LookupGeocode implements geocode.Store.
func (s *Store) LookupGeocode(ctx context.Context, key string) (*geocode.Point, bool, error) {
	var lat, lng *float64
	err := s.pool.QueryRow(ctx, `SELECT latitude, longitude FROM `+s.geocodes+` WHERE key = $1`, key).Scan(&lat, &lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if lat == nil || lng == nil {
		return nil, true, nil
	}
	return &geocode.Point{Latitude: *lat, Longitude: *lng}, true, nil
}

// SaveGeocode implements geocode.Store.
func (s *Store) SaveGeocode(ctx context.Context, key string, p *geocode.Point) error {
	var lat, lng *float64
	if p != nil {
		lat, lng = &p.Latitude, &p.Longitude
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO `+s.geocodes+` (key, latitude, longitude) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, updated_at = now()`,
		key, lat, lng)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
