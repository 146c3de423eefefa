package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/geocode"
	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
	"github.com/cognicore/yelpetl/pkg/yelp/store"
)

// Store is an in-memory implementation of store.Warehouse for tests.
type Store struct {
	mu       sync.RWMutex
	rows     map[string]business.Record
	order    []string
	geocodes map[string]*geocode.Point

	// FailInsertAfter makes Insert fail once this many rows are stored.
	// Zero disables it.
	FailInsertAfter int
}

var (
	_ store.Warehouse    = (*Store)(nil)
	_ store.GeocodeCache = (*Store)(nil)
)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		rows:     make(map[string]business.Record),
		geocodes: make(map[string]*geocode.Point),
	}
}

// Close implements store.Warehouse.
func (s *Store) Close() error { return nil }

// Exists implements store.Warehouse.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rows[id]
	return ok, nil
}

// Insert implements store.Warehouse.
func (s *Store) Insert(ctx context.Context, r business.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		return fmt.Errorf("insert: empty id: %w", internalerr.ErrInvalidInput)
	}
	if _, ok := s.rows[r.ID]; ok {
		return fmt.Errorf("insert %s: %w", r.ID, internalerr.ErrDuplicate)
	}
	if s.FailInsertAfter > 0 && len(s.rows) >= s.FailInsertAfter {
		return fmt.Errorf("insert %s: %w", r.ID, internalerr.ErrStoreUnavailable)
	}
	s.rows[r.ID] = copyRecord(r)
	s.order = append(s.order, r.ID)
	return nil
}

// Get implements store.Warehouse.
func (s *Store) Get(ctx context.Context, id string) (business.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok {
		return business.Record{}, false, nil
	}
	return copyRecord(r), true, nil
}

// Count implements store.Warehouse.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rows)), nil
}

// IDs returns the stored ids in insertion order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// LookupGeocode implements geocode.Store.
func (s *Store) LookupGeocode(ctx context.Context, key string) (*geocode.Point, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.geocodes[key]
	if !ok || p == nil {
		return nil, ok, nil
	}
	cp := *p
	return &cp, true, nil
}

// SaveGeocode implements geocode.Store.
func (s *Store) SaveGeocode(ctx context.Context, key string, p *geocode.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p != nil {
		cp := *p
		p = &cp
	}
	s.geocodes[key] = p
	return nil
}

func copyRecord(r business.Record) business.Record {
	r.Categories = append([]string(nil), r.Categories...)
	r.EthnicCategory = append([]string(nil), r.EthnicCategory...)
	if r.Price != nil {
		r.Price = business.String(*r.Price)
	}
	if r.Latitude != nil {
		r.Latitude = business.Float(*r.Latitude)
	}
	if r.Longitude != nil {
		r.Longitude = business.Float(*r.Longitude)
	}
	return r
}
