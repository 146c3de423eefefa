// Package store defines the warehouse the canonical records are loaded
// into. Backends live in subpackages: sqlite, postgres and memstore.
package store

import (
	"context"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/geocode"
)

// Warehouse is a table of canonical records keyed by business id. None of
// the backends offer a native upsert; the sink emulates insert-if-absent
// with Exists followed by Insert.
type Warehouse interface {
	Close() error

	// Exists reports whether a row with id is present.
	Exists(ctx context.Context, id string) (bool, error)
	// Insert adds a new row. An existing id yields internalerr.ErrDuplicate.
	Insert(ctx context.Context, r business.Record) error
	// Get returns the row for id.
	Get(ctx context.Context, id string) (business.Record, bool, error)
	// Count returns the number of rows.
	Count(ctx context.Context) (int64, error)
}

// GeocodeCache is implemented by warehouses that also persist geocoding
// lookups between runs.
type GeocodeCache interface {
	geocode.Store
}
