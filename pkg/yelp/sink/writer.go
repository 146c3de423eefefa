// Package sink persists pipeline output: raw batches to object storage and
// canonical records to the warehouse.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
	"github.com/cognicore/yelpetl/pkg/yelp/store"
)

// Result counts what an Upsert did.
type Result struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// WriteError aborts an Upsert. Result holds the counts up to the failing
// record; the rows already inserted stay.
type WriteError struct {
	ID     string
	Result Result
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("sink: write %s after %d inserted: %v", e.ID, e.Result.Inserted, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Writer emulates insert-if-absent on a warehouse without native upsert.
type Writer struct {
	Warehouse store.Warehouse
}

// NewWriter wraps w.
func NewWriter(w store.Warehouse) *Writer {
	return &Writer{Warehouse: w}
}

// Upsert inserts every record whose id is not yet present. Rerunning the same
// batch inserts nothing. An id repeated inside the batch is written once.
//
// Exists and Insert are separate calls, so a concurrent writer may insert the
// same id in between; the resulting ErrDuplicate is counted as a skip.
func (w *Writer) Upsert(ctx context.Context, records []business.Record) (Result, error) {
	var res Result
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return res, &WriteError{ID: r.ID, Result: res, Err: err}
		}
		if _, dup := seen[r.ID]; dup {
			res.Skipped++
			continue
		}
		seen[r.ID] = struct{}{}

		ok, err := w.Warehouse.Exists(ctx, r.ID)
		if err != nil {
			return res, &WriteError{ID: r.ID, Result: res, Err: err}
		}
		if ok {
			res.Skipped++
			continue
		}
		if err := w.Warehouse.Insert(ctx, r); err != nil {
			if errors.Is(err, internalerr.ErrDuplicate) {
				res.Skipped++
				continue
			}
			return res, &WriteError{ID: r.ID, Result: res, Err: err}
		}
		res.Inserted++
	}
	return res, nil
}
