package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
	"github.com/cognicore/yelpetl/pkg/yelp/objectstore"
)

// RawWriter stores one JSON array of raw businesses per work unit.
type RawWriter struct {
	Store  objectstore.Store
	Prefix string
}

// NewRawWriter returns a writer placing objects under prefix.
func NewRawWriter(st objectstore.Store, prefix string) *RawWriter {
	return &RawWriter{Store: st, Prefix: prefix}
}

// Key is the object key for u.
func (w *RawWriter) Key(u business.WorkUnit) string {
	if w.Prefix == "" {
		return u.Key()
	}
	return path.Join(w.Prefix, u.Key())
}

// Write overwrites the unit's batch. An empty batch is stored as [].
func (w *RawWriter) Write(ctx context.Context, u business.WorkUnit, raws []business.Raw) (string, error) {
	if raws == nil {
		raws = []business.Raw{}
	}
	data, err := json.Marshal(raws)
	if err != nil {
		return "", fmt.Errorf("sink: encode %s: %w", u, err)
	}
	key := w.Key(u)
	if err := w.Store.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// ReadRaw loads the batch previously written for u.
func (w *RawWriter) ReadRaw(ctx context.Context, u business.WorkUnit) ([]business.Raw, error) {
	data, err := w.Store.Get(ctx, w.Key(u))
	if err != nil {
		return nil, err
	}
	var raws []business.Raw
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("sink: decode %s: %w: %v", w.Key(u), internalerr.ErrMalformedResponse, err)
	}
	return raws, nil
}
