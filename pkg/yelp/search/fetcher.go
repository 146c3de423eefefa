package search

import (
	"context"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
)

const (
	// PageSize is the number of businesses requested per page.
	PageSize = 50
	// MaxResults is the upstream ceiling on results per (term, coordinate).
	MaxResults = 1000
	// DefaultRadius is the search radius in meters.
	DefaultRadius = 10000
)

// Fetcher walks offset pagination for one work unit.
type Fetcher struct {
	Searcher Searcher
	Radius   int
}

// NewFetcher returns a fetcher with the default radius when radius is zero.
func NewFetcher(s Searcher, radius int) *Fetcher {
	if radius <= 0 {
		radius = DefaultRadius
	}
	return &Fetcher{Searcher: s, Radius: radius}
}

// Fetch returns every business for (term, lat, lng). Paging stops on the
// first empty page or once the offset reaches MaxResults. Any page error
// aborts the unit and no partial data is returned.
func (f *Fetcher) Fetch(ctx context.Context, term string, lat, lng float64) ([]business.Raw, error) {
	radius := f.Radius
	if radius <= 0 {
		radius = DefaultRadius
	}

	var out []business.Raw
	offset := 0
	for {
		page, err := f.Searcher.Search(ctx, Query{
			Term:      term,
			Latitude:  lat,
			Longitude: lng,
			Radius:    radius,
			Limit:     PageSize,
			Offset:    offset,
		})
		if err != nil {
			return nil, err
		}
		if len(page.Businesses) == 0 {
			break
		}
		out = append(out, page.Businesses...)
		offset += PageSize
		if offset >= MaxResults {
			break
		}
	}
	if len(out) > MaxResults {
		out = out[:MaxResults]
	}
	return out, nil
}

// FetchUnit is Fetch for a work unit.
func (f *Fetcher) FetchUnit(ctx context.Context, u business.WorkUnit) ([]business.Raw, error) {
	return f.Fetch(ctx, u.Term, u.Latitude, u.Longitude)
}
