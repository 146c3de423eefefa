// Package geocode resolves free-text addresses to coordinates for records
// that arrive without them.
package geocode

import (
	"context"
	"strings"
	"sync"
)

// Point is a resolved coordinate pair.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Geocoder looks up an address. A nil point with a nil error is a miss.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*Point, error)
}

// Func adapts a function to Geocoder.
type Func func(ctx context.Context, address string) (*Point, error)

// Geocode implements Geocoder.
func (f Func) Geocode(ctx context.Context, address string) (*Point, error) { return f(ctx, address) }

// Static answers from a fixed table and counts lookups. It is used in tests
// and for offline runs.
type Static struct {
	mu      sync.Mutex
	points  map[string]Point
	lookups int
}

// NewStatic returns a Static geocoder for the given table.
func NewStatic(points map[string]Point) *Static {
	table := make(map[string]Point, len(points))
	for k, v := range points {
		table[Key(k)] = v
	}
	return &Static{points: table}
}

// Geocode implements Geocoder.
func (s *Static) Geocode(_ context.Context, address string) (*Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if p, ok := s.points[Key(address)]; ok {
		return &p, nil
	}
	return nil, nil
}

// Lookups returns how many times Geocode was called.
func (s *Static) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

// Key normalizes an address for caching: trimmed, lower-cased, single spaced.
func Key(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}
