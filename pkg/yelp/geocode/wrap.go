package geocode

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimited spaces calls to the wrapped geocoder. Nominatim's usage policy
// allows one request per second.
type RateLimited struct {
	next    Geocoder
	limiter *rate.Limiter
}

// NewRateLimited wraps g with a limiter of rps requests per second and a
// burst of one. rps <= 0 selects one per second.
func NewRateLimited(g Geocoder, rps float64) *RateLimited {
	limit := rate.Every(time.Second)
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &RateLimited{next: g, limiter: rate.NewLimiter(limit, 1)}
}

// Geocode implements Geocoder.
func (r *RateLimited) Geocode(ctx context.Context, address string) (*Point, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("geocode: rate limit wait: %w", err)
	}
	return r.next.Geocode(ctx, address)
}

// Store persists lookups across runs. A saved nil point records a miss.
type Store interface {
	LookupGeocode(ctx context.Context, key string) (p *Point, found bool, err error)
	SaveGeocode(ctx context.Context, key string, p *Point) error
}

type entry struct {
	point *Point
}

// Cached memoizes lookups by normalized address, in memory and optionally in
// a persistent Store. Hits and misses are cached; errors are not.
type Cached struct {
	next  Geocoder
	mem   *lru.Cache[string, entry]
	store Store
	log   *zap.Logger
}

// NewCached wraps g. size bounds the in-memory cache; st and log may be nil.
func NewCached(g Geocoder, size int, st Store, log *zap.Logger) (*Cached, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if size <= 0 {
		size = 4096
	}
	mem, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: g, mem: mem, store: st, log: log}, nil
}

// Geocode implements Geocoder.
func (c *Cached) Geocode(ctx context.Context, address string) (*Point, error) {
	key := Key(address)
	if e, ok := c.mem.Get(key); ok {
		return copyPoint(e.point), nil
	}
	if c.store != nil {
		p, found, err := c.store.LookupGeocode(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("geocode: cache lookup: %w", err)
		}
		if found {
			c.mem.Add(key, entry{point: copyPoint(p)})
			return p, nil
		}
	}

	p, err := c.next.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}
	c.mem.Add(key, entry{point: copyPoint(p)})
	if c.store != nil {
		if err := c.store.SaveGeocode(ctx, key, p); err != nil {
			c.log.Warn("geocode: cache save failed", zap.String("address", key), zap.Error(err))
		}
	}
	return p, nil
}

// Len returns the number of in-memory entries.
func (c *Cached) Len() int { return c.mem.Len() }

func copyPoint(p *Point) *Point {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
