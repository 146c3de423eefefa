package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/yelpetl/pkg/yelp/search"
)

// Retry re-invokes a unit fetch on transient API errors with a fixed delay.
type Retry struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetry is three attempts two seconds apart.
var DefaultRetry = Retry{Attempts: 3, Delay: 2 * time.Second}

// do calls fn until it succeeds, returns a non-transient error or runs out
// of attempts. It returns the number of calls made.
func (r Retry) do(ctx context.Context, log *zap.Logger, fn func() error) (int, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 1; ; i++ {
		err := fn()
		if err == nil || !search.IsTransient(err) || i >= attempts {
			return i, err
		}
		log.Warn("transient error, retrying",
			zap.Int("attempt", i),
			zap.Duration("delay", r.Delay),
			zap.Error(err))

		if r.Delay <= 0 {
			if err := ctx.Err(); err != nil {
				return i, err
			}
			continue
		}
		t := time.NewTimer(r.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return i, ctx.Err()
		case <-t.C:
		}
	}
}
