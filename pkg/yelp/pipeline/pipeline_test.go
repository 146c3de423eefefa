package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/classify"
	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
	"github.com/cognicore/yelpetl/pkg/yelp/locations"
	"github.com/cognicore/yelpetl/pkg/yelp/normalize"
	"github.com/cognicore/yelpetl/pkg/yelp/objectstore"
	"github.com/cognicore/yelpetl/pkg/yelp/search"
	"github.com/cognicore/yelpetl/pkg/yelp/sink"
	"github.com/cognicore/yelpetl/pkg/yelp/store/memstore"
)

var seeds = []locations.Location{
	{Name: "Los Angeles", Latitude: 34.05, Longitude: -118.24},
	{Name: "Torrance", Latitude: 33.83, Longitude: -118.34},
	{Name: "San Jose", Latitude: 37.33, Longitude: -121.89},
}

func raw(id, city string, aliases ...string) business.Raw {
	cats := make([]business.Category, len(aliases))
	for i, a := range aliases {
		cats[i] = business.Category{Alias: a}
	}
	return business.Raw{
		ID:          id,
		Name:        id,
		Categories:  cats,
		Coordinates: &business.Coordinates{Latitude: business.Float(34), Longitude: business.Float(-118)},
		Location:    business.Location{Address1: "1 Main St", City: city, State: "CA", ZipCode: "90001"},
	}
}

// fakeFetcher serves a fixed batch per location and can fail chosen units.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string][]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: map[string]int{}, failures: map[string][]error{}}
}

func (f *fakeFetcher) FetchUnit(ctx context.Context, u business.WorkUnit) ([]business.Raw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := u.String()
	f.calls[key]++
	if errs := f.failures[key]; len(errs) > 0 {
		err := errs[0]
		f.failures[key] = errs[1:]
		return nil, err
	}
	return []business.Raw{
		raw(u.LocationName+"-tacos", u.LocationName, "tacos", "mexican"),
		raw(u.LocationName+"-hardware", u.LocationName, "hardware"),
		raw("shared", "Los Angeles", "bars"),
	}, nil
}

type fixture struct {
	fetcher *fakeFetcher
	raw     *sink.RawWriter
	wh      *memstore.Store
	p       *Pipeline
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	dir, err := objectstore.NewDir(t.TempDir())
	require.NoError(t, err)
	f := &fixture{
		fetcher: newFakeFetcher(),
		raw:     sink.NewRawWriter(dir, "yelp"),
		wh:      memstore.New(),
	}
	fence := normalize.California(map[string]struct{}{"Los Angeles": {}, "Torrance": {}, "San Jose": {}})
	f.p = New(Options{
		Fetcher:    f.fetcher,
		Raw:        f.raw,
		Normalizer: normalize.New(classify.Default(), fence, nil),
		Writer:     sink.NewWriter(f.wh),
		Workers:    workers,
		Retry:      Retry{Attempts: 3},
		Logger:     zaptest.NewLogger(t),
	})
	return f
}

func iterator(t *testing.T, terms ...string) *locations.Iterator {
	t.Helper()
	it, err := locations.NewIterator(seeds, terms, locations.Range{})
	require.NoError(t, err)
	return it
}

func TestRunLoadsAcceptedRecords(t *testing.T) {
	f := newFixture(t, 2)
	rep, err := f.p.Run(context.Background(), iterator(t, "food"))
	require.NoError(t, err)

	assert.Len(t, rep.RunID, 26)
	assert.Equal(t, StageRun, rep.Stage)
	require.Len(t, rep.Units, 3)
	assert.Empty(t, rep.Failed())
	for i, u := range rep.Units {
		assert.Equal(t, seeds[i].Name, u.Unit.LocationName)
		assert.Equal(t, 3, u.Fetched)
		assert.Equal(t, 2, u.ClassifiedIn)
		assert.Equal(t, 2, u.GeofencePassed)
		assert.NotEmpty(t, u.Key)
	}
	// "shared" appears in every unit and is written once.
	assert.Equal(t, 4, rep.Totals.Written)
	assert.Equal(t, 2, rep.Totals.Skipped)
	n, _ := f.wh.Count(context.Background())
	assert.EqualValues(t, 4, n)

	_, ok := rep.ResumeFrom()
	assert.False(t, ok)
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t, 3)
	_, err := f.p.Run(context.Background(), iterator(t, "food"))
	require.NoError(t, err)

	rep, err := f.p.Run(context.Background(), iterator(t, "food"))
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Totals.Written)
	n, _ := f.wh.Count(context.Background())
	assert.EqualValues(t, 4, n)
}

func TestExtractThenLoad(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	ext, err := f.p.Extract(ctx, iterator(t, "food", "bars"))
	require.NoError(t, err)
	assert.Equal(t, 6, ext.Totals.Units)
	assert.Equal(t, 18, ext.Totals.Fetched)
	n, _ := f.wh.Count(ctx)
	assert.Zero(t, n, "extract must not touch the warehouse")

	u := ext.Units[4].Unit
	assert.Equal(t, "bars", u.Term)
	raws, err := f.raw.ReadRaw(ctx, u)
	require.NoError(t, err)
	assert.Len(t, raws, 3)

	load, err := f.p.Load(ctx, iterator(t, "food", "bars"))
	require.NoError(t, err)
	assert.Empty(t, load.Failed())
	assert.Equal(t, 4, load.Totals.Written)
	assert.Equal(t, 8, load.Totals.Skipped)
}

func TestTransientErrorIsRetried(t *testing.T) {
	f := newFixture(t, 1)
	unit := "food/Torrance#1"
	f.fetcher.failures[unit] = []error{
		&search.TransientError{StatusCode: 503},
		&search.TransientError{StatusCode: 429},
	}

	rep, err := f.p.Run(context.Background(), iterator(t, "food"))
	require.NoError(t, err)
	assert.Empty(t, rep.Failed())
	assert.Equal(t, 3, rep.Units[1].Attempts)
	assert.Equal(t, 3, f.fetcher.calls[unit])
}

func TestTransportTimeoutIsRetried(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			// Stall the first request past the client timeout.
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		if r.URL.Query().Get("offset") != "0" {
			fmt.Fprint(w, `{"businesses":[]}`)
			return
		}
		fmt.Fprint(w, `{"businesses":[{"id":"la-tacos","name":"Tacos","categories":[{"alias":"tacos"}],
 "coordinates":{"latitude":34,"longitude":-118},
 "location":{"address1":"1 Main St","city":"Los Angeles","state":"CA","zip_code":"90001"}}]}`)
	}))
	defer srv.Close()

	client := &search.Client{BaseURL: srv.URL, APIKey: "k", HTTPClient: &http.Client{Timeout: 50 * time.Millisecond}}
	wh := memstore.New()
	fence := normalize.California(map[string]struct{}{"Los Angeles": {}})
	p := New(Options{
		Fetcher:    search.NewFetcher(client, 0),
		Normalizer: normalize.New(classify.Default(), fence, nil),
		Writer:     sink.NewWriter(wh),
		Retry:      Retry{Attempts: 3},
		Logger:     zaptest.NewLogger(t),
	})
	it, err := locations.NewIterator(seeds[:1], []string{"food"}, locations.Range{})
	require.NoError(t, err)

	rep, err := p.Run(context.Background(), it)
	require.NoError(t, err)
	assert.Empty(t, rep.Failed())
	assert.Equal(t, 2, rep.Units[0].Attempts)
	assert.Equal(t, 1, rep.Units[0].Written)
	assert.EqualValues(t, 3, requests.Load())
}

func TestHardErrorFailsOnlyThatUnit(t *testing.T) {
	f := newFixture(t, 2)
	f.fetcher.failures["food/Torrance#1"] = []error{&search.HardError{StatusCode: 400}}

	rep, err := f.p.Run(context.Background(), iterator(t, "food"))
	require.NoError(t, err)

	failed := rep.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "Torrance", failed[0].Unit.LocationName)
	assert.Equal(t, 1, failed[0].Attempts)
	var hard *search.HardError
	assert.True(t, errors.As(failed[0].Err, &hard))
	assert.Equal(t, 1, rep.Totals.Failed)
	assert.Equal(t, 1, f.fetcher.calls["food/Torrance#1"])

	pos, ok := rep.ResumeFrom()
	require.True(t, ok)
	assert.Equal(t, locations.Position{Term: 0, Index: 1}, pos)

	// Resuming from the failure picks the unit up again.
	it := iterator(t, "food")
	require.NoError(t, it.Seek(pos))
	rep, err = f.p.Run(context.Background(), it)
	require.NoError(t, err)
	assert.Empty(t, rep.Failed())
	assert.Len(t, rep.Units, 2)
	assert.Equal(t, 1, rep.Totals.Written)
}

func TestRetryExhausted(t *testing.T) {
	f := newFixture(t, 1)
	unit := "food/Los Angeles#0"
	for i := 0; i < 3; i++ {
		f.fetcher.failures[unit] = append(f.fetcher.failures[unit], &search.TransientError{StatusCode: 500})
	}

	rep, err := f.p.Run(context.Background(), iterator(t, "food"))
	require.NoError(t, err)
	require.Len(t, rep.Failed(), 1)
	assert.True(t, search.IsTransient(rep.Units[0].Err))
	assert.Equal(t, 3, f.fetcher.calls[unit])
}

func TestLoadMissingRawFailsUnit(t *testing.T) {
	f := newFixture(t, 1)
	rep, err := f.p.Load(context.Background(), iterator(t, "food"))
	require.NoError(t, err)
	require.Len(t, rep.Failed(), 3)
	assert.ErrorIs(t, rep.Units[0].Err, internalerr.ErrNotFound)
}

func TestSinkFailureFailsUnit(t *testing.T) {
	f := newFixture(t, 1)
	f.wh.FailInsertAfter = 1

	rep, err := f.p.Run(context.Background(), iterator(t, "food"))
	require.NoError(t, err)
	assert.NotEmpty(t, rep.Failed())
	var werr *sink.WriteError
	assert.True(t, errors.As(rep.Units[0].Err, &werr))
	assert.Equal(t, 1, rep.Units[0].Written)
}

func TestMissingComponents(t *testing.T) {
	p := New(Options{})
	_, err := p.Run(context.Background(), iterator(t, "food"))
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
	_, err = p.Extract(context.Background(), iterator(t, "food"))
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
	_, err = p.Load(context.Background(), iterator(t, "food"))
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}

func TestCancelledRunMarksUnits(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := f.p.Run(ctx, iterator(t, "food"))
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, rep.Units, 3)
	pos, ok := rep.ResumeFrom()
	require.True(t, ok)
	assert.Equal(t, locations.Position{Term: 0, Index: 0}, pos)
}

func TestRetryDelayHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r := Retry{Attempts: 5, Delay: time.Hour}
	calls := 0
	n, err := r.do(ctx, zaptest.NewLogger(t), func() error {
		calls++
		return &search.TransientError{StatusCode: 503}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}
