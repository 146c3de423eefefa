package normalize

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/classify"
	"github.com/cognicore/yelpetl/pkg/yelp/geocode"
	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
)

var knownCities = map[string]struct{}{"Los Angeles": {}, "Torrance": {}, "San Jose": {}}

func rawBusiness(id string, aliases ...string) business.Raw {
	cats := make([]business.Category, len(aliases))
	for i, a := range aliases {
		cats[i] = business.Category{Alias: a, Title: a}
	}
	return business.Raw{
		ID:          id,
		Alias:       id + "-alias",
		Name:        "Biz " + id,
		URL:         "https://www.yelp.com/biz/" + id,
		ReviewCount: 12,
		Categories:  cats,
		Rating:      4.5,
		Price:       business.String("$$"),
		Coordinates: &business.Coordinates{Latitude: business.Float(33.8), Longitude: business.Float(-118.3)},
		Location: business.Location{
			Address1: "123 Main St",
			Address2: business.String(""),
			City:     "Los Angeles",
			State:    "CA",
			ZipCode:  "90001",
		},
	}
}

func newNormalizer(g geocode.Geocoder) *Normalizer {
	return New(classify.Default(), California(knownCities), g)
}

func TestAddressComposition(t *testing.T) {
	loc := business.Location{Address1: "123 Main St", Address2: business.String(""), City: "Los Angeles", State: "CA", ZipCode: "90001"}
	assert.Equal(t, "123 Main St, Los Angeles CA 90001", Address(loc))

	loc.Address2 = nil
	assert.Equal(t, "123 Main St, Los Angeles CA 90001", Address(loc))

	loc.Address2 = business.String("Ste 4")
	assert.Equal(t, "123 Main St Ste 4, Los Angeles CA 90001", Address(loc))

	loc = business.Location{Address1: "", City: "San Jose", State: "CA", ZipCode: "95112"}
	assert.Equal(t, "San Jose CA 95112", Address(loc))

	loc = business.Location{Address1: "9 Elm", City: "Los  Angeles, ", State: "CA", ZipCode: "90001"}
	assert.Equal(t, "9 Elm, Los Angeles CA 90001", Address(loc))
}

func TestCity(t *testing.T) {
	cases := map[string]string{
		"Los Angeles":   "los angeles",
		"Los  Angeles ": "los angeles",
		"Torrance,":     "torrance",
		"San Jose,  ":   "san jose",
	}
	for in, want := range cases {
		assert.Equal(t, want, City(in), "City(%q)", in)
	}
	// Decomposed input is composed before lower-casing.
	assert.Equal(t, "la ca\u00f1ada flintridge", City("La Can\u0303ada Flintridge"))
}

func TestGeofence(t *testing.T) {
	fence := California(knownCities)
	ok := business.Location{City: "Torrance", State: "CA", ZipCode: "90501"}
	assert.True(t, fence.Contains(ok))
	assert.False(t, fence.Contains(business.Location{City: "Torrance", State: "NV", ZipCode: "90501"}))
	assert.False(t, fence.Contains(business.Location{City: "Gotham", State: "CA", ZipCode: "90501"}))

	loose := Geofence{State: "CA", Mode: ModeZipPrefix}
	assert.True(t, loose.Contains(business.Location{City: "Gotham", State: "CA", ZipCode: "94103"}))
	assert.False(t, loose.Contains(business.Location{City: "Gotham", State: "CA", ZipCode: "10001"}))
}

func TestParseGeofenceMode(t *testing.T) {
	m, err := ParseGeofenceMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeKnownCity, m)
	m, err = ParseGeofenceMode("Zip-Prefix")
	require.NoError(t, err)
	assert.Equal(t, ModeZipPrefix, m)
	_, err = ParseGeofenceMode("planet")
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}

func TestTransformProjectsFields(t *testing.T) {
	rec, outcome := newNormalizer(nil).Transform(rawBusiness("a", "mexican", "bakeries"))
	require.Equal(t, OutcomeAccepted, outcome)

	assert.Equal(t, "a", rec.ID)
	assert.Equal(t, "a-alias", rec.Alias)
	assert.Equal(t, []string{"mexican", "bakeries"}, rec.Categories)
	assert.Equal(t, []string{"mexican"}, rec.EthnicCategory)
	assert.Equal(t, "los angeles", rec.City)
	assert.Equal(t, "123 Main St, Los Angeles CA 90001", rec.Address)
	require.NotNil(t, rec.Price)
	assert.Equal(t, "$$", *rec.Price)
	assert.True(t, rec.HasCoordinates())
}

func TestTransformRejections(t *testing.T) {
	n := newNormalizer(nil)

	_, outcome := n.Transform(rawBusiness("x", "bakeries", "grocery"))
	assert.Equal(t, OutcomeClassificationReject, outcome)

	_, outcome = n.Transform(rawBusiness("y", "hardware"))
	assert.Equal(t, OutcomeClassificationReject, outcome)

	raw := rawBusiness("z", "tacos")
	raw.Location.State = "OR"
	_, outcome = n.Transform(raw)
	assert.Equal(t, OutcomeGeofenceReject, outcome)
}

func TestNormalizeCounts(t *testing.T) {
	outside := rawBusiness("outside", "tacos")
	outside.Location.City = "Gotham"
	raws := []business.Raw{
		rawBusiness("keep-1", "tacos"),
		rawBusiness("drop-class", "hardware"),
		outside,
		rawBusiness("keep-2", "bars"),
	}

	recs, stats, err := newNormalizer(nil).Normalize(context.Background(), raws)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "keep-1", recs[0].ID)
	assert.Equal(t, "keep-2", recs[1].ID)
	assert.Equal(t, Stats{Input: 4, ClassificationRejects: 1, GeofenceRejects: 1, Accepted: 2}, stats)
	assert.Equal(t, 3, stats.ClassifiedIn())
}

func TestNormalizeGeocodesMissingCoordinates(t *testing.T) {
	resolvable := rawBusiness("resolvable", "tacos")
	resolvable.Coordinates = &business.Coordinates{}
	unresolvable := rawBusiness("unresolvable", "tacos")
	unresolvable.Coordinates = nil
	unresolvable.Location.Address1 = "1 Nowhere Rd"
	halfSet := rawBusiness("half", "tacos")
	halfSet.Coordinates = &business.Coordinates{Latitude: business.Float(1)}
	halfSet.Location.Address1 = "2 Nowhere Rd"

	g := geocode.NewStatic(map[string]geocode.Point{
		"123 Main St, Los Angeles CA 90001": {Latitude: 34.05, Longitude: -118.24},
	})
	recs, stats, err := newNormalizer(g).Normalize(context.Background(),
		[]business.Raw{rawBusiness("has", "tacos"), resolvable, unresolvable, halfSet})
	require.NoError(t, err)
	require.Len(t, recs, 4)

	assert.Equal(t, "has", recs[0].ID)
	assert.InDelta(t, 33.8, *recs[0].Latitude, 1e-9)

	require.True(t, recs[1].HasCoordinates())
	assert.InDelta(t, 34.05, *recs[1].Latitude, 1e-9)
	assert.InDelta(t, -118.24, *recs[1].Longitude, 1e-9)

	// Unresolvable records are still emitted, with both coordinates null.
	assert.Equal(t, "unresolvable", recs[2].ID)
	assert.Nil(t, recs[2].Latitude)
	assert.Nil(t, recs[2].Longitude)
	assert.Nil(t, recs[3].Latitude)
	assert.Nil(t, recs[3].Longitude)

	assert.Equal(t, 3, stats.NeedGeocode)
	assert.Equal(t, 1, stats.Geocoded)
	assert.Equal(t, 2, stats.GeocodeMisses)
	assert.Equal(t, 3, g.Lookups())
}

func TestNormalizeGeocoderErrorIsAMiss(t *testing.T) {
	raw := rawBusiness("a", "tacos")
	raw.Coordinates = nil
	g := geocode.Func(func(context.Context, string) (*geocode.Point, error) {
		return nil, errors.New("nominatim status 503")
	})

	recs, stats, err := newNormalizer(g).Normalize(context.Background(), []business.Raw{raw})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Latitude)
	assert.Equal(t, 1, stats.GeocodeErrors)
	assert.Equal(t, 1, stats.GeocodeMisses)
}

func TestNormalizeWithoutGeocoder(t *testing.T) {
	raw := rawBusiness("a", "tacos")
	raw.Coordinates = nil
	recs, stats, err := newNormalizer(nil).Normalize(context.Background(), []business.Raw{raw})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, stats.GeocodeMisses)
}

func TestNormalizeCancelled(t *testing.T) {
	raw := rawBusiness("a", "tacos")
	raw.Coordinates = nil
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newNormalizer(geocode.NewStatic(nil)).Normalize(ctx, []business.Raw{raw})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatsAdd(t *testing.T) {
	var total Stats
	total.Add(Stats{Input: 3, Accepted: 2, Geocoded: 1})
	total.Add(Stats{Input: 1, ClassificationRejects: 1})
	assert.Equal(t, Stats{Input: 4, Accepted: 2, Geocoded: 1, ClassificationRejects: 1}, total)
}
