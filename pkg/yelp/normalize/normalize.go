// Package normalize turns raw search results into canonical warehouse
// records: category filtering, geofencing, city and address composition and
// geocoding of records that arrive without coordinates.
package normalize

import (
	"context"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/classify"
	"github.com/cognicore/yelpetl/pkg/yelp/geocode"
)

// Outcome is the result of transforming one raw record.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeClassificationReject
	OutcomeGeofenceReject
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeClassificationReject:
		return "classification-reject"
	case OutcomeGeofenceReject:
		return "geofence-reject"
	}
	return "unknown"
}

// Stats counts what happened to one batch.
type Stats struct {
	Input                 int `json:"input"`
	ClassificationRejects int `json:"classification_rejects"`
	GeofenceRejects       int `json:"geofence_rejects"`
	Accepted              int `json:"accepted"`
	NeedGeocode           int `json:"need_geocode"`
	Geocoded              int `json:"geocoded"`
	GeocodeMisses         int `json:"geocode_misses"`
	GeocodeErrors         int `json:"geocode_errors"`
}

// ClassifiedIn is the number of records that passed the category filter.
func (s Stats) ClassifiedIn() int { return s.Input - s.ClassificationRejects }

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Input += o.Input
	s.ClassificationRejects += o.ClassificationRejects
	s.GeofenceRejects += o.GeofenceRejects
	s.Accepted += o.Accepted
	s.NeedGeocode += o.NeedGeocode
	s.Geocoded += o.Geocoded
	s.GeocodeMisses += o.GeocodeMisses
	s.GeocodeErrors += o.GeocodeErrors
}

// Normalizer is safe for concurrent use when its Geocoder is.
type Normalizer struct {
	Taxonomy *classify.Taxonomy
	Geofence Geofence
	Geocoder geocode.Geocoder
}

// New builds a normalizer. g may be nil, in which case records without
// coordinates pass through with nulls.
func New(tax *classify.Taxonomy, fence Geofence, g geocode.Geocoder) *Normalizer {
	return &Normalizer{Taxonomy: tax, Geofence: fence, Geocoder: g}
}

// Transform applies every pure step to raw. The record is only meaningful
// when the outcome is OutcomeAccepted.
func (n *Normalizer) Transform(raw business.Raw) (business.Record, Outcome) {
	aliases := raw.CategoryAliases()
	if !n.Taxonomy.Accepted(aliases) {
		return business.Record{}, OutcomeClassificationReject
	}
	if !n.Geofence.Contains(raw.Location) {
		return business.Record{}, OutcomeGeofenceReject
	}

	rec := business.Record{
		ID:             raw.ID,
		Alias:          raw.Alias,
		Name:           raw.Name,
		URL:            raw.URL,
		ReviewCount:    raw.ReviewCount,
		Categories:     aliases,
		EthnicCategory: n.Taxonomy.EthnicTags(aliases),
		Rating:         raw.Rating,
		Price:          raw.Price,
		City:           City(raw.Location.City),
		Address:        Address(raw.Location),
	}
	if c := raw.Coordinates; c != nil {
		rec.Latitude = c.Latitude
		rec.Longitude = c.Longitude
	}
	return rec, OutcomeAccepted
}

// Normalize transforms a batch in two phases: records are transformed and
// partitioned by whether they carry coordinates, then the ones that do not
// are resolved through the geocoder. Output keeps input order. A geocode
// miss or provider error leaves both coordinates nil; only context
// cancellation is returned as an error.
func (n *Normalizer) Normalize(ctx context.Context, raws []business.Raw) ([]business.Record, Stats, error) {
	stats := Stats{Input: len(raws)}
	out := make([]business.Record, 0, len(raws))
	var pending []int

	for _, raw := range raws {
		rec, outcome := n.Transform(raw)
		switch outcome {
		case OutcomeClassificationReject:
			stats.ClassificationRejects++
			continue
		case OutcomeGeofenceReject:
			stats.GeofenceRejects++
			continue
		}
		if !rec.HasCoordinates() {
			rec.Latitude, rec.Longitude = nil, nil
			pending = append(pending, len(out))
		}
		out = append(out, rec)
	}
	stats.Accepted = len(out)
	stats.NeedGeocode = len(pending)

	for _, i := range pending {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		if n.Geocoder == nil {
			stats.GeocodeMisses++
			continue
		}
		p, err := n.Geocoder.Geocode(ctx, out[i].Address)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, stats, ctxErr
			}
			stats.GeocodeErrors++
			stats.GeocodeMisses++
			continue
		}
		if p == nil {
			stats.GeocodeMisses++
			continue
		}
		out[i].Latitude = business.Float(p.Latitude)
		out[i].Longitude = business.Float(p.Longitude)
		stats.Geocoded++
	}
	return out, stats, nil
}
