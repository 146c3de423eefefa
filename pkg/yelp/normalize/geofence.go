package normalize

import (
	"fmt"
	"strings"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
)

// GeofenceMode selects how a record's address is validated.
type GeofenceMode string

const (
	// ModeKnownCity requires the city to be one of the seed location names.
	ModeKnownCity GeofenceMode = "known-city"
	// ModeZipPrefix only requires a zip code starting with "9".
	ModeZipPrefix GeofenceMode = "zip-prefix"
)

// ParseGeofenceMode accepts the config spelling of a mode.
func ParseGeofenceMode(s string) (GeofenceMode, error) {
	switch GeofenceMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeKnownCity, "":
		return ModeKnownCity, nil
	case ModeZipPrefix:
		return ModeZipPrefix, nil
	}
	return "", fmt.Errorf("geofence mode %q: %w", s, internalerr.ErrInvalidConfig)
}

// Geofence keeps records inside one state.
type Geofence struct {
	State  string
	Cities map[string]struct{}
	Mode   GeofenceMode
}

// California returns the known-city geofence for CA.
func California(cities map[string]struct{}) Geofence {
	return Geofence{State: "CA", Cities: cities, Mode: ModeKnownCity}
}

// Contains reports whether loc passes the geofence.
func (g Geofence) Contains(loc business.Location) bool {
	state := g.State
	if state == "" {
		state = "CA"
	}
	if strings.TrimSpace(loc.State) != state {
		return false
	}
	if g.Mode == ModeZipPrefix {
		return strings.HasPrefix(strings.TrimSpace(loc.ZipCode), "9")
	}
	_, ok := g.Cities[strings.TrimSpace(loc.City)]
	return ok
}
