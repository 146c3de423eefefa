package config

import (
	"fmt"
	"strings"

	"github.com/cognicore/yelpetl/pkg/yelp/classify"
	"github.com/cognicore/yelpetl/pkg/yelp/locations"
	"github.com/cognicore/yelpetl/pkg/yelp/normalize"
)

// Loader loads the files a configuration points at and constructs the
// offline components.
type Loader struct {
	Config Config
}

// Components holds the loaded offline components.
type Components struct {
	Taxonomy  *classify.Taxonomy
	Locations []locations.Location
	Geofence  normalize.Geofence
}

// Load reads every referenced file and returns initialized components.
func (l *Loader) Load() (*Components, error) {
	comp := &Components{}

	if l.Config.Taxonomy.Path != "" {
		tax, err := classify.Load(l.Config.Taxonomy.Path)
		if err != nil {
			return nil, fmt.Errorf("load taxonomy: %w", err)
		}
		comp.Taxonomy = tax
	} else {
		comp.Taxonomy = classify.Default()
	}

	locs, err := locations.LoadCSV(l.Config.Locations.Path)
	if err != nil {
		return nil, fmt.Errorf("load locations: %w", err)
	}
	comp.Locations = locs

	mode, err := normalize.ParseGeofenceMode(l.Config.Geofence.Mode)
	if err != nil {
		return nil, err
	}
	state := strings.ToUpper(strings.TrimSpace(l.Config.Geofence.State))
	if state == "" {
		state = "CA"
	}
	comp.Geofence = normalize.Geofence{State: state, Cities: locations.Names(locs), Mode: mode}

	return comp, nil
}

// Iterator returns the work-unit sequence for the configured terms and
// location window.
func (c *Components) Iterator(cfg Config) (*locations.Iterator, error) {
	return locations.NewIterator(c.Locations, cfg.Search.Terms,
		locations.Range{Start: cfg.Locations.Start, End: cfg.Locations.End})
}
