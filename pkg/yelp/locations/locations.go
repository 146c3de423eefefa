// Package locations loads the coordinate seed table and turns it, together
// with the search terms, into a restartable sequence of work units.
package locations

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
)

// Location is one seed row.
type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// LoadCSV reads a seed table with Name, Latitude and Longitude columns.
func LoadCSV(path string) ([]Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	locs, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return locs, nil
}

// ReadCSV parses a seed table. Columns are located by header name, case
// insensitive, so extra columns are ignored.
func ReadCSV(r io.Reader) ([]Location, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty seed table: %w", internalerr.ErrInvalidInput)
		}
		return nil, err
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	nameCol, okName := cols["name"]
	latCol, okLat := cols["latitude"]
	lngCol, okLng := cols["longitude"]
	if !okName || !okLat || !okLng {
		return nil, fmt.Errorf("header %v needs Name, Latitude, Longitude: %w", header, internalerr.ErrInvalidInput)
	}

	var locs []Location
	seen := map[string]int{}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		maxCol := max(nameCol, latCol, lngCol)
		if len(rec) <= maxCol {
			return nil, fmt.Errorf("line %d: short row: %w", line, internalerr.ErrInvalidInput)
		}
		name := strings.TrimSpace(rec[nameCol])
		if name == "" {
			return nil, fmt.Errorf("line %d: empty name: %w", line, internalerr.ErrInvalidInput)
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("line %d: name %q already used on line %d: %w", line, name, prev, internalerr.ErrInvalidInput)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(rec[latCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: latitude: %w", line, internalerr.ErrInvalidInput)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(rec[lngCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: longitude: %w", line, internalerr.ErrInvalidInput)
		}
		seen[name] = line
		locs = append(locs, Location{Name: name, Latitude: lat, Longitude: lng})
	}
	return locs, nil
}

// Names returns the set of location names, used as the known-city set.
func Names(locs []Location) map[string]struct{} {
	out := make(map[string]struct{}, len(locs))
	for _, l := range locs {
		out[l.Name] = struct{}{}
	}
	return out
}
