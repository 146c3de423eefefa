// Package business defines the record shapes that flow through the pipeline:
// the work unit submitted to the search API, the raw API business and the
// canonical warehouse row.
package business

import (
	"fmt"
	"strings"
)

// NotSpecified is the ethnic_category value for records with no ethnicity tag.
const NotSpecified = "Not Specified"

// WorkUnit is one (term, coordinate, location index) search. Values are
// immutable once created by the location iterator.
type WorkUnit struct {
	Term         string  `json:"term"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	LocationName string  `json:"location_name"`
	Index        int     `json:"index"`
}

// Key is the object storage key for the unit's raw batch.
func (u WorkUnit) Key() string {
	return fmt.Sprintf("%s-%s-%d.json", u.Term, u.LocationName, u.Index)
}

func (u WorkUnit) String() string {
	return fmt.Sprintf("%s/%s#%d", u.Term, u.LocationName, u.Index)
}

// Category is a single {alias, title} pair as returned by the API.
type Category struct {
	Alias string `json:"alias"`
	Title string `json:"title"`
}

// Coordinates may carry null fields in the source payload.
type Coordinates struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Location is the postal address block of a business.
type Location struct {
	Address1       string   `json:"address1"`
	Address2       *string  `json:"address2"`
	Address3       *string  `json:"address3,omitempty"`
	City           string   `json:"city"`
	State          string   `json:"state"`
	ZipCode        string   `json:"zip_code"`
	Country        string   `json:"country,omitempty"`
	DisplayAddress []string `json:"display_address,omitempty"`
}

// Raw is a business exactly as the search API returns it.
type Raw struct {
	ID           string       `json:"id"`
	Alias        string       `json:"alias"`
	Name         string       `json:"name"`
	ImageURL     string       `json:"image_url"`
	IsClosed     bool         `json:"is_closed"`
	URL          string       `json:"url"`
	ReviewCount  int          `json:"review_count"`
	Categories   []Category   `json:"categories"`
	Rating       float64      `json:"rating"`
	Coordinates  *Coordinates `json:"coordinates"`
	Transactions []string     `json:"transactions"`
	Price        *string      `json:"price,omitempty"`
	Location     Location     `json:"location"`
	Phone        string       `json:"phone"`
	DisplayPhone string       `json:"display_phone"`
	Distance     *float64     `json:"distance"`
}

// CategoryAliases reduces the category list to its aliases, keeping the
// first occurrence order and dropping blanks and repeats.
func (r Raw) CategoryAliases() []string {
	seen := make(map[string]struct{}, len(r.Categories))
	out := make([]string, 0, len(r.Categories))
	for _, c := range r.Categories {
		alias := strings.TrimSpace(c.Alias)
		if alias == "" {
			continue
		}
		if _, ok := seen[alias]; ok {
			continue
		}
		seen[alias] = struct{}{}
		out = append(out, alias)
	}
	return out
}

// Record is the canonical row written to the warehouse, keyed by ID.
type Record struct {
	ID             string   `json:"id"`
	Alias          string   `json:"alias"`
	Name           string   `json:"name"`
	URL            string   `json:"url"`
	ReviewCount    int      `json:"review_count"`
	Categories     []string `json:"categories"`
	EthnicCategory []string `json:"ethnic_category"`
	Rating         float64  `json:"rating"`
	Price          *string  `json:"price"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	City           string   `json:"city"`
	Address        string   `json:"address"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (r Record) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// Float returns a pointer to v; handy for building records in code and tests.
func Float(v float64) *float64 { return &v }

// String returns a pointer to s.
func String(s string) *string { return &s }
