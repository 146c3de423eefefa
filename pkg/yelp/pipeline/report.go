package pipeline

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/locations"
)

// Stage names the work done per unit.
type Stage string

const (
	StageExtract Stage = "extract"
	StageLoad    Stage = "load"
	StageRun     Stage = "run"
)

// UnitReport is the outcome of one work unit.
type UnitReport struct {
	Unit     business.WorkUnit  `json:"unit"`
	Position locations.Position `json:"position"`
	Key      string             `json:"key,omitempty"`

	Fetched        int `json:"fetched"`
	ClassifiedIn   int `json:"classified_in"`
	GeofencePassed int `json:"geofence_passed"`
	Geocoded       int `json:"geocoded"`
	GeocodeMisses  int `json:"geocode_misses"`
	Written        int `json:"written"`
	Skipped        int `json:"skipped"`
	Attempts       int `json:"attempts"`

	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
}

// Failed reports whether the unit ended in an error.
func (u UnitReport) Failed() bool { return u.Err != nil }

// Totals sums the unit counters of a run.
type Totals struct {
	Units          int `json:"units"`
	Failed         int `json:"failed"`
	Fetched        int `json:"fetched"`
	ClassifiedIn   int `json:"classified_in"`
	GeofencePassed int `json:"geofence_passed"`
	Geocoded       int `json:"geocoded"`
	GeocodeMisses  int `json:"geocode_misses"`
	Written        int `json:"written"`
	Skipped        int `json:"skipped"`
}

func (t *Totals) add(u UnitReport) {
	t.Units++
	if u.Failed() {
		t.Failed++
	}
	t.Fetched += u.Fetched
	t.ClassifiedIn += u.ClassifiedIn
	t.GeofencePassed += u.GeofencePassed
	t.Geocoded += u.Geocoded
	t.GeocodeMisses += u.GeocodeMisses
	t.Written += u.Written
	t.Skipped += u.Skipped
}

// Report describes one pipeline invocation. Units are in iteration order.
type Report struct {
	RunID    string       `json:"run_id"`
	Stage    Stage        `json:"stage"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Units    []UnitReport `json:"units"`
	Totals   Totals       `json:"totals"`

	// End is the iterator position after the last scheduled unit.
	End locations.Position `json:"end"`
}

// Failed returns the failed units in iteration order.
func (r *Report) Failed() []UnitReport {
	var out []UnitReport
	for _, u := range r.Units {
		if u.Failed() {
			out = append(out, u)
		}
	}
	return out
}

// ResumeFrom returns the position of the first failed unit. Re-running from
// there is safe because the sink skips rows already written.
func (r *Report) ResumeFrom() (locations.Position, bool) {
	for _, u := range r.Units {
		if u.Failed() {
			return u.Position, true
		}
	}
	return locations.Position{}, false
}

func (r *Report) finish() {
	r.Totals = Totals{}
	for i := range r.Units {
		if u := &r.Units[i]; u.Err != nil {
			u.Error = u.Err.Error()
		}
		r.Totals.add(r.Units[i])
	}
	r.Finished = time.Now()
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newRunID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}
