package locations

import (
	"fmt"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
)

// Range is a half-open [Start, End) window over the location list.
// End == 0 selects through the last location.
type Range struct {
	Start int
	End   int
}

// Position is the iterator cursor: the term ordinal and the location index
// of the next unit to be produced.
type Position struct {
	Term  int `json:"term"`
	Index int `json:"index"`
}

func (p Position) String() string { return fmt.Sprintf("term=%d index=%d", p.Term, p.Index) }

// Iterator yields work units terms-outer, locations-inner. It is not safe
// for concurrent use; the pipeline drains it from a single goroutine.
type Iterator struct {
	locs  []Location
	terms []string
	start int
	end   int
	pos   Position
}

// NewIterator validates the inputs and returns an iterator at its first unit.
func NewIterator(locs []Location, terms []string, r Range) (*Iterator, error) {
	if len(terms) == 0 {
		return nil, fmt.Errorf("no search terms: %w", internalerr.ErrInvalidInput)
	}
	end := r.End
	if end == 0 {
		end = len(locs)
	}
	if r.Start < 0 || end > len(locs) || r.Start > end {
		return nil, fmt.Errorf("range [%d,%d) outside %d locations: %w", r.Start, r.End, len(locs), internalerr.ErrInvalidInput)
	}
	it := &Iterator{
		locs:  locs,
		terms: append([]string(nil), terms...),
		start: r.Start,
		end:   end,
	}
	it.Reset()
	return it, nil
}

// Next returns the next work unit, or false once the sequence is exhausted.
func (it *Iterator) Next() (business.WorkUnit, bool) {
	if it.start == it.end || it.pos.Term >= len(it.terms) {
		return business.WorkUnit{}, false
	}
	loc := it.locs[it.pos.Index]
	u := business.WorkUnit{
		Term:         it.terms[it.pos.Term],
		Latitude:     loc.Latitude,
		Longitude:    loc.Longitude,
		LocationName: loc.Name,
		Index:        it.pos.Index,
	}
	it.pos.Index++
	if it.pos.Index >= it.end {
		it.pos.Index = it.start
		it.pos.Term++
	}
	return u, true
}

// Position returns the cursor of the next unit.
func (it *Iterator) Position() Position { return it.pos }

// Seek moves the cursor so the next unit is (term, index). Seeking to
// Term == len(terms) positions the iterator at the end.
func (it *Iterator) Seek(p Position) error {
	if p.Term == len(it.terms) && p.Index == it.start {
		it.pos = p
		return nil
	}
	if p.Term < 0 || p.Term >= len(it.terms) || p.Index < it.start || p.Index >= it.end {
		return fmt.Errorf("seek %s outside terms=%d range=[%d,%d): %w", p, len(it.terms), it.start, it.end, internalerr.ErrInvalidInput)
	}
	it.pos = p
	return nil
}

// Reset rewinds to the first unit.
func (it *Iterator) Reset() {
	it.pos = Position{Term: 0, Index: it.start}
}

// Remaining returns how many units Next will still produce.
func (it *Iterator) Remaining() int {
	width := it.end - it.start
	if width == 0 || it.pos.Term >= len(it.terms) {
		return 0
	}
	return (len(it.terms)-it.pos.Term-1)*width + (it.end - it.pos.Index)
}

// Len is the total number of units in the sequence.
func (it *Iterator) Len() int { return len(it.terms) * (it.end - it.start) }
