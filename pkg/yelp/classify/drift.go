package classify

import "sort"

// AliasCount is an alias and the number of businesses carrying it.
type AliasCount struct {
	Alias string `json:"alias"`
	Count int    `json:"count"`
}

// Drift compares observed category aliases with the taxonomy.
type Drift struct {
	Businesses int `json:"businesses"`
	// Orphans are observed aliases in no set, most frequent first.
	Orphans []AliasCount `json:"orphans"`
	// Unused lists, per set, the aliases no business carried.
	Unused map[string][]string `json:"unused"`
}

func (t *Taxonomy) sets() map[string]set {
	return map[string]set{
		"nonfood":             t.nonFood,
		"definitely_excluded": t.excluded,
		"food_and_bars":       t.foodAndBars,
		"bars":                t.bars,
		"food":                t.food,
		"ethnicities":         t.ethnicities,
	}
}

// Known reports whether alias belongs to any set.
func (t *Taxonomy) Known(alias string) bool {
	for _, s := range t.sets() {
		if _, ok := s[alias]; ok {
			return true
		}
	}
	return false
}

// Drift reports orphan and unused aliases over businesses, one alias list
// per business.
func (t *Taxonomy) Drift(businesses [][]string) Drift {
	seen := make(map[string]int)
	for _, aliases := range businesses {
		uniq := make(map[string]struct{}, len(aliases))
		for _, a := range aliases {
			if _, dup := uniq[a]; dup {
				continue
			}
			uniq[a] = struct{}{}
			seen[a]++
		}
	}

	d := Drift{Businesses: len(businesses), Unused: make(map[string][]string)}
	for a, n := range seen {
		if !t.Known(a) {
			d.Orphans = append(d.Orphans, AliasCount{Alias: a, Count: n})
		}
	}
	sort.Slice(d.Orphans, func(i, j int) bool {
		if d.Orphans[i].Count != d.Orphans[j].Count {
			return d.Orphans[i].Count > d.Orphans[j].Count
		}
		return d.Orphans[i].Alias < d.Orphans[j].Alias
	})

	for name, s := range t.sets() {
		var unused []string
		for a := range s {
			if _, ok := seen[a]; !ok {
				unused = append(unused, a)
			}
		}
		sort.Strings(unused)
		d.Unused[name] = unused
	}
	return d
}
