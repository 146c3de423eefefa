package classify

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
)

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

// File is the YAML shape of a taxonomy file.
type File struct {
	NonFood            []string `yaml:"nonfood"`
	DefinitelyExcluded []string `yaml:"definitely_excluded"`
	FoodAndBars        []string `yaml:"food_and_bars"`
	Bars               []string `yaml:"bars"`
	Food               []string `yaml:"food"`
	Ethnicities        []string `yaml:"ethnicities"`
}

type set map[string]struct{}

func newSet(aliases []string) set {
	s := make(set, len(aliases))
	for _, a := range aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			s[a] = struct{}{}
		}
	}
	return s
}

func (s set) intersects(aliases []string) bool {
	for _, a := range aliases {
		if _, ok := s[a]; ok {
			return true
		}
	}
	return false
}

// Taxonomy classifies category aliases. It is never written after
// construction, so one value can be shared by every worker.
type Taxonomy struct {
	nonFood     set
	excluded    set
	foodAndBars set
	bars        set
	food        set
	ethnicities set
}

// New builds a taxonomy from parsed sets.
func New(f File) (*Taxonomy, error) {
	if len(f.FoodAndBars) == 0 {
		return nil, fmt.Errorf("taxonomy: food_and_bars is empty: %w", internalerr.ErrInvalidConfig)
	}
	return &Taxonomy{
		nonFood:     newSet(f.NonFood),
		excluded:    newSet(f.DefinitelyExcluded),
		foodAndBars: newSet(f.FoodAndBars),
		bars:        newSet(f.Bars),
		food:        newSet(f.Food),
		ethnicities: newSet(f.Ethnicities),
	}, nil
}

// Parse builds a taxonomy from YAML bytes.
func Parse(data []byte) (*Taxonomy, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("taxonomy: %w", err)
	}
	return New(f)
}

// Load reads a taxonomy file from disk.
func Load(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Default returns the built-in restaurant and bar taxonomy.
func Default() *Taxonomy {
	t, err := Parse(defaultTaxonomy)
	if err != nil {
		panic(err)
	}
	return t
}

// Relevant reports whether any alias is a food or bar category.
func (t *Taxonomy) Relevant(aliases []string) bool {
	return t.foodAndBars.intersects(aliases)
}

// Excluded reports whether any alias is in the definitely-excluded set.
func (t *Taxonomy) Excluded(aliases []string) bool {
	return t.excluded.intersects(aliases)
}

// Accepted reports whether a record enters the pipeline. Exclusion wins
// over relevance.
func (t *Taxonomy) Accepted(aliases []string) bool {
	return t.Relevant(aliases) && !t.Excluded(aliases)
}

// EthnicTags returns the aliases that name an ethnicity, in input order,
// or the single NotSpecified tag.
func (t *Taxonomy) EthnicTags(aliases []string) []string {
	var tags []string
	for _, a := range aliases {
		if _, ok := t.ethnicities[a]; ok {
			tags = append(tags, a)
		}
	}
	if len(tags) == 0 {
		return []string{business.NotSpecified}
	}
	return tags
}

// IsBar reports whether any alias is a bar category.
func (t *Taxonomy) IsBar(aliases []string) bool { return t.bars.intersects(aliases) }

// IsFood reports whether any alias is a food category without alcohol.
func (t *Taxonomy) IsFood(aliases []string) bool { return t.food.intersects(aliases) }

// IsNonFood reports whether any alias is a non-food category.
func (t *Taxonomy) IsNonFood(aliases []string) bool { return t.nonFood.intersects(aliases) }

// Size returns the number of aliases in each set, keyed by YAML name.
func (t *Taxonomy) Size() map[string]int {
	return map[string]int{
		"nonfood":             len(t.nonFood),
		"definitely_excluded": len(t.excluded),
		"food_and_bars":       len(t.foodAndBars),
		"bars":                len(t.bars),
		"food":                len(t.food),
		"ethnicities":         len(t.ethnicities),
	}
}
