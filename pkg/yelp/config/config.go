// Package config reads the pipeline configuration file and builds the
// components it names.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
)

// Search configures the business search API.
type Search struct {
	BaseURL string   `yaml:"base_url"`
	Radius  int      `yaml:"radius"`
	Terms   []string `yaml:"terms"`
	// APIKey is never read from the file.
	APIKey string `yaml:"-"`
}

// Locations selects the seed table and the window over it.
type Locations struct {
	Path  string `yaml:"path"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
}

// Taxonomy overrides the embedded category sets when Path is set.
type Taxonomy struct {
	Path string `yaml:"path"`
}

// Geofence selects the address validation mode.
type Geofence struct {
	Mode  string `yaml:"mode"`
	State string `yaml:"state"`
}

// Geocode configures address resolution.
type Geocode struct {
	Provider  string  `yaml:"provider"` // nominatim or none
	BaseURL   string  `yaml:"base_url"`
	UserAgent string  `yaml:"user_agent"`
	RPS       float64 `yaml:"rps"`
	CacheSize int     `yaml:"cache_size"`
}

// Storage is where raw batches go.
type Storage struct {
	Backend string `yaml:"backend"` // dir or s3
	Dir     string `yaml:"dir"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Region  string `yaml:"region"`
}

// Warehouse is where canonical records go.
type Warehouse struct {
	Backend  string `yaml:"backend"` // sqlite or postgres
	Path     string `yaml:"path"`
	DSN      string `yaml:"dsn"`
	Schema   string `yaml:"schema"`
	Table    string `yaml:"table"`
	MaxConns int    `yaml:"max_conns"`

	// SimpleProtocol disables prepared statements for pgbouncer.
	SimpleProtocol bool `yaml:"simple_protocol"`
}

// Pipeline tunes the worker pool.
type Pipeline struct {
	Workers       int           `yaml:"workers"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// Log configures the logger.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the whole file.
type Config struct {
	Search    Search    `yaml:"search"`
	Locations Locations `yaml:"locations"`
	Taxonomy  Taxonomy  `yaml:"taxonomy"`
	Geofence  Geofence  `yaml:"geofence"`
	Geocode   Geocode   `yaml:"geocode"`
	Storage   Storage   `yaml:"storage"`
	Warehouse Warehouse `yaml:"warehouse"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Log       Log       `yaml:"log"`
}

// DefaultTerms are the search terms used when none are configured.
var DefaultTerms = []string{"food", "bars"}

// Defaults returns a configuration that runs locally without a file.
func Defaults() Config {
	return Config{
		Search: Search{
			BaseURL: "https://api.yelp.com/v3/businesses/search",
			Radius:  10000,
			Terms:   append([]string(nil), DefaultTerms...),
		},
		Locations: Locations{Path: "configs/ca_locations.csv"},
		Geofence:  Geofence{Mode: "known-city", State: "CA"},
		Geocode: Geocode{
			Provider:  "nominatim",
			BaseURL:   "https://nominatim.openstreetmap.org/search",
			UserAgent: "yelpetl",
			RPS:       1,
			CacheSize: 4096,
		},
		Storage:   Storage{Backend: "dir", Dir: "data/raw", Prefix: "yelp"},
		Warehouse: Warehouse{Backend: "sqlite", Path: "data/yelp.db", Table: "yelp_businesses", MaxConns: 4},
		Pipeline:  Pipeline{Workers: 4, RetryAttempts: 3, RetryDelay: 2 * time.Second},
		Log:       Log{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w: %v", path, internalerr.ErrInvalidConfig, err)
	}
	return cfg, nil
}

// ApplyEnv loads .env when present, then overrides fields from the
// environment. The API key is only ever taken from here.
func (c *Config) ApplyEnv() error {
	_ = godotenv.Load()

	c.Search.APIKey = strings.TrimSpace(os.Getenv("YELP_API_KEY"))
	setString(&c.Warehouse.DSN, "YELPETL_PG_DSN")
	setString(&c.Warehouse.Backend, "YELPETL_WAREHOUSE")
	setString(&c.Storage.Backend, "YELPETL_STORAGE")
	setString(&c.Storage.Bucket, "YELPETL_BUCKET")
	setString(&c.Storage.Region, "AWS_REGION")
	setString(&c.Log.Level, "YELPETL_LOG_LEVEL")
	if v := os.Getenv("YELPETL_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("YELPETL_WORKERS=%q: %w", v, internalerr.ErrInvalidConfig)
		}
		c.Pipeline.Workers = n
	}
	if v := os.Getenv("YELPETL_TERMS"); v != "" {
		c.Search.Terms = SplitTerms(v)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// SplitTerms parses a comma-separated term list.
func SplitTerms(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Needs selects the sections a stage uses beyond terms, locations, storage
// and pipeline, which every stage reads.
type Needs struct {
	// Search is false for the load stage, which never calls the API.
	Search bool
	// Warehouse covers the warehouse and geocoder; extract opens neither.
	Warehouse bool
}

// NeedsAll is what the combined run stage uses.
var NeedsAll = Needs{Search: true, Warehouse: true}

// Validate checks the fields a stage with needs n reads.
func (c *Config) Validate(n Needs) error {
	bad := func(field, format string, args ...any) error {
		return fmt.Errorf("%s: %s: %w", field, fmt.Sprintf(format, args...), internalerr.ErrInvalidConfig)
	}
	if n.Search && c.Search.APIKey == "" {
		return bad("YELP_API_KEY", "not set")
	}
	if len(c.Search.Terms) == 0 {
		return bad("search.terms", "empty")
	}
	if c.Search.Radius < 0 || c.Search.Radius > 40000 {
		return bad("search.radius", "%d outside 0..40000", c.Search.Radius)
	}
	if c.Locations.Path == "" {
		return bad("locations.path", "empty")
	}
	if c.Locations.Start < 0 || c.Locations.End < 0 || (c.Locations.End != 0 && c.Locations.End < c.Locations.Start) {
		return bad("locations", "bad range [%d,%d)", c.Locations.Start, c.Locations.End)
	}
	if n.Warehouse {
		switch c.Geocode.Provider {
		case "nominatim":
			if c.Geocode.RPS <= 0 {
				return bad("geocode.rps", "must be positive")
			}
		case "none", "":
		default:
			return bad("geocode.provider", "unknown %q", c.Geocode.Provider)
		}
	}
	switch c.Storage.Backend {
	case "dir":
		if c.Storage.Dir == "" {
			return bad("storage.dir", "empty")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return bad("storage.bucket", "empty")
		}
	default:
		return bad("storage.backend", "unknown %q", c.Storage.Backend)
	}
	if n.Warehouse {
		switch c.Warehouse.Backend {
		case "sqlite":
			if c.Warehouse.Path == "" {
				return bad("warehouse.path", "empty")
			}
		case "postgres":
			if c.Warehouse.DSN == "" {
				return bad("warehouse.dsn", "empty")
			}
		default:
			return bad("warehouse.backend", "unknown %q", c.Warehouse.Backend)
		}
	}
	if c.Pipeline.Workers < 1 {
		return bad("pipeline.workers", "%d < 1", c.Pipeline.Workers)
	}
	if c.Pipeline.RetryAttempts < 1 {
		return bad("pipeline.retry_attempts", "%d < 1", c.Pipeline.RetryAttempts)
	}
	return nil
}
