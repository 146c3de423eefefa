// Package etl wires configuration into a pipeline for the command binaries.
package etl

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cognicore/yelpetl/internal/logging"
	"github.com/cognicore/yelpetl/pkg/yelp/config"
	"github.com/cognicore/yelpetl/pkg/yelp/geocode"
	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
	"github.com/cognicore/yelpetl/pkg/yelp/locations"
	"github.com/cognicore/yelpetl/pkg/yelp/normalize"
	"github.com/cognicore/yelpetl/pkg/yelp/objectstore"
	"github.com/cognicore/yelpetl/pkg/yelp/pipeline"
	"github.com/cognicore/yelpetl/pkg/yelp/search"
	"github.com/cognicore/yelpetl/pkg/yelp/sink"
	"github.com/cognicore/yelpetl/pkg/yelp/store"
	"github.com/cognicore/yelpetl/pkg/yelp/store/postgres"
	"github.com/cognicore/yelpetl/pkg/yelp/store/sqlite"
)

// Exit codes.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitUsage  = 2
)

// Flags are the command-line overrides shared by every binary.
type Flags struct {
	Config  string
	Terms   string
	Start   int
	End     int
	Workers int
	Resume  string
	Report  string

	set map[string]bool
}

// ParseFlags parses args for the named command.
func ParseFlags(name string, args []string, stderr io.Writer) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.Config, "config", "", "Config file (YAML, optional)")
	fs.StringVar(&f.Terms, "terms", "", "Comma-separated search terms")
	fs.IntVar(&f.Start, "start", 0, "First location index")
	fs.IntVar(&f.End, "end", 0, "Location index to stop before (0 = all)")
	fs.IntVar(&f.Workers, "workers", 0, "Concurrent work units")
	fs.StringVar(&f.Resume, "resume", "", "Resume position as term:index")
	fs.StringVar(&f.Report, "report", "", "Write the JSON run report to this file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.set = map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

// Apply overlays explicitly set flags onto cfg.
func (f *Flags) Apply(cfg *config.Config) {
	if f.set["terms"] {
		cfg.Search.Terms = config.SplitTerms(f.Terms)
	}
	if f.set["start"] {
		cfg.Locations.Start = f.Start
	}
	if f.set["end"] {
		cfg.Locations.End = f.End
	}
	if f.set["workers"] {
		cfg.Pipeline.Workers = f.Workers
	}
}

// ParsePosition reads "term:index".
func ParsePosition(s string) (locations.Position, error) {
	t, i, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return locations.Position{}, fmt.Errorf("position %q: want term:index: %w", s, internalerr.ErrInvalidInput)
	}
	term, err := strconv.Atoi(t)
	if err != nil {
		return locations.Position{}, fmt.Errorf("position %q: %w", s, internalerr.ErrInvalidInput)
	}
	idx, err := strconv.Atoi(i)
	if err != nil {
		return locations.Position{}, fmt.Errorf("position %q: %w", s, internalerr.ErrInvalidInput)
	}
	return locations.Position{Term: term, Index: idx}, nil
}

// FormatPosition is the inverse of ParsePosition.
func FormatPosition(p locations.Position) string {
	return fmt.Sprintf("%d:%d", p.Term, p.Index)
}

// OpenWarehouse opens the configured warehouse backend.
func OpenWarehouse(ctx context.Context, cfg config.Warehouse) (store.Warehouse, error) {
	switch cfg.Backend {
	case "sqlite":
		return sqlite.OpenSQLite(ctx, cfg.Path)
	case "postgres":
		return postgres.Open(ctx, postgres.Options{
			DSN:            cfg.DSN,
			Schema:         cfg.Schema,
			Table:          cfg.Table,
			MaxConns:       cfg.MaxConns,
			SimpleProtocol: cfg.SimpleProtocol,
		})
	}
	return nil, fmt.Errorf("warehouse backend %q: %w", cfg.Backend, internalerr.ErrInvalidConfig)
}

// OpenObjectStore opens the configured raw batch store.
func OpenObjectStore(ctx context.Context, cfg config.Storage) (objectstore.Store, error) {
	switch cfg.Backend {
	case "dir":
		return objectstore.NewDir(cfg.Dir)
	case "s3":
		return objectstore.NewS3(ctx, cfg.Bucket, cfg.Region)
	}
	return nil, fmt.Errorf("storage backend %q: %w", cfg.Backend, internalerr.ErrInvalidConfig)
}

// NewGeocoder builds the rate-limited, cached geocoder. It returns nil when
// geocoding is disabled. cache may be nil.
func NewGeocoder(cfg config.Geocode, cache geocode.Store, log *zap.Logger) (geocode.Geocoder, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil, nil
	}
	var g geocode.Geocoder = &geocode.Nominatim{BaseURL: cfg.BaseURL, UserAgent: cfg.UserAgent}
	g = geocode.NewRateLimited(g, cfg.RPS)
	return geocode.NewCached(g, cfg.CacheSize, cache, log)
}

// NewFetcher builds the paginated search fetcher.
func NewFetcher(cfg config.Search) *search.Fetcher {
	return search.NewFetcher(&search.Client{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey}, cfg.Radius)
}

// Main runs stage for a command and returns its exit code.
func Main(ctx context.Context, name string, stage pipeline.Stage, args []string, stderr io.Writer) int {
	flags, err := ParseFlags(name, args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}

	cfg, err := config.Load(flags.Config)
	if err != nil {
		fmt.Fprintf(stderr, "%s: config: %v\n", name, err)
		return ExitUsage
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return ExitUsage
	}
	flags.Apply(&cfg)
	if err := cfg.Validate(config.Needs{Search: stage != pipeline.StageLoad, Warehouse: stage != pipeline.StageExtract}); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return ExitUsage
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return ExitUsage
	}
	defer log.Sync()
	log = log.With(zap.String("cmd", name))

	rep, err := run(ctx, cfg, flags, stage, log)
	if rep != nil && flags.Report != "" {
		if werr := writeReport(flags.Report, rep); werr != nil {
			log.Error("write report", zap.String("path", flags.Report), zap.Error(werr))
		}
	}
	if err != nil {
		log.Error("run aborted", zap.Error(err))
		return ExitFailed
	}
	if pos, ok := rep.ResumeFrom(); ok {
		log.Error("units failed",
			zap.Int("failed", rep.Totals.Failed),
			zap.String("resume", FormatPosition(pos)))
		return ExitFailed
	}
	return ExitOK
}

func run(ctx context.Context, cfg config.Config, flags *Flags, stage pipeline.Stage, log *zap.Logger) (*pipeline.Report, error) {
	comp, err := (&config.Loader{Config: cfg}).Load()
	if err != nil {
		return nil, err
	}
	it, err := comp.Iterator(cfg)
	if err != nil {
		return nil, err
	}
	if flags.Resume != "" {
		pos, err := ParsePosition(flags.Resume)
		if err != nil {
			return nil, err
		}
		if err := it.Seek(pos); err != nil {
			return nil, err
		}
	}

	opts := pipeline.Options{
		Workers: cfg.Pipeline.Workers,
		Retry:   pipeline.Retry{Attempts: cfg.Pipeline.RetryAttempts, Delay: cfg.Pipeline.RetryDelay},
		Logger:  log,
	}

	objects, err := OpenObjectStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	opts.Raw = sink.NewRawWriter(objects, cfg.Storage.Prefix)

	if stage != pipeline.StageLoad {
		opts.Fetcher = NewFetcher(cfg.Search)
	}
	if stage != pipeline.StageExtract {
		wh, err := OpenWarehouse(ctx, cfg.Warehouse)
		if err != nil {
			return nil, err
		}
		defer wh.Close()

		var cache geocode.Store
		if gc, ok := wh.(store.GeocodeCache); ok {
			cache = gc
		}
		g, err := NewGeocoder(cfg.Geocode, cache, log)
		if err != nil {
			return nil, err
		}
		opts.Normalizer = normalize.New(comp.Taxonomy, comp.Geofence, g)
		opts.Writer = sink.NewWriter(wh)
	}

	log.Info("starting",
		zap.String("stage", string(stage)),
		zap.Strings("terms", cfg.Search.Terms),
		zap.Int("locations", len(comp.Locations)),
		zap.Int("units", it.Remaining()),
		zap.Int("total_units", it.Len()))

	p := pipeline.New(opts)
	switch stage {
	case pipeline.StageExtract:
		return p.Extract(ctx, it)
	case pipeline.StageLoad:
		return p.Load(ctx, it)
	default:
		return p.Run(ctx, it)
	}
}

func writeReport(path string, rep *pipeline.Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
