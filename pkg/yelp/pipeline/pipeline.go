// Package pipeline drives work units from the location iterator through
// fetch, raw storage, normalization and the warehouse sink.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/yelpetl/pkg/yelp/business"
	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
	"github.com/cognicore/yelpetl/pkg/yelp/locations"
	"github.com/cognicore/yelpetl/pkg/yelp/normalize"
	"github.com/cognicore/yelpetl/pkg/yelp/sink"
)

// Fetcher returns every raw business for a unit.
type Fetcher interface {
	FetchUnit(ctx context.Context, u business.WorkUnit) ([]business.Raw, error)
}

// RawStore keeps raw batches between stages.
type RawStore interface {
	Write(ctx context.Context, u business.WorkUnit, raws []business.Raw) (string, error)
	ReadRaw(ctx context.Context, u business.WorkUnit) ([]business.Raw, error)
}

// Upserter writes canonical records idempotently.
type Upserter interface {
	Upsert(ctx context.Context, records []business.Record) (sink.Result, error)
}

// Options wires a Pipeline. Which fields are required depends on the stage:
// Extract needs Fetcher and Raw, Load needs Raw, Normalizer and Writer, Run
// needs everything but Raw.
type Options struct {
	Fetcher    Fetcher
	Raw        RawStore
	Normalizer *normalize.Normalizer
	Writer     Upserter
	Workers    int
	Retry      Retry
	Logger     *zap.Logger
}

// Pipeline is safe to reuse across runs.
type Pipeline struct {
	opts Options
	log  *zap.Logger
}

// New returns a pipeline with defaults filled in.
func New(opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetry
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{opts: opts, log: log}
}

// Extract fetches every unit and stores its raw batch.
func (p *Pipeline) Extract(ctx context.Context, it *locations.Iterator) (*Report, error) {
	if p.opts.Fetcher == nil || p.opts.Raw == nil {
		return nil, fmt.Errorf("pipeline: extract needs a fetcher and raw store: %w", internalerr.ErrInvalidConfig)
	}
	return p.run(ctx, StageExtract, it, p.extractUnit)
}

// Load reads each unit's raw batch, normalizes it and upserts the records.
func (p *Pipeline) Load(ctx context.Context, it *locations.Iterator) (*Report, error) {
	if p.opts.Raw == nil || p.opts.Normalizer == nil || p.opts.Writer == nil {
		return nil, fmt.Errorf("pipeline: load needs a raw store, normalizer and writer: %w", internalerr.ErrInvalidConfig)
	}
	return p.run(ctx, StageLoad, it, p.loadUnit)
}

// Run does fetch, optional raw storage, normalize and upsert per unit.
func (p *Pipeline) Run(ctx context.Context, it *locations.Iterator) (*Report, error) {
	if p.opts.Fetcher == nil || p.opts.Normalizer == nil || p.opts.Writer == nil {
		return nil, fmt.Errorf("pipeline: run needs a fetcher, normalizer and writer: %w", internalerr.ErrInvalidConfig)
	}
	return p.run(ctx, StageRun, it, p.runUnit)
}

type unitFunc func(ctx context.Context, log *zap.Logger, rep *UnitReport) error

type scheduled struct {
	unit business.WorkUnit
	pos  locations.Position
}

// run drains it and processes units on a fixed pool. A failed unit is
// recorded and the rest continue. The returned error is only non-nil when ctx
// ended the run early.
func (p *Pipeline) run(ctx context.Context, stage Stage, it *locations.Iterator, fn unitFunc) (*Report, error) {
	rep := &Report{RunID: newRunID(), Stage: stage, Started: time.Now()}
	log := p.log.With(zap.String("run_id", rep.RunID), zap.String("stage", string(stage)))

	var units []scheduled
	for {
		pos := it.Position()
		u, ok := it.Next()
		if !ok {
			break
		}
		units = append(units, scheduled{unit: u, pos: pos})
	}
	rep.End = it.Position()
	rep.Units = make([]UnitReport, len(units))

	log.Info("pipeline: start",
		zap.Int("units", len(units)),
		zap.Int("workers", p.opts.Workers))

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, s := range units {
		ur := &rep.Units[i]
		ur.Unit, ur.Position = s.unit, s.pos
		if err := ctx.Err(); err != nil {
			ur.Err = err
			continue
		}
		g.Go(func() error {
			ulog := log.With(
				zap.String("term", s.unit.Term),
				zap.String("location", s.unit.LocationName),
				zap.Int("index", s.unit.Index))
			start := time.Now()
			ur.Err = fn(ctx, ulog, ur)
			ur.Duration = time.Since(start)
			if ur.Err != nil {
				ulog.Error("pipeline: unit failed", zap.Error(ur.Err))
				return nil
			}
			ulog.Info("pipeline: unit done",
				zap.Int("fetched", ur.Fetched),
				zap.Int("written", ur.Written),
				zap.Int("skipped", ur.Skipped),
				zap.Duration("duration", ur.Duration))
			return nil
		})
	}
	_ = g.Wait()
	rep.finish()

	fields := []zap.Field{
		zap.Int("units", rep.Totals.Units),
		zap.Int("failed", rep.Totals.Failed),
		zap.Int("fetched", rep.Totals.Fetched),
		zap.Int("written", rep.Totals.Written),
		zap.Int("skipped", rep.Totals.Skipped),
		zap.Duration("elapsed", rep.Finished.Sub(rep.Started)),
	}
	if pos, ok := rep.ResumeFrom(); ok {
		fields = append(fields, zap.Stringer("resume_from", pos))
	}
	log.Info("pipeline: finished", fields...)

	return rep, ctx.Err()
}

func (p *Pipeline) fetch(ctx context.Context, log *zap.Logger, rep *UnitReport) ([]business.Raw, error) {
	var raws []business.Raw
	n, err := p.opts.Retry.do(ctx, log, func() error {
		var err error
		raws, err = p.opts.Fetcher.FetchUnit(ctx, rep.Unit)
		return err
	})
	rep.Attempts = n
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rep.Unit, err)
	}
	rep.Fetched = len(raws)
	return raws, nil
}

func (p *Pipeline) normalizeAndWrite(ctx context.Context, rep *UnitReport, raws []business.Raw) error {
	recs, stats, err := p.opts.Normalizer.Normalize(ctx, raws)
	if err != nil {
		return fmt.Errorf("normalize %s: %w", rep.Unit, err)
	}
	rep.ClassifiedIn = stats.ClassifiedIn()
	rep.GeofencePassed = stats.Accepted
	rep.Geocoded = stats.Geocoded
	rep.GeocodeMisses = stats.GeocodeMisses

	res, err := p.opts.Writer.Upsert(ctx, recs)
	rep.Written, rep.Skipped = res.Inserted, res.Skipped
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rep.Unit, err)
	}
	return nil
}

func (p *Pipeline) extractUnit(ctx context.Context, log *zap.Logger, rep *UnitReport) error {
	raws, err := p.fetch(ctx, log, rep)
	if err != nil {
		return err
	}
	key, err := p.opts.Raw.Write(ctx, rep.Unit, raws)
	if err != nil {
		return fmt.Errorf("store raw %s: %w", rep.Unit, err)
	}
	rep.Key = key
	return nil
}

func (p *Pipeline) loadUnit(ctx context.Context, log *zap.Logger, rep *UnitReport) error {
	raws, err := p.opts.Raw.ReadRaw(ctx, rep.Unit)
	if err != nil {
		return fmt.Errorf("read raw %s: %w", rep.Unit, err)
	}
	rep.Fetched = len(raws)
	return p.normalizeAndWrite(ctx, rep, raws)
}

func (p *Pipeline) runUnit(ctx context.Context, log *zap.Logger, rep *UnitReport) error {
	raws, err := p.fetch(ctx, log, rep)
	if err != nil {
		return err
	}
	if p.opts.Raw != nil {
		key, err := p.opts.Raw.Write(ctx, rep.Unit, raws)
		if err != nil {
			return fmt.Errorf("store raw %s: %w", rep.Unit, err)
		}
		rep.Key = key
	}
	return p.normalizeAndWrite(ctx, rep, raws)
}
