package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsecache/pulsecache/internal/cache"
	"github.com/pulsecache/pulsecache/internal/metrics"
	"github.com/pulsecache/pulsecache/internal/source"
	"github.com/pulsecache/pulsecache/internal/window"
	pkgerrors "github.com/pulsecache/pulsecache/pkg/errors"
	"github.com/pulsecache/pulsecache/pkg/types"
)

// Config carries the orchestration knobs resolved at startup.
type Config struct {
	// Workers bounds simultaneous fetch tasks across all brands and dates.
	// The bottleneck is the brands' databases and the network, so the limit
	// is fixed and small rather than scaled to core count.
	Workers int

	WindowSize int
	Backfill   bool
	TargetDate string

	// DryRun exercises the fetch path but suppresses every cache mutation.
	// A backfill run overrides it: backfills exist to write.
	DryRun bool

	TTL         time.Duration
	PreserveTTL time.Duration
}

// Orchestrator schedules fetch/cache/evict work across every brand and every
// date in the rolling window.
type Orchestrator struct {
	cfg       Config
	planner   *window.Planner
	backend   cache.Backend
	replacer  *cache.Replacer
	src       source.Source
	brands    []string
	collector *metrics.Collector
	logger    *slog.Logger

	// now is swapped in tests to pin the window.
	now func() time.Time
}

// New constructs an orchestrator. The roster is resolved once by the caller
// and is immutable for the process lifetime.
func New(cfg Config, planner *window.Planner, backend cache.Backend, src source.Source,
	roster map[string]source.Target, collector *metrics.Collector, logger *slog.Logger) (*Orchestrator, error) {

	if cfg.Workers <= 0 {
		return nil, pkgerrors.Newf(pkgerrors.ErrCodeInvalidState, "worker pool size %d", cfg.Workers)
	}
	if len(roster) == 0 {
		return nil, pkgerrors.New(pkgerrors.ErrCodeEmptyRoster, "no brands configured")
	}

	brands := make([]string, 0, len(roster))
	for brand := range roster {
		brands = append(brands, brand)
	}
	sort.Strings(brands)

	return &Orchestrator{
		cfg:       cfg,
		planner:   planner,
		backend:   backend,
		replacer:  cache.NewReplacer(backend, logger),
		src:       src,
		brands:    brands,
		collector: collector,
		logger:    logger.With("component", "pipeline"),
		now:       time.Now,
	}, nil
}

// Run executes one full refresh: plan the window, fetch or skip every
// (brand, date) pair, evict the newly out-of-window key per brand, and
// return the complete per-brand per-date status report. The call blocks
// until every scheduled task has completed; no partial results are returned
// early. Task-level failures never abort sibling tasks.
func (o *Orchestrator) Run(ctx context.Context) (*types.RunReport, error) {
	plan := o.planner.Plan(o.now(), o.cfg.Backfill, o.cfg.TargetDate, o.cfg.WindowSize)

	report := &types.RunReport{
		RunID:     uuid.NewString(),
		Anchor:    plan.Anchor.Format(window.DateFormat),
		Backfill:  o.cfg.Backfill,
		DryRun:    o.preview(),
		StartedAt: o.now(),
	}
	logger := o.logger.With("run_id", report.RunID, "anchor", report.Anchor)
	logger.Info("pipeline run starting",
		"brands", len(o.brands), "window", len(plan.Dates), "backfill", o.cfg.Backfill)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, o.cfg.Workers)
	)
	record := func(res types.TaskResult) {
		mu.Lock()
		report.Add(res)
		mu.Unlock()
		o.collector.RecordTask(res.Status)
	}

	for _, brand := range o.brands {
		for i, date := range plan.Dates {
			anchor := i == 0
			if !anchor && !o.cfg.Backfill && o.keyExists(ctx, brand, date) {
				record(types.TaskResult{
					Brand:  brand,
					Date:   date.Format(window.DateFormat),
					Status: types.StatusSkippedExists,
				})
				continue
			}

			wg.Add(1)
			go func(brand string, date time.Time) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				record(o.runTask(ctx, logger, brand, date))
			}(brand, date)
		}
	}

	// Eviction is scheduled after the fetch tasks and shares the pool.
	// Errors are logged, never surfaced in the report.
	for _, brand := range o.brands {
		wg.Add(1)
		go func(brand string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			o.evict(ctx, logger, brand, plan.EvictDate)
		}(brand)
	}

	wg.Wait()
	report.Duration = time.Since(report.StartedAt)
	o.collector.ObserveRun(report.Duration)
	logger.Info("pipeline run finished", "duration", report.Duration)
	return report, nil
}

// preview reports whether this run suppresses cache mutation. The dry-run
// flag only applies outside backfill mode; a backfill run always writes.
func (o *Orchestrator) preview() bool {
	return o.cfg.DryRun && !o.cfg.Backfill
}

// keyExists probes the cache for a non-anchor date. A failed probe is
// treated as "does not exist": re-fetching is cheaper than silently serving
// a stale window.
func (o *Orchestrator) keyExists(ctx context.Context, brand string, date time.Time) bool {
	exists, err := o.backend.Exists(ctx, cache.Key(brand, date))
	o.collector.RecordCacheOp("exists", err == nil)
	if err != nil {
		o.logger.Warn("existence check failed, re-fetching",
			"brand", brand, "date", date.Format(window.DateFormat), "error", err)
		return false
	}
	return exists
}

// runTask fetches one (brand, date) snapshot and caches it.
func (o *Orchestrator) runTask(ctx context.Context, logger *slog.Logger, brand string, date time.Time) types.TaskResult {
	res := types.TaskResult{Brand: brand, Date: date.Format(window.DateFormat)}

	snap, err := o.src.Fetch(ctx, brand, date)
	if err != nil {
		logger.Warn("fetch failed", "brand", brand, "date", res.Date, "error", err)
		res.Status = types.StatusError
		res.Detail = err.Error()
		return res
	}

	payload := serialize(snap)

	if o.preview() {
		logger.Info("dry run, skipping cache write", "brand", brand, "date", res.Date)
		res.Status = types.StatusOK
		res.Detail = "dry_run"
		return res
	}

	ok := o.replacer.Replace(ctx, cache.Key(brand, date), payload, o.cfg.TTL, o.cfg.PreserveTTL)
	o.collector.RecordCacheOp("set", ok)
	if !ok {
		res.Status = types.StatusCacheFail
		res.Detail = "failed_to_cache"
		return res
	}

	res.Status = types.StatusOK
	return res
}

// evict deletes the single key that just aged out of the window. Keys
// stranded by an earlier, larger window are left to their TTLs.
func (o *Orchestrator) evict(ctx context.Context, logger *slog.Logger, brand string, date time.Time) {
	if o.preview() {
		return
	}
	key := cache.Key(brand, date)
	err := o.backend.Delete(ctx, key)
	o.collector.RecordCacheOp("delete", err == nil)
	if err != nil {
		logger.Warn("eviction failed", "key", key, "error", err)
		return
	}
	o.collector.RecordEviction()
}

// serialize marshals a normalized snapshot. Marshal cannot realistically
// fail after normalization, but a malformed value must not crash the
// pipeline, so the fallback stringifies the whole snapshot.
func serialize(snap source.Snapshot) string {
	data, err := json.Marshal(source.Normalize(map[string]interface{}(snap)))
	if err != nil {
		data, _ = json.Marshal(map[string]string{"raw": fmt.Sprintf("%v", snap)})
	}
	return string(data)
}
