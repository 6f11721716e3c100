package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecache/pulsecache/internal/cache"
	"github.com/pulsecache/pulsecache/internal/metrics"
	"github.com/pulsecache/pulsecache/internal/source"
	"github.com/pulsecache/pulsecache/internal/window"
	"github.com/pulsecache/pulsecache/pkg/types"
)

// memBackend is an in-memory cache.Backend that records mutations.
type memBackend struct {
	mu         sync.Mutex
	data       map[string]string
	deleted    []string
	failExists bool
	failSet    bool
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string]string)}
}

func (b *memBackend) Name() string { return "mem" }

func (b *memBackend) Get(ctx context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *memBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSet {
		return errors.New("set refused")
	}
	b.data[key] = value
	return nil
}

func (b *memBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	b.deleted = append(b.deleted, key)
	return nil
}

func (b *memBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failExists {
		return false, errors.New("exists refused")
	}
	_, ok := b.data[key]
	return ok, nil
}

// fakeSource counts fetches per (brand, date) and fails on demand.
type fakeSource struct {
	mu     sync.Mutex
	calls  map[string]int
	failOn map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: make(map[string]int), failOn: make(map[string]error)}
}

func (s *fakeSource) Fetch(ctx context.Context, brand string, date time.Time) (source.Snapshot, error) {
	key := brand + ":" + date.Format(window.DateFormat)
	s.mu.Lock()
	s.calls[key]++
	s.mu.Unlock()
	if err, ok := s.failOn[key]; ok {
		return nil, err
	}
	return source.Snapshot{"brand": brand, "date": date.Format(window.DateFormat)}, nil
}

func (s *fakeSource) fetchCount(brand, date string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[brand+":"+date]
}

func newTestOrchestrator(t *testing.T, cfg Config, backend cache.Backend, src source.Source, brands ...string) *Orchestrator {
	t.Helper()
	roster := make(map[string]source.Target, len(brands))
	for _, b := range brands {
		roster[b] = source.Target{DSN: "test"}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o, err := New(cfg, window.NewPlanner(window.DefaultOffset), backend, src, roster, metrics.NewCollector(), logger)
	require.NoError(t, err)
	// Noon UTC is 17:30 IST, so the local calendar date is still the 10th.
	o.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	return o
}

func defaultCfg() Config {
	return Config{
		Workers:     3,
		WindowSize:  3,
		TTL:         time.Hour,
		PreserveTTL: time.Minute,
	}
}

func TestRun_FreshCacheFetchesWholeWindow(t *testing.T) {
	backend := newMemBackend()
	src := newFakeSource()
	o := newTestOrchestrator(t, defaultCfg(), backend, src, "acme")

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	want := map[string]map[string]types.TaskStatus{
		"acme": {
			"2024-03-10": types.StatusOK,
			"2024-03-09": types.StatusOK,
			"2024-03-08": types.StatusOK,
		},
	}
	assert.Equal(t, want, report.Statuses())

	for _, date := range []string{"2024-03-10", "2024-03-09", "2024-03-08"} {
		_, ok := backend.data["metrics:acme:"+date]
		assert.True(t, ok, "expected cached key for %s", date)
	}

	// Anchor minus windowSize is evicted.
	assert.Contains(t, backend.deleted, "metrics:acme:2024-03-07")
}

func TestRun_ExistingNonAnchorIsSkipped(t *testing.T) {
	backend := newMemBackend()
	backend.data["metrics:acme:2024-03-09"] = `{"stale":true}`
	src := newFakeSource()
	o := newTestOrchestrator(t, defaultCfg(), backend, src, "acme")

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.StatusSkippedExists, report.Results["acme"]["2024-03-09"].Status)
	assert.Equal(t, 0, src.fetchCount("acme", "2024-03-09"),
		"skipped task must never reach the source")
	assert.Equal(t, 1, src.fetchCount("acme", "2024-03-10"))
	assert.Equal(t, 1, src.fetchCount("acme", "2024-03-08"))

	// The stale value was left untouched.
	assert.Equal(t, `{"stale":true}`, backend.data["metrics:acme:2024-03-09"])
}

func TestRun_AnchorAlwaysFetched(t *testing.T) {
	backend := newMemBackend()
	backend.data["metrics:acme:2024-03-10"] = `{"stale":true}`
	src := newFakeSource()
	o := newTestOrchestrator(t, defaultCfg(), backend, src, "acme")

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, src.fetchCount("acme", "2024-03-10"))
	assert.NotEqual(t, `{"stale":true}`, backend.data["metrics:acme:2024-03-10"])
	// The stale anchor value survives under the preserved-previous key.
	assert.Equal(t, `{"stale":true}`, backend.data["metrics:acme:2024-03-10:old"])
}

func TestRun_BackfillIgnoresExistingKeys(t *testing.T) {
	backend := newMemBackend()
	backend.data["metrics:acme:2024-03-09"] = `{"stale":true}`
	src := newFakeSource()
	cfg := defaultCfg()
	cfg.Backfill = true
	o := newTestOrchestrator(t, cfg, backend, src, "acme")

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, src.fetchCount("acme", "2024-03-09"))
}

func TestRun_BackfillOverrideDate(t *testing.T) {
	backend := newMemBackend()
	src := newFakeSource()
	cfg := defaultCfg()
	cfg.Backfill = true
	cfg.TargetDate = "2023-06-15"
	o := newTestOrchestrator(t, cfg, backend, src, "acme")

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2023-06-15", report.Anchor)
	assert.Equal(t, 1, src.fetchCount("acme", "2023-06-15"))
	assert.Contains(t, backend.deleted, "metrics:acme:2023-06-12")
}

func TestRun_SourceErrorRecordedAndNotCached(t *testing.T) {
	backend := newMemBackend()
	backend.data["metrics:acme:2024-03-08"] = `{"previous":true}`
	src := newFakeSource()
	src.failOn["acme:2024-03-08"] = errors.New("db is down")
	cfg := defaultCfg()
	cfg.Backfill = true // force the 03-08 fetch despite the existing key
	o := newTestOrchestrator(t, cfg, backend, src, "acme")

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	res := report.Results["acme"]["2024-03-08"]
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Detail, "db is down")

	// Prior cached value is left untouched; failed fetches never write.
	assert.Equal(t, `{"previous":true}`, backend.data["metrics:acme:2024-03-08"])

	// Siblings are unaffected.
	assert.Equal(t, types.StatusOK, report.Results["acme"]["2024-03-10"].Status)
	assert.Equal(t, types.StatusOK, report.Results["acme"]["2024-03-09"].Status)
}

func TestRun_CacheWriteFailure(t *testing.T) {
	backend := newMemBackend()
	backend.failSet = true
	src := newFakeSource()
	o := newTestOrchestrator(t, defaultCfg(), backend, src, "acme")

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	for _, date := range []string{"2024-03-10", "2024-03-09", "2024-03-08"} {
		assert.Equal(t, types.StatusCacheFail, report.Results["acme"][date].Status)
	}
}

func TestRun_FailedExistenceCheckBiasesTowardFetch(t *testing.T) {
	backend := newMemBackend()
	backend.data["metrics:acme:2024-03-09"] = `{"stale":true}`
	backend.failExists = true
	src := newFakeSource()
	o := newTestOrchestrator(t, defaultCfg(), backend, src, "acme")

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	// Probe failed, so the existing key is re-fetched rather than skipped.
	assert.Equal(t, 1, src.fetchCount("acme", "2024-03-09"))
}

func TestRun_DryRunFetchesButNeverMutates(t *testing.T) {
	backend := newMemBackend()
	src := newFakeSource()
	cfg := defaultCfg()
	cfg.DryRun = true
	o := newTestOrchestrator(t, cfg, backend, src, "acme")

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	for _, date := range []string{"2024-03-10", "2024-03-09", "2024-03-08"} {
		res := report.Results["acme"][date]
		assert.Equal(t, types.StatusOK, res.Status)
		assert.Equal(t, "dry_run", res.Detail)
	}
	assert.Empty(t, backend.data, "dry run must not write")
	assert.Empty(t, backend.deleted, "dry run must not evict")
	assert.Equal(t, 1, src.fetchCount("acme", "2024-03-10"), "dry run still fetches")
}

func TestRun_BackfillOverridesDryRun(t *testing.T) {
	backend := newMemBackend()
	src := newFakeSource()
	cfg := defaultCfg()
	cfg.DryRun = true
	cfg.Backfill = true
	o := newTestOrchestrator(t, cfg, backend, src, "acme")

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.DryRun)
	assert.NotEmpty(t, backend.data, "backfill writes even when dry-run is set")
}

func TestRun_MultipleBrands(t *testing.T) {
	backend := newMemBackend()
	src := newFakeSource()
	cfg := defaultCfg()
	cfg.Workers = 2
	o := newTestOrchestrator(t, cfg, backend, src, "acme", "globex", "initech")

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, report.Results, 3)
	for _, brand := range []string{"acme", "globex", "initech"} {
		assert.Len(t, report.Results[brand], 3)
		assert.Contains(t, backend.deleted, "metrics:"+brand+":2024-03-07")
	}
}

func TestNew_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	planner := window.NewPlanner(0)
	backend := newMemBackend()
	src := newFakeSource()
	collector := metrics.NewCollector()

	_, err := New(Config{Workers: 0}, planner, backend, src,
		map[string]source.Target{"acme": {}}, collector, logger)
	assert.Error(t, err, "zero workers must be rejected")

	_, err = New(Config{Workers: 2}, planner, backend, src,
		map[string]source.Target{}, collector, logger)
	assert.Error(t, err, "empty roster must be rejected")
}
