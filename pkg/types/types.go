package types

import (
	"time"
)

// TaskStatus describes the outcome of a single (brand, date) refresh task.
type TaskStatus string

const (
	// StatusOK means the snapshot was fetched and cached (or fetched and
	// deliberately not written in a dry run).
	StatusOK TaskStatus = "OK"

	// StatusSkippedExists means the cache key already existed and the task
	// was skipped without contacting the metrics source.
	StatusSkippedExists TaskStatus = "SKIPPED_EXISTS"

	// StatusCacheFail means the snapshot was fetched but the cache write failed.
	StatusCacheFail TaskStatus = "CACHE_FAIL"

	// StatusError means the fetch itself failed; nothing was written.
	StatusError TaskStatus = "ERROR"
)

// TaskResult records the outcome of refreshing one brand on one date.
type TaskResult struct {
	Brand  string     `json:"brand"`
	Date   string     `json:"date"`
	Status TaskStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
}

// RunReport aggregates the results of a single pipeline run, keyed by brand
// and then by ISO-8601 date. It is returned to the triggering caller and
// never persisted.
type RunReport struct {
	RunID     string                           `json:"run_id"`
	Anchor    string                           `json:"anchor"`
	Backfill  bool                             `json:"backfill"`
	DryRun    bool                             `json:"dry_run,omitempty"`
	StartedAt time.Time                        `json:"started_at"`
	Duration  time.Duration                    `json:"duration"`
	Results   map[string]map[string]TaskResult `json:"results"`
}

// Statuses flattens the report into brand -> date -> status, the shape the
// trigger endpoint serves.
func (r *RunReport) Statuses() map[string]map[string]TaskStatus {
	out := make(map[string]map[string]TaskStatus, len(r.Results))
	for brand, byDate := range r.Results {
		m := make(map[string]TaskStatus, len(byDate))
		for date, res := range byDate {
			m[date] = res.Status
		}
		out[brand] = m
	}
	return out
}

// Add records a task result, creating the per-brand map on first use.
// Not safe for concurrent use; the orchestrator serializes report writes.
func (r *RunReport) Add(res TaskResult) {
	if r.Results == nil {
		r.Results = make(map[string]map[string]TaskResult)
	}
	byDate, ok := r.Results[res.Brand]
	if !ok {
		byDate = make(map[string]TaskResult)
		r.Results[res.Brand] = byDate
	}
	byDate[res.Date] = res
}
