// Package window computes the rolling set of calendar dates that must stay
// cached, anchored to "today" in a fixed business timezone.
package window

import (
	"time"
)

// DateFormat is the ISO-8601 calendar date layout used for cache keys.
const DateFormat = "2006-01-02"

// DefaultOffset is the business calendar offset from UTC. The deployment
// this pipeline serves closes its books on IST (UTC+5:30).
const DefaultOffset = 5*time.Hour + 30*time.Minute

// DefaultSize is the number of daily snapshots kept per brand.
const DefaultSize = 5

// Plan describes one run's rolling window: the anchor (most recent) date,
// every date that must remain cached, and the single date that just aged out.
type Plan struct {
	// Anchor is the most recent date in the window; it is always refreshed.
	Anchor time.Time

	// Dates holds exactly windowSize consecutive days, newest first, with
	// Dates[0] == Anchor and Dates[i] == Anchor minus i days.
	Dates []time.Time

	// EvictDate is the day immediately preceding the oldest kept day.
	EvictDate time.Time
}

// Planner computes window plans against a fixed UTC offset.
type Planner struct {
	offset time.Duration
}

// NewPlanner creates a planner with the given calendar offset from UTC.
// A zero offset is replaced with DefaultOffset.
func NewPlanner(offset time.Duration) *Planner {
	if offset == 0 {
		offset = DefaultOffset
	}
	return &Planner{offset: offset}
}

// Plan computes the window for a run. In backfill mode a parseable override
// date becomes the anchor; an unparseable or empty override falls back to the
// localized current date. This fallback is deliberate: a bad override should
// degrade to a normal run, not fail it.
func (p *Planner) Plan(now time.Time, backfill bool, override string, windowSize int) Plan {
	if windowSize <= 0 {
		windowSize = DefaultSize
	}

	anchor := p.localDate(now)
	if backfill && override != "" {
		if d, err := time.Parse(DateFormat, override); err == nil {
			anchor = d
		}
	}

	dates := make([]time.Time, windowSize)
	for i := range dates {
		dates[i] = anchor.AddDate(0, 0, -i)
	}

	return Plan{
		Anchor:    anchor,
		Dates:     dates,
		EvictDate: anchor.AddDate(0, 0, -windowSize),
	}
}

// localDate truncates an instant to its calendar date in the planner's
// fixed-offset zone.
func (p *Planner) localDate(now time.Time) time.Time {
	local := now.UTC().Add(p.offset)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
