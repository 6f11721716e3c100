/*
Package pipeline orchestrates one refresh run across every brand and every
date in the rolling window.

For each (brand, date) pair the orchestrator decides fetch-or-skip: the
anchor date is always fetched so "today" reflects live state; older dates are
fetched only in backfill mode or when their key is absent. Fetch tasks share
one bounded worker pool sized for the brands' databases, not local CPU.
After the window is scheduled, the single newly out-of-window key per brand
is deleted.

Failure semantics: a task-level failure (source error, cache write failure)
never aborts sibling tasks; it becomes a status in the result map. There is
no retry at this layer. A failed (brand, date) stays inside the window, so
the next scheduled run re-attempts it until it ages past the evict date. The
only fatal conditions are an empty roster and an unusable worker pool.
*/
package pipeline
