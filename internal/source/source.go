// Package source fetches per-brand daily metric snapshots from their backing
// stores and normalizes them into transport-safe JSON values.
package source

import (
	"context"
	"time"

	pkgerrors "github.com/pulsecache/pulsecache/pkg/errors"
)

// Snapshot is one brand's metrics for one calendar date. The shape is not
// fixed by the pipeline; whatever the source produces is normalized and
// serialized opaquely.
type Snapshot map[string]interface{}

// Source produces a metrics snapshot for a brand on a date, or fails.
// Latency and reliability of the backing store are not under the pipeline's
// control, so every call must honor the context deadline.
type Source interface {
	Fetch(ctx context.Context, brand string, date time.Time) (Snapshot, error)
}

// ErrMissingConfig reports that no connection target could be resolved for a
// brand; the fetch aborts for that brand/date only.
var ErrMissingConfig = pkgerrors.New(pkgerrors.ErrCodeMissingConfig, "no connection string for brand")
