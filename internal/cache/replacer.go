package cache

import (
	"context"
	"log/slog"
	"time"
)

// Replacer performs the replace-and-preserve write pattern: the value a key
// held immediately before its last successful replace survives under a
// derived ":old" key with its own, shorter expiry. That shadow key is a
// bounded-lifetime rollback/diff artifact that needs no cleanup job.
//
// The read-then-write sequence is intentionally non-transactional. A
// concurrent writer to the same key can race the read against another
// writer's set; writes to a given key are expected to be serialized by the
// orchestrator's scheduling, not by the backend.
type Replacer struct {
	backend Backend
	logger  *slog.Logger
}

// NewReplacer creates a replacer over the given backend.
func NewReplacer(backend Backend, logger *slog.Logger) *Replacer {
	return &Replacer{backend: backend, logger: logger.With("component", "replacer")}
}

// Replace writes newValue at key with expiry ttl, preserving any prior value
// under the ":old" key with expiry preserveTTL. It reports false only when
// the primary write fails; a failed preserve write is logged and swallowed
// because the replace itself already succeeded.
func (r *Replacer) Replace(ctx context.Context, key, newValue string, ttl, preserveTTL time.Duration) bool {
	prev, found, err := r.backend.Get(ctx, key)
	if err != nil {
		// Absence of a readable prior value is not an error for the
		// replace; we just lose the shadow copy.
		r.logger.Warn("read of prior value failed", "key", key, "error", err)
		found = false
	}

	if err := r.backend.Set(ctx, key, newValue, ttl); err != nil {
		r.logger.Error("primary cache write failed", "key", key, "error", err)
		return false
	}

	if found && prev != "" {
		if err := r.backend.Set(ctx, OldKey(key), prev, preserveTTL); err != nil {
			r.logger.Warn("preserve write failed", "key", OldKey(key), "error", err)
		}
	}

	return true
}
