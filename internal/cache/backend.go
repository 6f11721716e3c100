package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Namespace is the fixed prefix for every cache key written by the pipeline.
const Namespace = "metrics"

// OldSuffix derives the preserved-previous key from a primary key.
const OldSuffix = ":old"

// DefaultTimeout bounds every individual backend call.
const DefaultTimeout = 10 * time.Second

// Backend is the uniform key-value surface over the cache store. Callers are
// agnostic to which transport is active; the implementation is selected once
// at startup and never changes for the process lifetime.
//
// Every call is independently fallible. Callers must treat a returned error
// and an empty result identically as "operation failed" and carry on: a
// single backend failure must never abort a whole pipeline run.
type Backend interface {
	// Get returns the value at key, or ("", false, nil) when absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value at key with the given expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Name identifies the active transport for logging.
	Name() string
}

// Key builds the primary cache key for a brand's snapshot on a date.
// Format: metrics:<brand>:<YYYY-MM-DD>.
func Key(brand string, date time.Time) string {
	return fmt.Sprintf("%s:%s:%s", Namespace, brand, date.Format("2006-01-02"))
}

// OldKey derives the preserved-previous key for a primary key.
func OldKey(key string) string {
	return key + OldSuffix
}

// Options configures backend selection.
type Options struct {
	// RedisURL is the direct connection URL. When set and the liveness ping
	// succeeds, the direct transport is used.
	RedisURL string

	// RESTURL and RESTToken configure the HTTP gateway fallback.
	RESTURL   string
	RESTToken string

	// Timeout bounds each backend call; zero means DefaultTimeout.
	Timeout time.Duration
}

// NewBackend selects a transport once at startup: direct Redis when the URL
// is configured and a ping succeeds, otherwise the REST gateway. Once REST is
// selected because the direct probe failed, the process does not retry the
// direct transport.
func NewBackend(ctx context.Context, opts Options, logger *slog.Logger) (Backend, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.RedisURL != "" {
		b, err := newRedisBackend(ctx, opts.RedisURL, opts.Timeout)
		if err == nil {
			logger.Info("cache backend selected", "transport", b.Name())
			return b, nil
		}
		logger.Warn("direct redis unavailable, falling back to REST", "error", err)
	}

	if opts.RESTURL != "" && opts.RESTToken != "" {
		b := newRESTBackend(opts.RESTURL, opts.RESTToken, opts.Timeout)
		logger.Info("cache backend selected", "transport", b.Name())
		return b, nil
	}

	return nil, fmt.Errorf("no cache backend configured")
}
