/*
Package cache provides the dual-transport key-value backend and the
replace-and-preserve write pattern used by the refresh pipeline.

# Transports

Two interchangeable transports reach the same logical store:

Direct:
A persistent Redis connection. Used when a connection URL is configured and a
liveness ping succeeds at startup.

REST:
Stateless HTTP calls to an Upstash-style gateway, each carrying a bearer
credential. Used only when the direct transport is unavailable or its probe
fails.

The choice is made exactly once, at process start. There is no per-call
fallback and no retry of the direct transport after REST has been selected;
mixing transports at runtime would make the observed key space depend on
which calls happened to fail.

# Key space

	metrics:<brand>:<YYYY-MM-DD>        primary snapshot
	metrics:<brand>:<YYYY-MM-DD>:old    value held before the last replace

Primary keys carry the configured snapshot TTL; ":old" keys carry a shorter
preserve TTL and expire on their own.

# Failure semantics

Every backend call is independently fallible and bounded by a timeout.
Callers treat transport errors and empty results identically as "operation
failed", log, and continue: one failed call never aborts a pipeline run.
*/
package cache
