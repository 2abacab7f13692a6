// Package cache implements a Redis-backed response cache with
// deterministic request fingerprints and pattern invalidation.
//
// # Keys
//
// Manual keys come from Key and look like "{prefix}:{k}:{json(v)}" with
// kwargs sorted by name. Handler results cached through Wrap use
// Fingerprint, "{module}.{function}:{sha256hex}", over the canonical JSON
// of method, path, query and body.
//
// # Failure policy
//
// The cache fails open. A store error turns Get into a miss and Set,
// Delete and invalidation into no-ops, so requests are recomputed rather
// than failed.
package cache
