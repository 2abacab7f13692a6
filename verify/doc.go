// Package verify issues and confirms numeric one-time verification codes
// (phone confirmation, password reset and similar flows).
//
// Records are fixed-size binary blobs holding the code's SHA-256 digest,
// expiry and attempt count. Confirm runs a single Lua script so that
// concurrent guesses cannot race past the attempt limit. Unlike the
// counters and cache, verification fails closed: a code cannot be
// confirmed while the store is unreachable.
package verify
