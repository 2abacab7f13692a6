// Package goGuard is the request-defense and caching layer of a
// multi-tenant backend.
//
// A [Guard] is assembled once through [Builder] and bundles the in-process
// rate limiter, Redis-backed device and login counters, the response cache,
// CSRF tokens, threat detection with IP blocking, one-time verification
// codes and field encryption. Guard methods are safe for concurrent use.
//
// # Failure policy
//
// Availability wins over strictness for throttling and caching: when Redis
// is unreachable, counters allow the request and the cache acts as a
// miss, and the condition is logged at Error with severity=critical.
// Verification codes and configuration fail closed.
//
// # Public errors
//
// Every error a Guard returns belongs to one class ([ErrValidation],
// [ErrRateLimited], [ErrForbidden], [ErrStoreUnavailable],
// [ErrConfiguration]). Use [StatusCode] and [PublicMessage] to answer a
// client; neither reveals which signature or limit tripped.
//
// HTTP adapters live in the middleware and middleware/gin packages.
package goGuard
