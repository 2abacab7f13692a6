// Package middleware adapts a goGuard.Guard to net/http.
//
// # Chain
//
//   - [Recover]: converts panics into a generic 500 and logs the detail.
//   - [Protect]: blocklist and injection scan of query, form or JSON body
//     and configured headers. The body is restored for the next handler.
//   - [RateLimit] and [StrictRateLimit]: sliding window per [KeyFunc].
//   - [CSRF]: token check on state-changing methods.
//   - [Cache]: response cache for GET handlers that answer 200 with JSON.
//
// Handlers are composed with [Chain]; the first middleware listed runs
// first.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Guard calls. Every decision
// is made by the Guard, and every rejection is written with
// goGuard.StatusCode and goGuard.PublicMessage so clients never learn
// which rule fired.
package middleware
