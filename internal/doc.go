// Package internal contains helpers that are private to goGuard: secure
// random generation and hashing of one-time secrets.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//
// # What this package must NOT do
//
//   - Export types that appear in the public goGuard API.
//   - Be imported by any package outside the goGuard module.
package internal
