// Package counter provides Redis-backed atomic counters and the two policies
// built on them: device registration limits and login attempt lockout.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE when INCR returned 1.
// Key formats:
//   - device_limit:{device_id}:{ip}
//   - login_attempts:{phone}:{fullname}
//
// # Failure policy
//
// Policies fail open. When Redis is unreachable the request is allowed and
// the condition is logged with severity=critical.
package counter
