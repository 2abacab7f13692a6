// Package csrf provides stateless double-submit CSRF tokens.
//
// A token is "data:timestamp:signature": 32 random bytes as base64url, the
// issuance time in Unix seconds, and hex HMAC-SHA256 of "data:timestamp".
// Tokens live for one hour and are reissued by Refresh after half an hour.
//
// Construction fails closed: a secret shorter than 32 characters is a
// startup error, never a degraded mode.
package csrf
