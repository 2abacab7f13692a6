// Package vault provides field-level encryption and log-safe hashing for
// sensitive strings (phone numbers, names, device identifiers).
//
// # Failure policy
//
// Encrypt and Decrypt fail open: on any error they log at error level with
// severity=critical and return the input unchanged. This keeps legacy rows
// that were stored before encryption readable. Use TryDecrypt when the caller
// must know whether decryption happened.
//
// # What this package must NOT do
//
//   - Hash passwords. Hash truncates SHA-256 to 8 hex characters and exists
//     only for pseudonymizing identifiers in logs and keys.
//   - Hold more than one key. Key rotation is out of scope.
package vault
