package cache

import (
	"context"
	"time"
)

// HandlerFunc computes a response for req.
type HandlerFunc[T any] func(ctx context.Context, req Request) (T, error)

// Wrap returns a handler that serves results of fn from m.
//
// The cache key is Fingerprint(name, req). On a hit the stored value is
// decoded and fn is not called. On a miss fn runs and its result is stored
// for ttl when it encodes as JSON. Errors from fn are never cached.
// A nil Manager returns fn unchanged.
func Wrap[T any](m *Manager, name string, ttl time.Duration, fn HandlerFunc[T]) HandlerFunc[T] {
	if m == nil {
		return fn
	}
	return func(ctx context.Context, req Request) (T, error) {
		key, err := Fingerprint(name, req)
		if err != nil {
			m.logger.Debug("request not fingerprintable, bypassing cache", "name", name, "error", err)
			return fn(ctx, req)
		}

		var cached T
		if m.GetJSON(ctx, key, &cached) {
			return cached, nil
		}

		out, err := fn(ctx, req)
		if err != nil {
			return out, err
		}
		if err := m.SetJSON(ctx, key, out, ttl); err != nil {
			m.logger.Debug("result not cacheable", "name", name, "error", err)
		}
		return out, nil
	}
}
