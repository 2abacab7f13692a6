package middleware

import (
	"context"
	"net/http"
	"strconv"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/ratelimit"
)

// RateLimit applies the default sliding window to every request, keyed by
// key. A nil key limits by client IP.
func RateLimit(g *goGuard.Guard, key KeyFunc) Middleware {
	return rateLimit(key, g.CheckRateLimit)
}

func rateLimit(key KeyFunc, check func(context.Context, string) (ratelimit.Result, error)) Middleware {
	if key == nil {
		key = ByIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := check(r.Context(), key(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if err != nil {
				h.Set("Retry-After", retryAfterSeconds(res.RetryAfter))
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
