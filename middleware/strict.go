package middleware

import (
	goGuard "github.com/MrEthical07/goGuard"
)

// StrictRateLimit applies the strict window. Mount it on login, OTP and
// password endpoints in addition to RateLimit.
func StrictRateLimit(g *goGuard.Guard, key KeyFunc) Middleware {
	return rateLimit(key, g.CheckStrictRateLimit)
}
