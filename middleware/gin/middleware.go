// Package gin adapts a goGuard.Guard to gin.
package gin

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/MrEthical07/goGuard/ratelimit"
)

// Options holds the adapter hooks. The zero value uses the defaults.
type Options struct {
	OnReject  func(*gin.Context, error)
	KeyGetter func(*gin.Context) string
}

// Option configures an adapter.
type Option func(*Options)

// WithRejectHandler replaces the default JSON rejection.
func WithRejectHandler(handler func(*gin.Context, error)) Option {
	return func(o *Options) {
		o.OnReject = handler
	}
}

// WithKeyGetter sets how RateLimit identifies a caller.
func WithKeyGetter(getter func(*gin.Context) string) Option {
	return func(o *Options) {
		o.KeyGetter = getter
	}
}

func newOptions(opts []Option) *Options {
	o := &Options{
		OnReject:  DefaultRejectHandler,
		KeyGetter: DefaultKeyGetter,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DefaultRejectHandler answers with goGuard's status and generic message.
func DefaultRejectHandler(c *gin.Context, err error) {
	c.AbortWithStatusJSON(goGuard.StatusCode(err), gin.H{"error": goGuard.PublicMessage(err)})
}

// DefaultKeyGetter limits by gin's client IP.
func DefaultKeyGetter(c *gin.Context) string {
	return c.ClientIP()
}

// Protect rejects blocked clients and injection attempts.
func Protect(g *goGuard.Guard, opts ...Option) gin.HandlerFunc {
	o := newOptions(opts)
	return func(c *gin.Context) {
		if err := middleware.InspectIP(g, c.Request, c.ClientIP()); err != nil {
			o.OnReject(c, err)
			return
		}
		c.Next()
	}
}

// RateLimit applies the default sliding window.
func RateLimit(g *goGuard.Guard, opts ...Option) gin.HandlerFunc {
	return rateLimit(g.CheckRateLimit, newOptions(opts))
}

// StrictRateLimit applies the strict sliding window.
func StrictRateLimit(g *goGuard.Guard, opts ...Option) gin.HandlerFunc {
	return rateLimit(g.CheckStrictRateLimit, newOptions(opts))
}

func rateLimit(check func(ctx context.Context, id string) (ratelimit.Result, error), o *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := check(c.Request.Context(), o.KeyGetter(c))

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if err != nil {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			o.OnReject(c, err)
			return
		}
		c.Next()
	}
}

// CSRF rejects state-changing requests without a valid token.
func CSRF(g *goGuard.Guard, opts ...Option) gin.HandlerFunc {
	o := newOptions(opts)
	return func(c *gin.Context) {
		if middleware.SafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if err := g.ValidateCSRF(c.Request.Context(), middleware.CSRFToken(c.Request)); err != nil {
			o.OnReject(c, err)
			return
		}
		c.Next()
	}
}

// CSRFToken issues a fresh token as {"csrf_token": "..."}.
func CSRFToken(g *goGuard.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := g.GenerateCSRF()
		if err != nil {
			DefaultRejectHandler(c, err)
			return
		}
		c.Header(middleware.CSRFHeader, token)
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, gin.H{"csrf_token": token})
	}
}
