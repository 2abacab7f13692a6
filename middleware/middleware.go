package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain wraps h so that mws[0] sees the request first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// KeyFunc derives the rate limit identifier for a request.
type KeyFunc func(*http.Request) string

// ClientIP returns the host part of r.RemoteAddr. Deployments behind a
// proxy should rewrite RemoteAddr from a trusted header before this runs.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ByIP is the default KeyFunc.
func ByIP(r *http.Request) string {
	return ClientIP(r)
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError answers with the status and generic message for err.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, goGuard.StatusCode(err), errorBody{Error: goGuard.PublicMessage(err)})
}

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Recover turns panics into a generic 500. The panic value and stack are
// logged, never written to the client.
func Recover(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panic",
					"method", r.Method, "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				WriteError(w, errPanic)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

var errPanic = errors.New("handler panic")

func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}
