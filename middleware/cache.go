package middleware

import (
	"bytes"
	"mime"
	"net/http"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/cache"
)

// CacheHeader reports HIT or MISS on cached routes.
const CacheHeader = "X-Cache"

// Cache serves GET responses from the response cache. Only 200 responses
// with a JSON content type are stored; everything else passes through.
// name identifies the handler in the cache key, conventionally
// "{module}.{function}". A ttl <= 0 uses the configured default.
func Cache(g *goGuard.Guard, name string, ttl time.Duration) Middleware {
	m := g.Cache()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || m == nil {
				next.ServeHTTP(w, r)
				return
			}

			key, err := cache.Fingerprint(name, cache.Request{
				Method: r.Method,
				Path:   r.URL.Path,
				Query:  r.URL.Query(),
			})
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if raw, ok := m.Get(r.Context(), key); ok {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set(CacheHeader, "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(raw)
				return
			}

			w.Header().Set(CacheHeader, "MISS")
			rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status == http.StatusOK && isJSON(w.Header().Get("Content-Type")) {
				m.Set(r.Context(), key, rec.body.Bytes(), ttl)
			}
		})
	}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// captureWriter tees the response body so it can be stored after the
// handler returns.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

func (c *captureWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
