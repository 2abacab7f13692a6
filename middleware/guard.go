package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	goGuard "github.com/MrEthical07/goGuard"
)

// MaxInspectBody caps how much of a request body Protect reads. Larger
// bodies are rejected before any handler runs.
const MaxInspectBody = 1 << 20

var errBodyTooLarge = fmt.Errorf("%w: request body too large", goGuard.ErrValidation)

// Protect rejects blocked clients and requests that carry an injection
// signature.
func Protect(g *goGuard.Guard) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := Inspect(g, r); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Inspect runs g.InspectRequest against r. JSON and form bodies are
// decoded for scanning and r.Body is replaced with an unread copy.
func Inspect(g *goGuard.Guard, r *http.Request) error {
	return InspectIP(g, r, ClientIP(r))
}

// InspectIP is Inspect with the client IP resolved by the caller, for
// routers that track forwarded addresses themselves.
func InspectIP(g *goGuard.Guard, r *http.Request, ip string) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	return g.InspectRequest(r.Context(), goGuard.Request{
		IP:     ip,
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header,
		Query:  r.URL.Query(),
		Body:   body,
	})
}

func readBody(r *http.Request) (any, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxInspectBody+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if len(raw) > MaxInspectBody {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if len(raw) == 0 {
		return nil, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			return v, nil
		}
	case "application/x-www-form-urlencoded":
		if form, err := url.ParseQuery(string(raw)); err == nil {
			return form, nil
		}
	}
	return string(raw), nil
}
