package middleware

import (
	"net/http"

	goGuard "github.com/MrEthical07/goGuard"
)

// CSRF token transport.
const (
	CSRFHeader    = "X-CSRF-Token"
	CSRFFormField = "csrf_token"
)

// SafeMethod reports whether method never changes server state.
func SafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// CSRFToken returns the token carried by r, from the X-CSRF-Token header
// or the csrf_token form field.
func CSRFToken(r *http.Request) string {
	if t := r.Header.Get(CSRFHeader); t != "" {
		return t
	}
	return r.PostFormValue(CSRFFormField)
}

// CSRF rejects state-changing requests without a valid token. On safe
// requests that present a token, a refreshed token is returned in the
// X-CSRF-Token response header once the old one is half way to expiry.
func CSRF(g *goGuard.Guard) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(CSRFHeader)
			if SafeMethod(r.Method) {
				if token != "" {
					if fresh, err := g.RefreshCSRF(token); err == nil && fresh != token {
						w.Header().Set(CSRFHeader, fresh)
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			if err := g.ValidateCSRF(r.Context(), CSRFToken(r)); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type csrfBody struct {
	Token string `json:"csrf_token"`
}

// CSRFTokenHandler issues a fresh token as {"csrf_token": "..."} and in
// the X-CSRF-Token header.
func CSRFTokenHandler(g *goGuard.Guard) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := g.GenerateCSRF()
		if err != nil {
			WriteError(w, err)
			return
		}
		w.Header().Set(CSRFHeader, token)
		w.Header().Set("Cache-Control", "no-store")
		WriteJSON(w, http.StatusOK, csrfBody{Token: token})
	})
}
