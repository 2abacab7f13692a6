package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goGuard "github.com/MrEthical07/goGuard"
)

func newTestGuard(t *testing.T, mutate func(*goGuard.Config)) (*goGuard.Guard, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})

	cfg := goGuard.DefaultConfig()
	cfg.Secrets.EncryptionSecret = strings.Repeat("e", 32)
	cfg.Secrets.CSRFSecret = strings.Repeat("c", 32)
	cfg.RateLimit.SweepInterval = 0
	cfg.Audit.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}

	g, err := goGuard.New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		g.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return g, mr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not json: %q", w.Body.String())
	}
	return body.Error
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler(), mark("a"), mark("b"), mark("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Join(order, ",") != "a,b,c" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestRecoverHidesPanic(t *testing.T) {
	h := Recover(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("db password is hunter2")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if msg := errorMessage(t, w); msg != goGuard.MessageInternal {
		t.Fatalf("unexpected message %q", msg)
	}
	if strings.Contains(w.Body.String(), "hunter2") {
		t.Fatal("panic detail leaked")
	}
}

func TestProtectQueryAndBody(t *testing.T) {
	g, _ := newTestGuard(t, nil)

	var seen string
	h := Protect(g)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen = string(raw)
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"name":"Ann","note":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/people", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || seen != body {
		t.Fatalf("clean request: code=%d body=%q", w.Code, seen)
	}

	req = httptest.NewRequest(http.MethodPost, "/people", strings.NewReader(`{"name":"<script>alert(1)</script>"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest || errorMessage(t, w) != goGuard.MessageInvalidInput {
		t.Fatalf("expected 400 invalid input, got %d %q", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/people?"+url.Values{"id": {"1 UNION SELECT password FROM users"}}.Encode(), nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for query injection, got %d", w.Code)
	}
	if strings.Contains(strings.ToLower(w.Body.String()), "union") {
		t.Fatal("response must not echo the pattern")
	}
}

func TestProtectFormBody(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	h := Protect(g)(okHandler())

	form := url.Values{"comment": {"x' OR '1'='1"}}.Encode()
	req := httptest.NewRequest(http.MethodPost, "/notices", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestProtectBlocksRepeatOffender(t *testing.T) {
	g, _ := newTestGuard(t, func(c *goGuard.Config) { c.Security.SuspiciousThreshold = 1 })
	h := Protect(g)(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x?q=%3Cscript%3E", nil)
		req.RemoteAddr = "192.0.2.7:5000"
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "192.0.2.7:5000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden || errorMessage(t, w) != goGuard.MessageForbidden {
		t.Fatalf("expected 403 for blocked ip, got %d %q", w.Code, w.Body.String())
	}

	req.RemoteAddr = "192.0.2.8:5000"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("other ip must pass, got %d", w.Code)
	}
}

func TestProtectRejectsOversizedBody(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	h := Protect(g)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(make([]byte, MaxInspectBody+1)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStrictRateLimitHeaders(t *testing.T) {
	g, _ := newTestGuard(t, func(c *goGuard.Config) { c.RateLimit.StrictRequests = 2 })
	h := StrictRateLimit(g, nil)(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d rejected: %d", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" || w.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("unexpected headers %v", w.Header())
	}
	if errorMessage(t, w) != goGuard.MessageRateLimited {
		t.Fatalf("unexpected message %q", w.Body.String())
	}
}

func TestRateLimitKeyFunc(t *testing.T) {
	g, _ := newTestGuard(t, func(c *goGuard.Config) {
		c.RateLimit.DefaultRequests = 1
		c.RateLimit.StrictRequests = 1
	})
	byUser := func(r *http.Request) string { return r.Header.Get("X-User") }
	h := RateLimit(g, byUser)(okHandler())

	for _, user := range []string{"u1", "u2"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("first request for %s rejected", user)
		}
	}
}

func TestCSRFMiddleware(t *testing.T) {
	g, _ := newTestGuard(t, nil)
	mux := http.NewServeMux()
	mux.Handle("/csrf", CSRFTokenHandler(g))
	mux.Handle("/notices", CSRF(g)(okHandler()))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/csrf", nil))
	var issued struct {
		Token string `json:"csrf_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &issued); err != nil || issued.Token == "" {
		t.Fatalf("no token issued: %q", w.Body.String())
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/notices", nil))
	if w.Code != http.StatusForbidden || errorMessage(t, w) != goGuard.MessageCSRF {
		t.Fatalf("expected 403 without token, got %d %q", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/notices", nil)
	req.Header.Set(CSRFHeader, issued.Token)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("header token rejected: %d", w.Code)
	}

	form := url.Values{CSRFFormField: {issued.Token}}.Encode()
	req = httptest.NewRequest(http.MethodPost, "/notices", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("form token rejected: %d", w.Code)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/notices", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("safe method must pass without token, got %d", w.Code)
	}
}

func TestCacheMiddleware(t *testing.T) {
	g, mr := newTestGuard(t, nil)
	calls := 0
	h := Cache(g, "notices.List", time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		WriteJSON(w, http.StatusOK, map[string]any{"items": []string{"exam"}, "page": r.URL.Query().Get("page")})
	}))

	get := func(target string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		return w
	}

	first := get("/notices?page=1")
	second := get("/notices?page=1")
	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if first.Header().Get(CacheHeader) != "MISS" || second.Header().Get(CacheHeader) != "HIT" {
		t.Fatalf("unexpected cache headers %q %q", first.Header().Get(CacheHeader), second.Header().Get(CacheHeader))
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("cached body differs: %q vs %q", first.Body.String(), second.Body.String())
	}

	get("/notices?page=2")
	if calls != 2 {
		t.Fatalf("different query must miss, calls=%d", calls)
	}

	mr.FastForward(time.Minute + time.Second)
	get("/notices?page=1")
	if calls != 3 {
		t.Fatalf("expected recompute after ttl, calls=%d", calls)
	}
}

func TestCacheSkipsErrorsAndNonJSON(t *testing.T) {
	g, mr := newTestGuard(t, nil)

	failing := Cache(g, "notices.Get", time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}))
	failing.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/notices/9", nil))

	text := Cache(g, "notices.Text", time.Minute)(okHandler())
	text.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/notices.txt", nil))

	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected nothing cached, got %v", keys)
	}
}

func TestCacheFailsOpen(t *testing.T) {
	g, mr := newTestGuard(t, nil)
	mr.SetError("down")
	calls := 0
	h := Cache(g, "notices.List", time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		WriteJSON(w, http.StatusOK, map[string]int{"n": calls})
	}))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/notices", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 while store is down, got %d", w.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler on every request, got %d", calls)
	}
}
