package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/threat"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingAlerter) Alert(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func newTestManager(cfg Config) (*Manager, *fakeClock, *recordingAlerter) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	alerter := &recordingAlerter{}
	return New(nil, cfg, WithClock(clock.Now), WithAlerter(alerter)), clock, alerter
}

func TestBlocklistEscalation(t *testing.T) {
	for _, n := range []int{1, 5, 10} {
		t.Run(fmt.Sprintf("%d activities", n), func(t *testing.T) {
			m, _, alerter := newTestManager(Config{})
			for i := 0; i < n; i++ {
				m.TrackSuspiciousActivity(context.Background(), "1.2.3.4", fmt.Sprintf("event %d", i))
			}
			if m.IsBlocked("1.2.3.4") {
				t.Fatalf("%d activities must not block", n)
			}
			if alerter.count() != 0 {
				t.Fatal("no alert expected below threshold")
			}
		})
	}

	m, _, alerter := newTestManager(Config{})
	var blockedOn int
	for i := 0; i < 11; i++ {
		if m.TrackSuspiciousActivity(context.Background(), "1.2.3.4", fmt.Sprintf("event %d", i)) {
			blockedOn = i + 1
		}
	}
	if !m.IsBlocked("1.2.3.4") {
		t.Fatal("11 activities must block")
	}
	if blockedOn != 11 {
		t.Fatalf("expected the 11th call to block, got %d", blockedOn)
	}
	if got := m.BlockedIPs(); len(got) != 1 || got[0] != "1.2.3.4" {
		t.Fatalf("unexpected blocked set %v", got)
	}
	if alerter.count() != 1 {
		t.Fatalf("expected exactly one alert, got %d", alerter.count())
	}
	a := alerter.alerts[0]
	if a.IP != "1.2.3.4" || a.Count != 11 || len(a.Activities) != 11 || a.ID == "" {
		t.Fatalf("unexpected alert %+v", a)
	}
}

func TestAlertSentOncePerCrossing(t *testing.T) {
	m, _, alerter := newTestManager(Config{Threshold: 2})
	for i := 0; i < 10; i++ {
		m.TrackSuspiciousActivity(context.Background(), "ip", "x")
	}
	if alerter.count() != 1 {
		t.Fatalf("expected one alert, got %d", alerter.count())
	}
	if len(m.Activity("ip")) != 3 {
		t.Fatalf("records must stop accumulating once blocked, got %d", len(m.Activity("ip")))
	}

	m.Unblock("ip")
	for i := 0; i < 3; i++ {
		m.TrackSuspiciousActivity(context.Background(), "ip", "x")
	}
	if alerter.count() != 2 {
		t.Fatalf("expected a fresh alert after re-crossing, got %d", alerter.count())
	}
}

func TestBlockDurationExpires(t *testing.T) {
	m, clock, _ := newTestManager(Config{Threshold: 1, BlockDuration: time.Hour})
	m.TrackSuspiciousActivity(context.Background(), "ip", "a")
	m.TrackSuspiciousActivity(context.Background(), "ip", "b")
	if !m.IsBlocked("ip") {
		t.Fatal("expected block")
	}

	clock.Advance(time.Hour)
	if m.IsBlocked("ip") {
		t.Fatal("expected block to expire")
	}
	if len(m.Activity("ip")) != 0 {
		t.Fatal("expired block must clear activity")
	}
	if len(m.BlockedIPs()) != 0 {
		t.Fatal("expected empty blocked set")
	}
}

func TestPermanentBlockByDefault(t *testing.T) {
	m, clock, _ := newTestManager(Config{Threshold: 1})
	m.TrackSuspiciousActivity(context.Background(), "ip", "a")
	m.TrackSuspiciousActivity(context.Background(), "ip", "b")
	clock.Advance(365 * 24 * time.Hour)
	if !m.IsBlocked("ip") {
		t.Fatal("default block must not expire")
	}
	if !m.Unblock("ip") || m.IsBlocked("ip") {
		t.Fatal("Unblock must lift the block")
	}
	if m.Unblock("ip") {
		t.Fatal("second Unblock must report false")
	}
}

func TestActivityWindowDecay(t *testing.T) {
	m, clock, _ := newTestManager(Config{Threshold: 2, ActivityWindow: time.Minute})
	m.TrackSuspiciousActivity(context.Background(), "ip", "a")
	m.TrackSuspiciousActivity(context.Background(), "ip", "b")
	clock.Advance(2 * time.Minute)
	if m.TrackSuspiciousActivity(context.Background(), "ip", "c") {
		t.Fatal("aged records must not count toward the threshold")
	}
	if len(m.Activity("ip")) != 1 {
		t.Fatalf("expected 1 live record, got %d", len(m.Activity("ip")))
	}
}

func TestAlertRateLimit(t *testing.T) {
	m, _, alerter := newTestManager(Config{Threshold: 1, AlertsPerMinute: 2})
	for i := 0; i < 5; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i)
		m.TrackSuspiciousActivity(context.Background(), ip, "a")
		m.TrackSuspiciousActivity(context.Background(), ip, "b")
	}
	if len(m.BlockedIPs()) != 5 {
		t.Fatalf("all IPs must be blocked, got %v", m.BlockedIPs())
	}
	if alerter.count() != 2 {
		t.Fatalf("expected alerts capped at 2, got %d", alerter.count())
	}
}

func TestConcurrentTrackingBlocksOnce(t *testing.T) {
	m, _, alerter := newTestManager(Config{})
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		crossed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.TrackSuspiciousActivity(context.Background(), "ip", "x") {
				mu.Lock()
				crossed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if crossed != 1 || alerter.count() != 1 {
		t.Fatalf("expected a single crossing and alert, got crossed=%d alerts=%d", crossed, alerter.count())
	}
}

func TestInspectRequest(t *testing.T) {
	m, _, _ := newTestManager(Config{Threshold: 1, ScanHeaders: []string{"X-Search"}})
	ctx := context.Background()

	clean := Request{
		IP:    "5.5.5.5",
		Query: url.Values{"name": {"John O'Brien"}},
		Body:  map[string]any{"comment": "Hello <b>World</b>"},
	}
	if err := m.InspectRequest(ctx, clean); err != nil {
		t.Fatalf("clean request rejected: %v", err)
	}

	sqli := Request{IP: "5.5.5.5", Method: "GET", Path: "/users", Query: url.Values{"id": {"1'; DROP TABLE users; --"}}}
	err := m.InspectRequest(ctx, sqli)
	if !errors.Is(err, ErrThreat) {
		t.Fatalf("expected ErrThreat, got %v", err)
	}
	var te *ThreatError
	if !errors.As(err, &te) || te.Kind != threat.SQLInjection || te.Location != "query" {
		t.Fatalf("expected sql injection in query, got %+v", te)
	}
	acts := m.Activity("5.5.5.5")
	if len(acts) != 1 || !strings.Contains(acts[0].Description, "query") {
		t.Fatalf("expected one recorded query threat, got %+v", acts)
	}

	xss := Request{IP: "5.5.5.5", Header: http.Header{"X-Search": {"<script>alert(1)</script>"}}}
	if err := m.InspectRequest(ctx, xss); !errors.Is(err, ErrThreat) {
		t.Fatalf("expected header threat, got %v", err)
	}

	if err := m.InspectRequest(ctx, clean); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked after threshold, got %v", err)
	}
}

func TestInspectScansDefaultHeaders(t *testing.T) {
	ctx := context.Background()
	for name, value := range map[string]string{
		"User-Agent": "<script>alert(1)</script>",
		"Referer":    "' or '1'='1",
	} {
		m, _, _ := newTestManager(Config{})
		req := Request{IP: "ip", Header: http.Header{name: {value}}}
		err := m.InspectRequest(ctx, req)
		var te *ThreatError
		if !errors.As(err, &te) || te.Location != "header "+name {
			t.Fatalf("%s: expected header threat, got %v", name, err)
		}
	}
}

func TestInspectHeaderListOverridesDefaults(t *testing.T) {
	ctx := context.Background()
	req := Request{IP: "ip", Header: http.Header{"User-Agent": {"<script>"}}}

	m, _, _ := newTestManager(Config{ScanHeaders: []string{"X-Search"}})
	if err := m.InspectRequest(ctx, req); err != nil {
		t.Fatalf("unlisted header must not be scanned, got %v", err)
	}

	m, _, _ = newTestManager(Config{ScanHeaders: []string{}})
	if err := m.InspectRequest(ctx, req); err != nil {
		t.Fatalf("empty header list must disable header scanning, got %v", err)
	}
}
