package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/MrEthical07/goGuard/threat"
)

const (
	defaultThreshold       = 10
	defaultAlertsPerMinute = 6
)

// DefaultScanHeaders are the client-controlled headers scanned when
// Config.ScanHeaders is nil.
var DefaultScanHeaders = []string{"User-Agent", "Referer", "X-Forwarded-For", "Origin"}

var (
	// ErrBlocked indicates the client IP is on the blocklist.
	ErrBlocked = errors.New("ip blocked")
	// ErrThreat indicates a request carried an injection signature.
	ErrThreat = errors.New("threat detected")
)

// ThreatError reports which signature matched and where. It matches
// ErrThreat through errors.Is.
type ThreatError struct {
	Kind     threat.Kind
	Location string
}

func (e *ThreatError) Error() string {
	return fmt.Sprintf("%s: %s in %s", ErrThreat, e.Kind, e.Location)
}

func (e *ThreatError) Is(target error) bool { return target == ErrThreat }

// Config controls escalation from suspicious activity to a block.
type Config struct {
	// Threshold is the number of records an IP may accumulate before the
	// next one blocks it.
	Threshold int `yaml:"suspicious_threshold"`
	// BlockDuration bounds blocklist membership. Zero blocks until Unblock.
	BlockDuration time.Duration `yaml:"block_duration"`
	// ActivityWindow drops records older than this. Zero keeps them all.
	ActivityWindow time.Duration `yaml:"activity_window"`
	// AlertsPerMinute caps alert dispatch across all IPs.
	AlertsPerMinute int `yaml:"alerts_per_minute"`
	// ScanHeaders lists request headers InspectRequest scans. Nil means
	// DefaultScanHeaders; an empty non-nil slice scans no headers.
	ScanHeaders []string `yaml:"scan_headers"`
}

// Activity is one suspicious event recorded against an IP.
type Activity struct {
	At          time.Time
	Description string
}

// Alert is raised once each time an IP crosses the threshold.
type Alert struct {
	ID         string
	IP         string
	Count      int
	BlockedAt  time.Time
	Activities []Activity
}

// Alerter delivers block alerts to operators.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(ctx context.Context, alert Alert) error

// Alert calls f.
func (f AlerterFunc) Alert(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now for activity timestamps and block expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger for block and alert events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAlerter sets where block alerts go. Without one, blocks are only
// logged.
func WithAlerter(a Alerter) Option {
	return func(m *Manager) {
		m.alerter = a
	}
}

// WithBlockFunc registers a callback run for every new block, before
// alert throttling applies.
func WithBlockFunc(fn func(alert Alert)) Option {
	return func(m *Manager) {
		m.onBlock = fn
	}
}

// Manager tracks suspicious activity per client IP and maintains the
// blocklist. All state is guarded by a single mutex that is never held
// across detector scans or alert delivery.
type Manager struct {
	detector *threat.Detector
	config   Config
	logger   *slog.Logger
	alerter  Alerter
	onBlock  func(Alert)
	alerts   *rate.Limiter
	now      func() time.Time

	mu       sync.Mutex
	activity map[string][]Activity
	blocked  map[string]time.Time
}

// New creates a Manager. A nil detector uses threat.Default().
func New(detector *threat.Detector, cfg Config, opts ...Option) *Manager {
	if detector == nil {
		detector = threat.Default()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.AlertsPerMinute <= 0 {
		cfg.AlertsPerMinute = defaultAlertsPerMinute
	}
	if cfg.ScanHeaders == nil {
		cfg.ScanHeaders = append([]string(nil), DefaultScanHeaders...)
	}

	m := &Manager{
		detector: detector,
		config:   cfg,
		logger:   slog.Default(),
		now:      time.Now,
		alerts:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.AlertsPerMinute)), cfg.AlertsPerMinute),
		activity: make(map[string][]Activity),
		blocked:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Detector returns the signature matcher used by InspectRequest.
func (m *Manager) Detector() *threat.Detector {
	return m.detector
}

// TrackSuspiciousActivity records activity against ip. It returns true
// only for the call that pushed ip over the threshold and blocked it.
// Once blocked, further records are ignored until the block is lifted.
func (m *Manager) TrackSuspiciousActivity(ctx context.Context, ip, activity string) bool {
	now := m.now()

	m.mu.Lock()
	if m.blockedLocked(ip, now) {
		m.mu.Unlock()
		return false
	}

	records := append(m.pruneLocked(ip, now), Activity{At: now, Description: activity})
	m.activity[ip] = records

	crossed := len(records) > m.config.Threshold
	var alert Alert
	if crossed {
		var expires time.Time
		if m.config.BlockDuration > 0 {
			expires = now.Add(m.config.BlockDuration)
		}
		m.blocked[ip] = expires
		alert = Alert{
			ID:         uuid.NewString(),
			IP:         ip,
			Count:      len(records),
			BlockedAt:  now,
			Activities: append([]Activity(nil), records...),
		}
	}
	m.mu.Unlock()

	if !crossed {
		m.logger.Warn("suspicious activity recorded", "ip", ip, "activity", activity, "count", len(records))
		return false
	}

	m.logger.Error("ip blocked after repeated suspicious activity",
		"severity", "critical", "ip", ip, "count", alert.Count, "alert_id", alert.ID)
	if m.onBlock != nil {
		m.onBlock(alert)
	}
	m.dispatch(ctx, alert)
	return true
}

func (m *Manager) dispatch(ctx context.Context, alert Alert) {
	if m.alerter == nil {
		return
	}
	if !m.alerts.AllowN(alert.BlockedAt, 1) {
		m.logger.Warn("alert suppressed by rate limit", "ip", alert.IP, "alert_id", alert.ID)
		return
	}
	if err := m.alerter.Alert(ctx, alert); err != nil {
		m.logger.Error("alert delivery failed", "severity", "critical", "ip", alert.IP, "alert_id", alert.ID, "error", err)
	}
}

// blockedLocked reports whether ip is blocked at now and lifts expired
// blocks. The caller must hold m.mu.
func (m *Manager) blockedLocked(ip string, now time.Time) bool {
	expires, ok := m.blocked[ip]
	if !ok {
		return false
	}
	if !expires.IsZero() && !now.Before(expires) {
		delete(m.blocked, ip)
		delete(m.activity, ip)
		return false
	}
	return true
}

func (m *Manager) pruneLocked(ip string, now time.Time) []Activity {
	records := m.activity[ip]
	if m.config.ActivityWindow <= 0 || len(records) == 0 {
		return records
	}
	cutoff := now.Add(-m.config.ActivityWindow)
	i := 0
	for i < len(records) && records[i].At.Before(cutoff) {
		i++
	}
	return records[i:]
}

// IsBlocked reports whether ip is currently blocked.
func (m *Manager) IsBlocked(ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockedLocked(ip, m.now())
}

// Unblock lifts a block and forgets the IP's activity.
func (m *Manager) Unblock(ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blocked[ip]
	delete(m.blocked, ip)
	delete(m.activity, ip)
	if ok {
		m.logger.Info("ip unblocked", "ip", ip)
	}
	return ok
}

// BlockedIPs returns the currently blocked IPs in sorted order.
func (m *Manager) BlockedIPs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]string, 0, len(m.blocked))
	for ip := range m.blocked {
		if m.blockedLocked(ip, now) {
			out = append(out, ip)
		}
	}
	sort.Strings(out)
	return out
}

// Activity returns a copy of the records held for ip.
func (m *Manager) Activity(ip string) []Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Activity(nil), m.pruneLocked(ip, m.now())...)
}

// Request is the part of an inbound request InspectRequest looks at.
type Request struct {
	IP     string
	Method string
	Path   string
	Header http.Header
	Query  url.Values
	Body   any
}

// InspectRequest rejects requests from blocked IPs with ErrBlocked and
// requests carrying an injection signature in the query, body or a
// configured header with ErrThreat. Detected threats count as suspicious
// activity for the client IP.
func (m *Manager) InspectRequest(ctx context.Context, req Request) error {
	if m.IsBlocked(req.IP) {
		return ErrBlocked
	}

	location, kind := m.scan(req)
	if kind == threat.None {
		return nil
	}

	m.TrackSuspiciousActivity(ctx, req.IP, fmt.Sprintf("%s in %s %s %s", kind, location, req.Method, req.Path))
	return &ThreatError{Kind: kind, Location: location}
}

func (m *Manager) scan(req Request) (string, threat.Kind) {
	if kind := m.detector.Scan(req.Query); kind != threat.None {
		return "query", kind
	}
	if kind := m.detector.Scan(req.Body); kind != threat.None {
		return "body", kind
	}
	for _, h := range m.config.ScanHeaders {
		if kind := m.detector.Scan(req.Header.Values(h)); kind != threat.None {
			return "header " + http.CanonicalHeaderKey(h), kind
		}
	}
	return "", threat.None
}
