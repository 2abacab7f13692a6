package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/cache"
	"github.com/MrEthical07/goGuard/counter"
	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/ratelimit"
	"github.com/MrEthical07/goGuard/security"
	"github.com/MrEthical07/goGuard/vault"
	"github.com/MrEthical07/goGuard/verify"
)

// Request is the part of an inbound HTTP request that InspectRequest
// scans.
type Request = security.Request

// Guard is the assembled defense layer. All methods are safe for
// concurrent use. Construct it with Builder.
type Guard struct {
	config  Config
	logger  *slog.Logger
	metrics *Metrics
	audit   *audit.Dispatcher
	now     func() time.Time

	alerting bool

	vault    *vault.Vault
	csrf     *csrf.Protector
	limiter  *ratelimit.Limiter
	counter  *counter.Counter
	devices  *counter.DeviceLimiter
	logins   *counter.LoginLimiter
	cache    *cache.Manager
	verifier *verify.Verifier
	security *security.Manager

	alertMu   sync.Mutex
	closing   bool
	alerts    sync.WaitGroup
	closeOnce sync.Once
}

/*
====================================
RATE LIMITING
====================================
*/

// CheckRateLimit applies the default window to identifier, typically the
// client IP. A denied call returns ErrRateLimited with the Result filled
// in for Retry-After.
func (g *Guard) CheckRateLimit(ctx context.Context, identifier string) (ratelimit.Result, error) {
	return g.checkRate(ctx, identifier, g.config.RateLimit.DefaultRequests, g.config.RateLimit.DefaultWindow)
}

// CheckStrictRateLimit applies the strict window used on login, OTP and
// other sensitive endpoints. Strict and default windows are tracked under
// separate identifiers.
func (g *Guard) CheckStrictRateLimit(ctx context.Context, identifier string) (ratelimit.Result, error) {
	return g.checkRate(ctx, "strict:"+identifier, g.config.RateLimit.StrictRequests, g.config.RateLimit.StrictWindow)
}

func (g *Guard) checkRate(ctx context.Context, identifier string, limit int, window time.Duration) (ratelimit.Result, error) {
	res := g.limiter.Check(identifier, limit, window)
	if res.Allowed {
		return res, nil
	}

	g.metricInc(MetricRateLimited)
	g.emitAudit(ctx, AuditEvent{
		EventType: AuditRateLimited,
		Subject:   identifier,
		Metadata: map[string]string{
			"limit":       strconv.Itoa(limit),
			"retry_after": res.RetryAfter.String(),
		},
	})
	return res, ErrRateLimited
}

// RegisterDevice counts a device registration from ip. It returns
// ErrDeviceLimitExceeded once the device passes the per-window limit.
// Store failures are allowed through.
func (g *Guard) RegisterDevice(ctx context.Context, deviceID, ip string) error {
	err := g.devices.Register(ctx, deviceID, ip)
	if errors.Is(err, counter.ErrDeviceLimitExceeded) {
		g.metricInc(MetricDeviceLimited)
		g.emitAudit(ctx, AuditEvent{
			EventType: AuditDeviceLimited,
			Subject:   g.vault.Hash(deviceID),
			IP:        ip,
		})
		return ErrDeviceLimitExceeded
	}
	return err
}

// CheckLogin returns ErrLoginLocked while the phone/name identity is
// locked out.
func (g *Guard) CheckLogin(ctx context.Context, phone, fullName string) error {
	if err := g.logins.Check(ctx, phone, fullName); errors.Is(err, counter.ErrLoginLocked) {
		g.metricInc(MetricLoginLocked)
		g.emitAudit(ctx, AuditEvent{
			EventType: AuditLoginLocked,
			Subject:   g.vault.Hash(phone),
		})
		return ErrLoginLocked
	}
	return nil
}

// RecordLoginFailure counts a failed login and returns the attempts left.
// The call that exhausts the limit returns ErrLoginLocked.
func (g *Guard) RecordLoginFailure(ctx context.Context, phone, fullName string) (int, error) {
	remaining, err := g.logins.RecordFailure(ctx, phone, fullName)
	g.metricInc(MetricLoginFailure)
	g.emitAudit(ctx, AuditEvent{
		EventType: AuditLoginFailure,
		Subject:   g.vault.Hash(phone),
		Metadata:  map[string]string{"remaining": strconv.Itoa(remaining)},
	})
	if errors.Is(err, counter.ErrLoginLocked) {
		g.metricInc(MetricLoginLocked)
		return 0, ErrLoginLocked
	}
	return remaining, err
}

// RecordLoginSuccess clears the failure counter. A store failure is
// logged by the limiter and otherwise ignored: the counter expires on its
// own.
func (g *Guard) RecordLoginSuccess(ctx context.Context, phone, fullName string) {
	_ = g.logins.Reset(ctx, phone, fullName)
	g.emitAudit(ctx, AuditEvent{
		EventType: AuditLoginSuccess,
		Subject:   g.vault.Hash(phone),
		Success:   true,
	})
}

// LoginLockedFor returns the remaining lockout for the identity, or 0.
func (g *Guard) LoginLockedFor(ctx context.Context, phone, fullName string) time.Duration {
	return g.logins.LockedFor(ctx, phone, fullName)
}

/*
====================================
THREATS AND BLOCKLIST
====================================
*/

// InspectRequest rejects blocked IPs with ErrIPBlocked and requests that
// carry an injection signature with ErrThreatDetected. The matched
// signature is logged and audited but never part of the public message.
func (g *Guard) InspectRequest(ctx context.Context, req Request) error {
	start := g.now()
	err := g.security.InspectRequest(ctx, req)
	g.observe(MetricInspectLatency, g.now().Sub(start))

	var te *security.ThreatError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, security.ErrBlocked):
		g.metricInc(MetricBlockedRequest)
		return ErrIPBlocked
	case errors.As(err, &te):
		g.metricInc(MetricThreatDetected)
		g.logger.Warn("threat detected",
			"ip", req.IP, "method", req.Method, "path", req.Path, "kind", te.Kind.String(), "location", te.Location)
		g.emitAudit(ctx, AuditEvent{
			EventType: AuditThreatDetected,
			IP:        req.IP,
			Metadata: map[string]string{
				"kind":     te.Kind.String(),
				"location": te.Location,
				"path":     req.Path,
			},
		})
		return fmt.Errorf("%w: %s", ErrThreatDetected, te.Kind)
	default:
		return err
	}
}

// TrackSuspiciousActivity records activity for ip outside of request
// scanning, for example repeated bad OTPs. It reports whether this call
// blocked the IP.
func (g *Guard) TrackSuspiciousActivity(ctx context.Context, ip, activity string) bool {
	return g.security.TrackSuspiciousActivity(ctx, ip, activity)
}

// IsBlocked reports whether ip is on the blocklist.
func (g *Guard) IsBlocked(ip string) bool {
	return g.security.IsBlocked(ip)
}

// Unblock lifts a block and clears the activity log for ip.
func (g *Guard) Unblock(ctx context.Context, ip string) bool {
	if !g.security.Unblock(ip) {
		return false
	}
	g.logger.Info("ip unblocked", "ip", ip)
	g.emitAudit(ctx, AuditEvent{EventType: AuditIPUnblocked, IP: ip, Success: true})
	return true
}

// BlockedIPs lists the blocklist in sorted order.
func (g *Guard) BlockedIPs() []string {
	return g.security.BlockedIPs()
}

func (g *Guard) onBlock(alert security.Alert) {
	g.metricInc(MetricIPBlocked)
	g.emitAudit(context.Background(), AuditEvent{
		EventType: AuditIPBlocked,
		IP:        alert.IP,
		Metadata: map[string]string{
			"alert_id": alert.ID,
			"count":    strconv.Itoa(alert.Count),
		},
	})
}

/*
====================================
CSRF
====================================
*/

// GenerateCSRF issues a fresh token.
func (g *Guard) GenerateCSRF() (string, error) {
	token, err := g.csrf.Generate()
	if err != nil {
		return "", err
	}
	g.metricInc(MetricCSRFIssued)
	return token, nil
}

// ValidateCSRF returns ErrCSRFInvalid for a missing, forged or expired
// token.
func (g *Guard) ValidateCSRF(ctx context.Context, token string) error {
	if g.csrf.Validate(token) {
		return nil
	}
	g.metricInc(MetricCSRFRejected)
	g.emitAudit(ctx, AuditEvent{EventType: AuditCSRFRejected})
	return ErrCSRFInvalid
}

// RefreshCSRF returns token while it is young enough, otherwise a new one.
func (g *Guard) RefreshCSRF(token string) (string, error) {
	next, err := g.csrf.Refresh(token)
	if err != nil {
		return "", err
	}
	if next != token {
		g.metricInc(MetricCSRFIssued)
	}
	return next, nil
}

// InspectCSRF reports a token's validity and remaining lifetime.
func (g *Guard) InspectCSRF(token string) csrf.Info {
	return g.csrf.Inspect(token)
}

/*
====================================
VERIFICATION CODES
====================================
*/

// IssueVerificationCode issues a one-time code for subject under purpose
// ("signup", "reset", ...). Delivering the code is the caller's job.
// Verification fails closed: a store failure returns ErrStoreUnavailable.
func (g *Guard) IssueVerificationCode(ctx context.Context, purpose, subject string) (string, error) {
	code, err := g.verifier.Issue(ctx, purpose, subject)
	if err != nil {
		if errors.Is(err, verify.ErrUnavailable) {
			g.metricInc(MetricStoreUnavailable)
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return "", err
	}
	g.metricInc(MetricVerificationIssued)
	g.emitAudit(ctx, AuditEvent{
		EventType: AuditVerificationIssued,
		Subject:   g.vault.Hash(subject),
		Success:   true,
		Metadata:  map[string]string{"purpose": purpose},
	})
	return code, nil
}

// ConfirmVerificationCode consumes code. Wrong, expired and unknown codes
// return ErrVerificationInvalid; a code discarded after too many guesses
// returns ErrVerificationAttempts.
func (g *Guard) ConfirmVerificationCode(ctx context.Context, purpose, subject, code string) error {
	err := g.verifier.Confirm(ctx, purpose, subject, code)
	event := AuditEvent{
		EventType: AuditVerificationConfirm,
		Subject:   g.vault.Hash(subject),
		Success:   err == nil,
		Metadata:  map[string]string{"purpose": purpose},
	}

	var out error
	switch {
	case err == nil:
		g.metricInc(MetricVerificationConfirmed)
	case errors.Is(err, verify.ErrAttemptsExceeded):
		out = ErrVerificationAttempts
	case errors.Is(err, verify.ErrNotFound), errors.Is(err, verify.ErrMismatch):
		out = ErrVerificationInvalid
	default:
		g.metricInc(MetricStoreUnavailable)
		out = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if out != nil {
		g.metricInc(MetricVerificationFailed)
		event.EventType = AuditVerificationRejected
		event.Error = err.Error()
	}
	g.emitAudit(ctx, event)
	return out
}

/*
====================================
CRYPTO
====================================
*/

// Encrypt seals plaintext for storage. It never fails: on error the input
// is returned unchanged and the failure is logged.
func (g *Guard) Encrypt(plaintext string) string {
	return g.vault.Encrypt(plaintext)
}

// Decrypt opens a value produced by Encrypt. Values that do not decrypt
// are returned unchanged and counted.
func (g *Guard) Decrypt(encoded string) string {
	plain, err := g.vault.TryDecrypt(encoded)
	if err != nil {
		g.metricInc(MetricDecryptFailure)
		g.logger.Error("decrypt failed, returning stored value",
			"severity", "critical", "error", err, "value_hash", vault.Hash(encoded))
		return encoded
	}
	return plain
}

// Hash returns the stable pseudonym used for PII in logs and audit events.
func (g *Guard) Hash(s string) string {
	return g.vault.Hash(s)
}

/*
====================================
CACHE
====================================
*/

// InvalidateCache schedules deletion of every cache key matching pattern
// and returns immediately.
func (g *Guard) InvalidateCache(pattern string) {
	g.metricInc(MetricCacheInvalidated)
	g.cache.InvalidatePatternAsync(pattern)
}

func (g *Guard) cacheUnavailable(op string, err error) {
	g.storeUnavailable("cache."+op, err)
}

func (g *Guard) counterUnavailable(policy string, err error) {
	g.storeUnavailable("counter."+policy, err)
}

func (g *Guard) storeUnavailable(op string, err error) {
	g.metricInc(MetricStoreUnavailable)
	g.emitAudit(context.Background(), AuditEvent{
		EventType: AuditStoreUnavailable,
		Error:     err.Error(),
		Metadata:  map[string]string{"op": op},
	})
}

/*
====================================
ACCESSORS AND LIFECYCLE
====================================
*/

// Config returns a copy of the active configuration.
func (g *Guard) Config() Config { return cloneConfig(g.config) }

// Cache returns the response cache.
func (g *Guard) Cache() *cache.Manager { return g.cache }

// Limiter returns the in-process sliding window limiter.
func (g *Guard) Limiter() *ratelimit.Limiter { return g.limiter }

// Counter returns the shared-store counter.
func (g *Guard) Counter() *counter.Counter { return g.counter }

// Security returns the blocklist manager.
func (g *Guard) Security() *security.Manager { return g.security }

// Vault returns the encryption vault.
func (g *Guard) Vault() *vault.Vault { return g.vault }

// CSRF returns the token protector.
func (g *Guard) CSRF() *csrf.Protector { return g.csrf }

// Verifier returns the verification code issuer.
func (g *Guard) Verifier() *verify.Verifier { return g.verifier }

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// Cache hit and miss totals are read from the cache manager at snapshot
// time; every other counter is maintained by Guard.
func (g *Guard) MetricsSnapshot() MetricsSnapshot {
	if g == nil || g.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	s := g.metrics.Snapshot()
	if g.metrics.Enabled() && g.cache != nil {
		s.Counters[MetricCacheHit], s.Counters[MetricCacheMiss] = g.cache.Counts()
	}
	return s
}

// AuditDropped returns how many audit events were dropped because the
// buffer was full.
func (g *Guard) AuditDropped() uint64 {
	if g == nil {
		return 0
	}
	return g.audit.Dropped()
}

// Close stops the sweeper, waits for pending invalidations and alert
// deliveries, then drains the audit queue. The Redis client is owned by
// the caller and stays open.
func (g *Guard) Close() {
	if g == nil {
		return
	}
	g.closeOnce.Do(func() {
		g.limiter.Stop()
		g.cache.Wait()

		g.alertMu.Lock()
		g.closing = true
		g.alertMu.Unlock()
		g.alerts.Wait()

		g.audit.Close()
	})
}

func (g *Guard) metricInc(id MetricID) {
	if g == nil || g.metrics == nil {
		return
	}
	g.metrics.Inc(id)
}

func (g *Guard) observe(id MetricID, d time.Duration) {
	if g == nil || g.metrics == nil {
		return
	}
	g.metrics.Observe(id, d)
}

func (g *Guard) emitAudit(ctx context.Context, event AuditEvent) {
	if g.audit == nil {
		return
	}
	g.audit.Emit(ctx, event)
}
