package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goGuard/cache"
	"github.com/MrEthical07/goGuard/counter"
	"github.com/MrEthical07/goGuard/csrf"
	"github.com/MrEthical07/goGuard/ratelimit"
	"github.com/MrEthical07/goGuard/security"
	"github.com/MrEthical07/goGuard/threat"
	"github.com/MrEthical07/goGuard/vault"
	"github.com/MrEthical07/goGuard/verify"
)

// alertTimeout bounds one asynchronous alert fan-out.
const alertTimeout = 30 * time.Second

// Notifier delivers operator alerts by email and SMS.
type Notifier = security.Notifier

// Builder assembles a Guard. A Builder is single use: configure it during
// initialization, call Build once, then discard it.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	logger    *slog.Logger
	notifier  Notifier
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared store used by counters, the cache and
// verification codes. Any go-redis client (single node, cluster, ring)
// works.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the structured logger passed to every component.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithNotifier sets the transport for IP block alerts. Without one, blocks
// are still logged and audited but nobody is paged.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets the audit destination.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithClock overrides time.Now for every time-dependent component. It
// exists for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration and fails closed: a short secret, an
// out-of-range limit or a missing Redis client returns an error matching
// ErrConfiguration and no Guard. Each component is constructed exactly once.
func (b *Builder) Build() (*Guard, error) {
	if b.built {
		return nil, configError("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, configError("redis client required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	g := &Guard{
		config:  cfg,
		logger:  logger,
		metrics: NewMetrics(cfg.Metrics),
		now:     now,
	}
	g.audit = newAuditDispatcher(cfg.Audit, b.auditSink)

	v, err := vault.New(cfg.Secrets.EncryptionSecret, logger)
	if err != nil {
		return nil, weakSecret("encryption_secret", err)
	}
	g.vault = v

	p, err := csrf.New(cfg.Secrets.CSRFSecret, csrf.WithClock(now))
	if err != nil {
		return nil, weakSecret("csrf_secret", err)
	}
	g.csrf = p

	detector, err := threat.New(threat.Config{
		ExtraSQLPatterns: cfg.Security.ExtraSQLPatterns,
		ExtraXSSPatterns: cfg.Security.ExtraXSSPatterns,
	})
	if err != nil {
		return nil, configError("security extra patterns: " + err.Error())
	}

	g.limiter = ratelimit.New(
		ratelimit.WithClock(now),
		ratelimit.WithLogger(logger),
		ratelimit.WithSweep(cfg.RateLimit.SweepInterval, cfg.RateLimit.IdleAfter),
	)
	if cfg.RateLimit.SweepInterval > 0 {
		g.limiter.Start()
	}

	g.counter = counter.New(b.redis)
	g.devices = counter.NewDeviceLimiter(g.counter, counter.DeviceConfig{
		MaxDevices: cfg.Device.MaxDevicesPerUser,
		Window:     cfg.Device.RegistrationWindow,
	}, logger, g.counterUnavailable)
	g.logins = counter.NewLoginLimiter(g.counter, counter.LoginConfig{
		AttemptsLimit: cfg.Auth.AttemptsLimit,
		Lockout:       cfg.Auth.Lockout(),
	}, logger, g.counterUnavailable)

	g.cache = cache.New(b.redis, cache.Config{
		DefaultTTL:        cfg.Cache.DefaultTTL,
		ShortTTL:          cfg.Cache.ShortTTL,
		ScanBatch:         cfg.Cache.ScanBatch,
		InvalidateTimeout: cfg.Cache.InvalidateTimeout,
	}, logger, cache.WithUnavailableFunc(g.cacheUnavailable))

	g.verifier = verify.New(b.redis, verify.Config{
		CodeLength:  cfg.Verification.CodeLength,
		Expiry:      cfg.Verification.CodeExpiry,
		MaxAttempts: cfg.Verification.MaxAttempts,
	}, logger, verify.WithClock(now))

	opts := []security.Option{
		security.WithClock(now),
		security.WithLogger(logger),
		security.WithBlockFunc(g.onBlock),
	}
	if b.notifier != nil {
		g.alerting = true
		opts = append(opts, security.WithAlerter(g.asyncAlerter(security.ContactAlerter{
			Notifier: b.notifier,
			Emails:   cloneStrings(cfg.Security.AlertEmails),
			Phones:   cloneStrings(cfg.Security.AlertPhones),
		})))
	}
	g.security = security.New(detector, security.Config{
		Threshold:       cfg.Security.SuspiciousThreshold,
		BlockDuration:   cfg.Security.BlockDuration,
		ActivityWindow:  cfg.Security.ActivityWindow,
		AlertsPerMinute: cfg.Security.AlertsPerMinute,
		ScanHeaders:     cloneStrings(cfg.Security.ScanHeaders),
	}, opts...)

	b.built = true
	return g, nil
}

func weakSecret(field string, err error) error {
	if errors.Is(err, vault.ErrWeakSecret) || errors.Is(err, csrf.ErrWeakSecret) {
		return fmt.Errorf("%w: %s", ErrWeakSecret, field)
	}
	return configError(field + ": " + err.Error())
}

// asyncAlerter moves delivery off the request path. Close waits for
// in-flight deliveries; alerts raised after Close starts are logged only.
func (g *Guard) asyncAlerter(next security.Alerter) security.Alerter {
	return security.AlerterFunc(func(_ context.Context, alert security.Alert) error {
		g.alertMu.Lock()
		if g.closing {
			g.alertMu.Unlock()
			g.logger.Error("guard closed, alert not delivered",
				"severity", "critical", "ip", alert.IP, "alert_id", alert.ID)
			return nil
		}
		g.alerts.Add(1)
		g.alertMu.Unlock()

		go func() {
			defer g.alerts.Done()

			ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
			defer cancel()

			if err := next.Alert(ctx, alert); err != nil {
				g.logger.Error("alert delivery failed",
					"severity", "critical", "ip", alert.IP, "alert_id", alert.ID, "error", err)
			}
		}()
		return nil
	})
}
