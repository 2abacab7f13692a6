package counter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goGuard/vault"
)

const (
	defaultMaxDevices         = 3
	defaultRegistrationWindow = 24 * time.Hour
	defaultAttemptsLimit      = 5
	defaultLockout            = 15 * time.Minute
)

// UnavailableFunc is called whenever a policy fails open because the
// store could not be reached.
type UnavailableFunc func(policy string, err error)

// DeviceConfig holds thresholds for the device registration limit.
type DeviceConfig struct {
	MaxDevices int
	Window     time.Duration
}

// DeviceLimiter bounds how many times a device may register from one IP
// within the registration window.
type DeviceLimiter struct {
	counter       *Counter
	config        DeviceConfig
	logger        *slog.Logger
	onUnavailable UnavailableFunc
}

// NewDeviceLimiter creates a device limiter. Zero-value fields in cfg fall
// back to defaults (3 devices / 24h).
func NewDeviceLimiter(c *Counter, cfg DeviceConfig, logger *slog.Logger, onUnavailable UnavailableFunc) *DeviceLimiter {
	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = defaultMaxDevices
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultRegistrationWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceLimiter{counter: c, config: cfg, logger: logger, onUnavailable: onUnavailable}
}

// DeviceKey returns the store key for a device/IP pair.
func DeviceKey(deviceID, ip string) string {
	return "device_limit:" + deviceID + ":" + ip
}

// Register counts a registration and returns ErrDeviceLimitExceeded once
// the count passes MaxDevices. Store failures are allowed through.
func (l *DeviceLimiter) Register(ctx context.Context, deviceID, ip string) error {
	if l == nil {
		return nil
	}

	count, err := l.counter.IncrementWithTTL(ctx, DeviceKey(deviceID, ip), l.config.Window)
	if err != nil {
		l.failOpen("device_limit", err, "device_hash", vault.Hash(deviceID), "ip", ip)
		return nil
	}

	if count > int64(l.config.MaxDevices) {
		return ErrDeviceLimitExceeded
	}
	return nil
}

func (l *DeviceLimiter) failOpen(policy string, err error, attrs ...any) {
	l.logger.Error("counter store unavailable, allowing request",
		append([]any{"severity", "critical", "policy", policy, "error", err}, attrs...)...)
	if l.onUnavailable != nil {
		l.onUnavailable(policy, err)
	}
}

// LoginConfig holds thresholds for login attempt tracking.
type LoginConfig struct {
	AttemptsLimit int
	Lockout       time.Duration
}

// LoginLimiter tracks failed logins per phone/full-name identity.
type LoginLimiter struct {
	counter       *Counter
	config        LoginConfig
	logger        *slog.Logger
	onUnavailable UnavailableFunc
}

// NewLoginLimiter creates a login limiter. Zero-value fields in cfg fall
// back to defaults (5 attempts / 15m).
func NewLoginLimiter(c *Counter, cfg LoginConfig, logger *slog.Logger, onUnavailable UnavailableFunc) *LoginLimiter {
	if cfg.AttemptsLimit <= 0 {
		cfg.AttemptsLimit = defaultAttemptsLimit
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = defaultLockout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginLimiter{counter: c, config: cfg, logger: logger, onUnavailable: onUnavailable}
}

// LoginKey returns the store key for a login identity.
func LoginKey(phone, fullName string) string {
	return "login_attempts:" + phone + ":" + fullName
}

// Check returns ErrLoginLocked when the identity has used all attempts in
// the current lockout window.
func (l *LoginLimiter) Check(ctx context.Context, phone, fullName string) error {
	if l == nil {
		return nil
	}

	count, err := l.counter.Get(ctx, LoginKey(phone, fullName))
	if err != nil {
		l.failOpen(err, phone)
		return nil
	}
	if count >= int64(l.config.AttemptsLimit) {
		return ErrLoginLocked
	}
	return nil
}

// RecordFailure counts a failed login and returns the attempts left. When
// the limit is reached the returned error is ErrLoginLocked.
func (l *LoginLimiter) RecordFailure(ctx context.Context, phone, fullName string) (int, error) {
	if l == nil {
		return 0, nil
	}

	count, err := l.counter.IncrementWithTTL(ctx, LoginKey(phone, fullName), l.config.Lockout)
	if err != nil {
		l.failOpen(err, phone)
		return l.config.AttemptsLimit, nil
	}

	remaining := l.config.AttemptsLimit - int(count)
	if remaining <= 0 {
		return 0, ErrLoginLocked
	}
	return remaining, nil
}

// Reset clears the failure counter after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, phone, fullName string) error {
	if l == nil {
		return nil
	}
	if err := l.counter.Reset(ctx, LoginKey(phone, fullName)); err != nil {
		l.failOpen(err, phone)
		return err
	}
	return nil
}

// LockedFor returns how long the identity stays locked, or 0 if it is not.
func (l *LoginLimiter) LockedFor(ctx context.Context, phone, fullName string) time.Duration {
	if err := l.Check(ctx, phone, fullName); !errors.Is(err, ErrLoginLocked) {
		return 0
	}
	ttl, err := l.counter.TTL(ctx, LoginKey(phone, fullName))
	if err != nil {
		return 0
	}
	return ttl
}

func (l *LoginLimiter) failOpen(err error, phone string) {
	l.logger.Error("counter store unavailable, allowing request",
		"severity", "critical", "policy", "login_attempts", "error", err, "phone_hash", vault.Hash(phone))
	if l.onUnavailable != nil {
		l.onUnavailable("login_attempts", err)
	}
}
