package goGuard

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/goGuard/security"
)

// Environment variables that override secrets loaded from a file.
const (
	EnvEncryptionSecret = "GOGUARD_ENCRYPTION_SECRET"
	EnvCSRFSecret       = "GOGUARD_CSRF_SECRET"
)

const minSecretLength = 32

// Config is the complete goGuard configuration. Durations are written as
// Go duration strings ("60s", "15m") in YAML.
type Config struct {
	Secrets      SecretsConfig      `yaml:"secrets"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Cache        CacheConfig        `yaml:"cache"`
	Device       DeviceConfig       `yaml:"device"`
	Auth         AuthConfig         `yaml:"auth"`
	Verification VerificationConfig `yaml:"verification"`
	Security     SecurityConfig     `yaml:"security"`
	Audit        AuditConfig        `yaml:"audit"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

/*
====================================
SECRETS CONFIG
====================================
*/

// SecretsConfig holds the process-wide signing and encryption secrets.
// Both must be at least 32 characters.
type SecretsConfig struct {
	EncryptionSecret string `yaml:"encryption_secret"`
	CSRFSecret       string `yaml:"csrf_secret"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures the in-process sliding window limiter.
type RateLimitConfig struct {
	DefaultRequests int           `yaml:"default_requests"`
	DefaultWindow   time.Duration `yaml:"default_window"`
	StrictRequests  int           `yaml:"strict_requests"`
	StrictWindow    time.Duration `yaml:"strict_window"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	IdleAfter       time.Duration `yaml:"idle_after"`
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig configures the response cache.
type CacheConfig struct {
	DefaultTTL        time.Duration `yaml:"default_ttl"`
	ShortTTL          time.Duration `yaml:"short_ttl"`
	ScanBatch         int64         `yaml:"scan_batch"`
	InvalidateTimeout time.Duration `yaml:"invalidate_timeout"`
}

/*
====================================
DEVICE / AUTH CONFIG
====================================
*/

// DeviceConfig configures the device registration limit.
type DeviceConfig struct {
	MaxDevicesPerUser  int           `yaml:"max_devices_per_user"`
	RegistrationWindow time.Duration `yaml:"registration_window"`
}

// AuthConfig configures login attempt lockout.
type AuthConfig struct {
	AttemptsLimit  int `yaml:"attempts_limit"`
	LockoutMinutes int `yaml:"lockout_minutes"`
}

// VerificationConfig configures one-time verification codes.
type VerificationConfig struct {
	CodeLength  int           `yaml:"code_length"`
	CodeExpiry  time.Duration `yaml:"code_expiry"`
	MaxAttempts int           `yaml:"max_attempts"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig configures threat escalation and operator alerts.
type SecurityConfig struct {
	SuspiciousThreshold int           `yaml:"suspicious_threshold"`
	BlockDuration       time.Duration `yaml:"block_duration"`
	ActivityWindow      time.Duration `yaml:"activity_window"`
	AlertEmails         []string      `yaml:"alert_emails"`
	AlertPhones         []string      `yaml:"alert_phones"`
	AlertsPerMinute     int           `yaml:"alerts_per_minute"`
	ScanHeaders         []string      `yaml:"scan_headers"`
	ExtraSQLPatterns    []string      `yaml:"extra_sql_patterns"`
	ExtraXSSPatterns    []string      `yaml:"extra_xss_patterns"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a configuration with every default filled in.
// Secrets are empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			DefaultRequests: 100,
			DefaultWindow:   60 * time.Second,
			StrictRequests:  10,
			StrictWindow:    60 * time.Second,
			SweepInterval:   time.Hour,
			IdleAfter:       time.Hour,
		},
		Cache: CacheConfig{
			DefaultTTL:        300 * time.Second,
			ShortTTL:          60 * time.Second,
			ScanBatch:         100,
			InvalidateTimeout: 30 * time.Second,
		},
		Device: DeviceConfig{
			MaxDevicesPerUser:  3,
			RegistrationWindow: 24 * time.Hour,
		},
		Auth: AuthConfig{
			AttemptsLimit:  5,
			LockoutMinutes: 15,
		},
		Verification: VerificationConfig{
			CodeLength:  6,
			CodeExpiry:  10 * time.Minute,
			MaxAttempts: 5,
		},
		Security: SecurityConfig{
			SuspiciousThreshold: 10,
			AlertsPerMinute:     6,
			ScanHeaders:         append([]string(nil), security.DefaultScanHeaders...),
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig, applies environment
// secret overrides and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse config file: %v", ErrConfiguration, err)
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvEncryptionSecret); ok && v != "" {
		c.Secrets.EncryptionSecret = v
	}
	if v, ok := lookup(EnvCSRFSecret); ok && v != "" {
		c.Secrets.CSRFSecret = v
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first problem that would make the configuration
// unsafe to start with. Errors match ErrConfiguration.
func (c *Config) Validate() error {
	if len(c.Secrets.EncryptionSecret) < minSecretLength {
		return fmt.Errorf("%w: encryption_secret", ErrWeakSecret)
	}
	if len(c.Secrets.CSRFSecret) < minSecretLength {
		return fmt.Errorf("%w: csrf_secret", ErrWeakSecret)
	}

	if c.RateLimit.DefaultRequests <= 0 || c.RateLimit.DefaultWindow <= 0 {
		return configError("rate_limit default_requests and default_window must be > 0")
	}
	if c.RateLimit.StrictRequests <= 0 || c.RateLimit.StrictWindow <= 0 {
		return configError("rate_limit strict_requests and strict_window must be > 0")
	}
	if c.RateLimit.StrictRequests > c.RateLimit.DefaultRequests {
		return configError("rate_limit strict_requests must not exceed default_requests")
	}
	if c.RateLimit.SweepInterval < 0 || c.RateLimit.IdleAfter < 0 {
		return configError("rate_limit sweep_interval and idle_after must be >= 0")
	}

	if c.Cache.DefaultTTL <= 0 || c.Cache.ShortTTL <= 0 {
		return configError("cache default_ttl and short_ttl must be > 0")
	}
	if c.Cache.ScanBatch < 0 || c.Cache.InvalidateTimeout < 0 {
		return configError("cache scan_batch and invalidate_timeout must be >= 0")
	}

	if c.Device.MaxDevicesPerUser <= 0 || c.Device.RegistrationWindow <= 0 {
		return configError("device max_devices_per_user and registration_window must be > 0")
	}
	if c.Auth.AttemptsLimit <= 0 || c.Auth.LockoutMinutes <= 0 {
		return configError("auth attempts_limit and lockout_minutes must be > 0")
	}

	if c.Verification.CodeLength < 4 || c.Verification.CodeLength > 10 {
		return configError("verification code_length must be between 4 and 10")
	}
	if c.Verification.CodeExpiry <= 0 || c.Verification.MaxAttempts <= 0 {
		return configError("verification code_expiry and max_attempts must be > 0")
	}

	if c.Security.SuspiciousThreshold <= 0 {
		return configError("security suspicious_threshold must be > 0")
	}
	if c.Security.BlockDuration < 0 || c.Security.ActivityWindow < 0 {
		return configError("security block_duration and activity_window must be >= 0")
	}
	if c.Security.AlertsPerMinute <= 0 {
		return configError("security alerts_per_minute must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return configError("audit buffer_size must be > 0 when enabled")
	}

	return nil
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, msg)
}

// Lockout returns the login lockout as a duration.
func (c AuthConfig) Lockout() time.Duration {
	return time.Duration(c.LockoutMinutes) * time.Minute
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Security.AlertEmails = cloneStrings(cfg.Security.AlertEmails)
	out.Security.AlertPhones = cloneStrings(cfg.Security.AlertPhones)
	out.Security.ScanHeaders = cloneStrings(cfg.Security.ScanHeaders)
	out.Security.ExtraSQLPatterns = cloneStrings(cfg.Security.ExtraSQLPatterns)
	out.Security.ExtraXSSPatterns = cloneStrings(cfg.Security.ExtraXSSPatterns)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}
