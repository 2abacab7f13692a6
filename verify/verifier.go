package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goGuard/internal"
	"github.com/MrEthical07/goGuard/vault"
)

const (
	defaultCodeLength  = 6
	defaultExpiry      = 10 * time.Minute
	defaultMaxAttempts = 5
	keyPrefix          = "verify"
)

// Config controls code shape and lifetime.
type Config struct {
	CodeLength  int           `yaml:"code_length"`
	Expiry      time.Duration `yaml:"code_expiry"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Verifier issues numeric one-time codes and confirms them. Codes are
// stored only as SHA-256 digests and are consumed atomically.
type Verifier struct {
	store  *store
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides time.Now for code expiry.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// New creates a Verifier. Zero-value fields in cfg fall back to defaults
// (6 digits, 10 minutes, 5 attempts).
func New(redisClient redis.UniversalClient, cfg Config, logger *slog.Logger, opts ...Option) *Verifier {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = defaultCodeLength
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = defaultExpiry
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	v := &Verifier{
		store:  &store{redis: redisClient},
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Key returns the store key for a purpose/subject pair. The subject is
// hashed so phone numbers and emails never appear in key names.
func Key(purpose, subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return keyPrefix + ":" + purpose + ":" + hex.EncodeToString(sum[:16])
}

// Issue generates a new code for subject, replacing any previous one.
func (v *Verifier) Issue(ctx context.Context, purpose, subject string) (string, error) {
	code, err := internal.NewOTP(v.config.CodeLength)
	if err != nil {
		return "", err
	}

	rec := &record{
		CodeHash:  internal.HashSecret(code),
		ExpiresAt: v.now().Add(v.config.Expiry).Unix(),
	}
	if err := v.store.save(ctx, Key(purpose, subject), rec, v.config.Expiry); err != nil {
		v.logger.Error("verification store unavailable",
			"severity", "critical", "purpose", purpose, "subject_hash", vault.Hash(subject), "error", err)
		return "", err
	}
	return code, nil
}

// Confirm consumes the code for subject. A wrong code counts as an
// attempt; the record is discarded once MaxAttempts is reached. A correct
// code can be confirmed only once.
func (v *Verifier) Confirm(ctx context.Context, purpose, subject, code string) error {
	if len(code) != v.config.CodeLength {
		return ErrMismatch
	}

	err := v.store.consume(ctx, Key(purpose, subject), internal.HashSecret(code), v.config.MaxAttempts, v.now())
	if errors.Is(err, ErrUnavailable) {
		v.logger.Error("verification store unavailable",
			"severity", "critical", "purpose", purpose, "subject_hash", vault.Hash(subject), "error", err)
	}
	return err
}

// Attempts returns how many wrong codes were submitted against the live
// record, or ErrNotFound when there is none.
func (v *Verifier) Attempts(ctx context.Context, purpose, subject string) (int, error) {
	return v.store.attempts(ctx, Key(purpose, subject))
}
