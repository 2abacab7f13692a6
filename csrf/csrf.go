package csrf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/internal"
)

const (
	minSecretLength = 32
	dataSize        = 32

	// MaxAge is how long a token validates after issuance.
	MaxAge = 3600 * time.Second
	// RefreshAfter is the age past which Refresh reissues a valid token.
	RefreshAfter = 1800 * time.Second
)

var (
	// ErrWeakSecret indicates the signing secret is missing or shorter than 32 characters.
	ErrWeakSecret = errors.New("csrf secret must be at least 32 characters")
	// ErrInvalidToken indicates a token failed validation.
	ErrInvalidToken = errors.New("invalid csrf token")
)

// Option configures a Protector.
type Option func(*Protector)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Protector) {
		if now != nil {
			p.now = now
		}
	}
}

// WithClockSkew lets tokens stamped up to d in the future validate.
// The default is zero: any future timestamp is rejected.
func WithClockSkew(d time.Duration) Option {
	return func(p *Protector) {
		if d > 0 {
			p.skew = d
		}
	}
}

// Info describes a token without exposing anything beyond its timing.
type Info struct {
	Valid     bool
	Age       time.Duration
	ExpiresIn time.Duration
}

// Protector issues and validates stateless HMAC-signed CSRF tokens of the
// form "data:timestamp:signature".
type Protector struct {
	secret []byte
	now    func() time.Time
	skew   time.Duration
}

// New creates a Protector. It fails with ErrWeakSecret when secret has
// fewer than 32 characters.
func New(secret string, opts ...Option) (*Protector, error) {
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}
	p := &Protector{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Generate issues a fresh token stamped with the current time.
func (p *Protector) Generate() (string, error) {
	data, err := internal.NewToken(dataSize)
	if err != nil {
		return "", err
	}
	ts := strconv.FormatInt(p.now().Unix(), 10)
	return data + ":" + ts + ":" + p.sign(data, ts), nil
}

// Validate reports whether token carries a valid signature and is neither
// older than MaxAge nor stamped in the future.
func (p *Protector) Validate(token string) bool {
	_, err := p.age(token)
	return err == nil
}

// Refresh returns token unchanged while it is valid and younger than
// RefreshAfter. Otherwise a new token is issued.
func (p *Protector) Refresh(token string) (string, error) {
	age, err := p.age(token)
	if err != nil || age > RefreshAfter {
		return p.Generate()
	}
	return token, nil
}

// Inspect reports validity, age and remaining lifetime. Age and ExpiresIn
// are zero for invalid tokens.
func (p *Protector) Inspect(token string) Info {
	age, err := p.age(token)
	if err != nil {
		return Info{}
	}
	return Info{Valid: true, Age: age, ExpiresIn: MaxAge - age}
}

func (p *Protector) age(token string) (time.Duration, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return 0, ErrInvalidToken
	}
	data, ts, sig := parts[0], parts[1], parts[2]

	// Compare the hex text so case changes do not pass.
	if !hmac.Equal([]byte(sig), []byte(p.sign(data, ts))) {
		return 0, ErrInvalidToken
	}

	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	age := p.now().Sub(time.Unix(issued, 0))
	if age < -p.skew || age > MaxAge {
		return 0, ErrInvalidToken
	}
	if age < 0 {
		age = 0
	}
	return age, nil
}

func (p *Protector) mac(data, ts string) []byte {
	h := hmac.New(sha256.New, p.secret)
	h.Write([]byte(data + ":" + ts))
	return h.Sum(nil)
}

func (p *Protector) sign(data, ts string) string {
	return hex.EncodeToString(p.mac(data, ts))
}
