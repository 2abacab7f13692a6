package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL               = 300 * time.Second
	defaultShortTTL          = 60 * time.Second
	defaultScanBatch         = 100
	defaultInvalidateTimeout = 30 * time.Second
)

// ErrUnavailable indicates the cache store could not be reached.
var ErrUnavailable = errors.New("cache store unavailable")

// Config controls TTLs and invalidation batching.
type Config struct {
	DefaultTTL        time.Duration `yaml:"default_ttl"`
	ShortTTL          time.Duration `yaml:"short_ttl"`
	ScanBatch         int64         `yaml:"scan_batch"`
	InvalidateTimeout time.Duration `yaml:"invalidate_timeout"`
}

// UnavailableFunc is called whenever an operation is skipped because the
// store failed.
type UnavailableFunc func(op string, err error)

// Option configures a Manager.
type Option func(*Manager)

// WithUnavailableFunc registers a callback for store failures.
func WithUnavailableFunc(fn UnavailableFunc) Option {
	return func(m *Manager) {
		m.onUnavailable = fn
	}
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Keys   int64
	Hits   uint64
	Misses uint64
}

// Manager is a Redis-backed response cache. Every store failure degrades
// to "no caching": reads miss and writes are skipped.
type Manager struct {
	redis         redis.UniversalClient
	config        Config
	logger        *slog.Logger
	onUnavailable UnavailableFunc

	hits   atomic.Uint64
	misses atomic.Uint64

	pending sync.WaitGroup
}

// New creates a Manager. Zero-value fields in cfg fall back to defaults
// (300s default TTL, 60s short TTL, scan batches of 100).
func New(redisClient redis.UniversalClient, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultTTL
	}
	if cfg.ShortTTL <= 0 {
		cfg.ShortTTL = defaultShortTTL
	}
	if cfg.ScanBatch <= 0 {
		cfg.ScanBatch = defaultScanBatch
	}
	if cfg.InvalidateTimeout <= 0 {
		cfg.InvalidateTimeout = defaultInvalidateTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		redis:  redisClient,
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultTTL returns the TTL used when Set is called with ttl <= 0.
func (m *Manager) DefaultTTL() time.Duration { return m.config.DefaultTTL }

// ShortTTL returns the TTL for volatile entries.
func (m *Manager) ShortTTL() time.Duration { return m.config.ShortTTL }

// Get returns the cached bytes for key. Missing keys and store failures
// both report false.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := m.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			m.unavailable("get", err, key)
		}
		m.misses.Add(1)
		return nil, false
	}
	m.hits.Add(1)
	return val, true
}

// Set stores value under key. A non-positive ttl uses the default TTL.
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}
	if err := m.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		m.unavailable("set", err, key)
	}
}

// GetJSON decodes the cached entry into dst. It reports false on a miss,
// a store failure or an entry that no longer decodes.
func (m *Manager) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := m.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		m.logger.Warn("cache entry does not decode, treating as miss", "key", key, "error", err)
		return false
	}
	return true
}

// SetJSON encodes value and stores it. Only encoding failures are returned;
// store failures are logged and skipped.
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	m.Set(ctx, key, raw, ttl)
	return nil
}

// Delete removes keys.
func (m *Manager) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := m.redis.Del(ctx, keys...).Err(); err != nil {
		m.unavailable("delete", err, strings.Join(keys, ","))
	}
}

// InvalidatePattern deletes every key matching the glob pattern. Keys are
// walked with a SCAN cursor and deleted one batch at a time, so no single
// command touches the whole keyspace. ctx is checked between batches.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := m.redis.Scan(ctx, cursor, pattern, m.config.ScanBatch).Result()
		if err != nil {
			m.unavailable("invalidate", err, pattern)
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if len(keys) > 0 {
			n, err := m.redis.Del(ctx, keys...).Result()
			if err != nil {
				m.unavailable("invalidate", err, pattern)
				return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			removed += int(n)
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
	}
}

// InvalidatePatternAsync schedules InvalidatePattern on its own goroutine
// and returns immediately. The scan runs under a fresh context bounded by
// the invalidate timeout, so it outlives the request that scheduled it.
func (m *Manager) InvalidatePatternAsync(pattern string) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.config.InvalidateTimeout)
		defer cancel()

		removed, err := m.InvalidatePattern(ctx, pattern)
		if err != nil {
			m.logger.Warn("cache invalidation incomplete", "pattern", pattern, "removed", removed, "error", err)
			return
		}
		m.logger.Debug("cache invalidated", "pattern", pattern, "removed", removed)
	}()
}

// Wait blocks until every scheduled invalidation has finished.
func (m *Manager) Wait() {
	m.pending.Wait()
}

// Stats reports the key count and hit/miss totals since construction.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Hits: m.hits.Load(), Misses: m.misses.Load()}
	n, err := m.redis.DBSize(ctx).Result()
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.Keys = n
	return s, nil
}

// Counts returns hit and miss totals without touching the store.
func (m *Manager) Counts() (hits, misses uint64) {
	return m.hits.Load(), m.misses.Load()
}

func (m *Manager) unavailable(op string, err error, key string) {
	m.logger.Error("cache store unavailable, skipping",
		"severity", "critical", "op", op, "key", key, "error", err)
	if m.onUnavailable != nil {
		m.onUnavailable(op, err)
	}
}

// Key builds a manual cache key of the form
// "{prefix}:{k1}:{json(v1)}:{k2}:{json(v2)}" with kwargs sorted by name.
func Key(prefix string, kwargs map[string]any) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, k := range sortedKeys(kwargs) {
		b.WriteByte(':')
		b.WriteString(k)
		b.WriteByte(':')
		raw, err := CanonicalJSON(kwargs[k])
		if err != nil {
			fmt.Fprint(&b, kwargs[k])
			continue
		}
		b.Write(raw)
	}
	return b.String()
}

// Request is the subset of an inbound request that identifies a cacheable
// response.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Fingerprint returns "{name}:{sha256hex}" for the canonical JSON of req.
// name is conventionally "{module}.{function}".
func Fingerprint(name string, req Request) (string, error) {
	query := make(map[string][]string, len(req.Query))
	for k, v := range req.Query {
		query[k] = v
	}

	raw, err := CanonicalJSON(map[string]any{
		"method": strings.ToUpper(req.Method),
		"path":   req.Path,
		"query":  query,
		"body":   req.Body,
	})
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(raw)
	return name + ":" + hex.EncodeToString(sum[:]), nil
}
