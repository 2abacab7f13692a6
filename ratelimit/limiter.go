package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultSweepInterval = time.Hour
	defaultIdleAfter     = time.Hour
)

// Result describes the outcome of a Check call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is an in-process sliding-window rate limiter keyed by caller
// identifier. One exclusive lock guards the whole window map.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	now           func() time.Time
	logger        *slog.Logger
	sweepInterval time.Duration
	idleAfter     time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	started  bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the structured logger used by the sweep.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithSweep sets how often idle windows are removed and how long a window
// must be idle before removal.
func WithSweep(interval, idleAfter time.Duration) Option {
	return func(l *Limiter) {
		if interval > 0 {
			l.sweepInterval = interval
		}
		if idleAfter > 0 {
			l.idleAfter = idleAfter
		}
	}
}

// New creates a limiter. Call Start to run the periodic sweep.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		windows:       make(map[string][]time.Time),
		now:           time.Now,
		logger:        slog.Default(),
		sweepInterval: defaultSweepInterval,
		idleAfter:     defaultIdleAfter,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records a request for identifier and reports whether it fits in
// maxRequests per trailing window. An unknown identifier has zero prior
// requests.
func (l *Limiter) Allow(identifier string, maxRequests int, window time.Duration) bool {
	return l.Check(identifier, maxRequests, window).Allowed
}

// Check is Allow with the remaining budget and retry hint.
func (l *Limiter) Check(identifier string, maxRequests int, window time.Duration) Result {
	now := l.now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := prune(l.windows[identifier], cutoff)

	if len(stamps) < maxRequests {
		stamps = append(stamps, now)
		l.windows[identifier] = stamps
		return Result{
			Allowed:   true,
			Limit:     maxRequests,
			Remaining: maxRequests - len(stamps),
		}
	}

	if len(stamps) == 0 {
		delete(l.windows, identifier)
	} else {
		l.windows[identifier] = stamps
	}

	var retry time.Duration
	if len(stamps) > 0 {
		retry = stamps[0].Add(window).Sub(now)
		if retry < 0 {
			retry = 0
		}
	}
	return Result{Allowed: false, Limit: maxRequests, RetryAfter: retry}
}

// prune drops timestamps older than cutoff. Timestamps are appended in
// order, so the live ones form a suffix.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	live := make([]time.Time, len(stamps)-i, cap(stamps)-i)
	copy(live, stamps[i:])
	return live
}

// Reset forgets every request recorded for identifier.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	delete(l.windows, identifier)
	l.mu.Unlock()
}

// Len returns the number of tracked identifiers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Sweep removes identifiers whose newest request is older than the idle
// threshold and returns how many were removed.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.idleAfter)

	l.mu.Lock()
	removed := 0
	for id, stamps := range l.windows {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.windows, id)
			removed++
		}
	}
	remaining := len(l.windows)
	l.mu.Unlock()

	if removed > 0 {
		l.logger.Debug("rate limiter sweep completed",
			"removed", removed,
			"remaining", remaining)
	}
	return removed
}

// Start launches the periodic sweep goroutine. It is a no-op when already
// started.
func (l *Limiter) Start() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	go l.sweepLoop()
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stop:
			return
		}
	}
}

// Stop ends the sweep goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
