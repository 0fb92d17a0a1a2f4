package ratelimit

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tadamon-org/backend/internal/config"
)

const (
	evictTarget        = 0.8
	violationCap       = 10
	violationFloor     = 5
	defaultSweepPeriod = 5 * time.Minute
)

var ErrMisconfigured = fmt.Errorf("rate limit config invalid")

type entry struct {
	count int
	reset time.Time
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter is a fixed-window counter per identifier with exponential penalty
// escalation across repeated breached windows. The cache is bounded: inserts
// past capacity first drop expired entries, then the oldest windows until the
// cache is back at 80% of capacity.
type Limiter struct {
	mu         sync.Mutex
	entries    map[string]entry
	violations map[string]int
	window     time.Duration
	max        int
	capacity   int
	clock      clockwork.Clock
}

func New(cfg config.RateLimitConfig, clock clockwork.Clock) (*Limiter, error) {
	window, err := time.ParseDuration(cfg.Window)
	if err != nil || window <= 0 {
		return nil, fmt.Errorf("%w: invalid LOGIN_RATE_WINDOW", ErrMisconfigured)
	}

	max, err := strconv.Atoi(cfg.MaxAttempts)
	if err != nil || max <= 0 {
		return nil, fmt.Errorf("%w: invalid LOGIN_RATE_MAX", ErrMisconfigured)
	}

	capacity, err := strconv.Atoi(cfg.MaxEntries)
	if err != nil || capacity <= 0 {
		return nil, fmt.Errorf("%w: invalid LOGIN_RATE_CACHE_SIZE", ErrMisconfigured)
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Limiter{
		entries:    make(map[string]entry),
		violations: make(map[string]int),
		window:     window,
		max:        max,
		capacity:   capacity,
		clock:      clock,
	}, nil
}

// Check performs the check-and-increment atomically under the lock.
func (l *Limiter) Check(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	e, ok := l.entries[key]

	if !ok || !now.Before(e.reset) {
		if len(l.entries) >= l.capacity {
			l.evictLocked(now)
		}
		l.entries[key] = entry{count: 1, reset: now.Add(l.window)}
		delete(l.violations, key)
		return Decision{Allowed: true}
	}

	if e.count < l.max {
		e.count++
		l.entries[key] = e
		return Decision{Allowed: true}
	}

	violations := l.violations[key]
	shift := violations
	if shift > violationCap {
		shift = violationCap
	}
	seconds := int(math.Ceil(e.reset.Sub(now).Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	penalty := time.Duration(seconds<<shift) * time.Second

	l.violations[key] = violations + 1
	return Decision{Allowed: false, RetryAfter: penalty}
}

// evictLocked: phase one drops every expired window, phase two drops the
// oldest windows until the cache is at or below 80% of capacity.
func (l *Limiter) evictLocked(now time.Time) {
	for key, e := range l.entries {
		if !now.Before(e.reset) {
			delete(l.entries, key)
			delete(l.violations, key)
		}
	}

	target := int(float64(l.capacity) * evictTarget)
	for len(l.entries) > target {
		oldestKey := ""
		var oldest time.Time
		for key, e := range l.entries {
			if oldestKey == "" || e.reset.Before(oldest) {
				oldestKey = key
				oldest = e.reset
			}
		}
		delete(l.entries, oldestKey)
		delete(l.violations, oldestKey)
	}
}

// StartSweep runs the periodic cleanup until ctx is done: expired windows are
// removed and runaway violation counters are pulled back to a floor.
func (l *Limiter) StartSweep(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = defaultSweepPeriod
	}
	ticker := l.clock.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				removed := l.sweep()
				if removed > 0 {
					log.Printf("[RateLimit] Sweep removed %d expired entries", removed)
				}
			}
		}
	}()
}

func (l *Limiter) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for key, e := range l.entries {
		if !now.Before(e.reset) {
			delete(l.entries, key)
			removed++
		}
	}
	for key, v := range l.violations {
		if _, live := l.entries[key]; !live {
			delete(l.violations, key)
			continue
		}
		if v > violationCap {
			l.violations[key] = violationFloor
		}
	}
	return removed
}

// Len reports the current number of tracked identifiers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
