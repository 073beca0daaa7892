package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/devbridge/internal/domain"
)

// Rate-limit categories.
const (
	CategoryActions   = "actionsPerMinute"
	CategoryCommands  = "commandsPerMinute"
	CategoryFileEdits = "fileEditsPerMinute"
	CategoryPreviews  = "previewsPerMinute"
	CategorySession   = "actionsPerSession"
)

const (
	rateWindow        = time.Minute
	rateSweepInterval = time.Minute
)

var defaultRateLimits = map[string]int{
	CategoryActions:   10,
	CategoryCommands:  5,
	CategoryFileEdits: 20,
	CategoryPreviews:  3,
	CategorySession:   50,
}

type rateCounter struct {
	count     int
	resetTime time.Time
}

// Limiter enforces per-(category, identifier) fixed-window counters.
// One mutex guards all counters; the key space is small enough that
// finer locking buys nothing.
type Limiter struct {
	mu       sync.Mutex
	limits   map[string]int
	counters map[string]*rateCounter
	window   time.Duration

	now func() time.Time // overridable in tests
}

// NewLimiter creates a limiter with the default per-category limits,
// overridden by any entries in overrides.
func NewLimiter(overrides map[string]int) *Limiter {
	limits := make(map[string]int, len(defaultRateLimits))
	for k, v := range defaultRateLimits {
		limits[k] = v
	}
	for k, v := range overrides {
		limits[k] = v
	}
	return &Limiter{
		limits:   limits,
		counters: make(map[string]*rateCounter),
		window:   rateWindow,
		now:      time.Now,
	}
}

func rateKey(category, identifier string) string {
	return category + ":" + identifier
}

// Check consumes one attempt for (category, identifier). It returns a
// *domain.RateLimitError carrying the remaining wait when the window is
// exhausted. Categories without a configured limit are unlimited.
func (l *Limiter) Check(category, identifier string) error {
	limit, ok := l.limits[category]
	if !ok || limit <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := rateKey(category, identifier)

	counter, ok := l.counters[key]
	if !ok {
		counter = &rateCounter{resetTime: now.Add(l.window)}
		l.counters[key] = counter
	}

	if !now.Before(counter.resetTime) {
		counter.count = 0
		counter.resetTime = now.Add(l.window)
	}

	if counter.count >= limit {
		return &domain.RateLimitError{
			Category: category,
			Wait:     counter.resetTime.Sub(now),
		}
	}

	counter.count++
	return nil
}

// Remaining returns how many attempts are left in the current window.
// Unlimited categories report -1.
func (l *Limiter) Remaining(category, identifier string) int {
	limit, ok := l.limits[category]
	if !ok || limit <= 0 {
		return -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	counter, ok := l.counters[rateKey(category, identifier)]
	if !ok || !l.now().Before(counter.resetTime) {
		return limit
	}
	if remaining := limit - counter.count; remaining > 0 {
		return remaining
	}
	return 0
}

// WaitTime returns how long until the current window resets, or zero if
// no window is active.
func (l *Limiter) WaitTime(category, identifier string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	counter, ok := l.counters[rateKey(category, identifier)]
	if !ok {
		return 0
	}
	if wait := counter.resetTime.Sub(l.now()); wait > 0 {
		return wait
	}
	return 0
}

// Reset clears counters: a specific key when both arguments are set,
// every counter in a category when only category is set, and everything
// when both are empty.
func (l *Limiter) Reset(category, identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case category != "" && identifier != "":
		delete(l.counters, rateKey(category, identifier))
	case category != "":
		prefix := category + ":"
		for key := range l.counters {
			if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
				delete(l.counters, key)
			}
		}
	default:
		l.counters = make(map[string]*rateCounter)
	}
}

// ResetIdentifier clears every category's counter for one identifier.
func (l *Limiter) ResetIdentifier(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	suffix := ":" + identifier
	for key := range l.counters {
		if len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix {
			delete(l.counters, key)
		}
	}
}

// StartSweeper runs a background goroutine that periodically drops
// counters whose window has elapsed, bounding memory growth from
// abandoned identifiers.
func (l *Limiter) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(rateSweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-ctx.Done():
				slog.Debug("Rate limiter sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, counter := range l.counters {
		if !now.Before(counter.resetTime) {
			delete(l.counters, key)
		}
	}
}
