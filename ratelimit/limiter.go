package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GlobalKey is the default key when no wallet or IP key applies.
const GlobalKey = "global"

// LimitError reports a rejected request and how long until the window resets.
type LimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q, retry after %s", e.Key, e.RetryAfter)
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter implements fixed-window rate limiting per string key. Fixed windows
// are trivially auditable; the up-to-2x burst across a window boundary is an
// accepted property of the algorithm.
type Limiter struct {
	mu          sync.Mutex
	windows     map[string]*window
	maxRequests int
	windowLen   time.Duration

	allowed    prometheus.Counter
	rejected   prometheus.Counter
	activeKeys prometheus.Gauge
}

// NewLimiter builds a limiter allowing maxRequests per windowLen per key.
func NewLimiter(maxRequests int, windowLen time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 60
	}
	if windowLen <= 0 {
		windowLen = time.Minute
	}
	return &Limiter{
		windows:     make(map[string]*window),
		maxRequests: maxRequests,
		windowLen:   windowLen,
		allowed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerwork_ratelimit_allowed_total",
			Help: "Requests admitted by the rate limiter.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerwork_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter.",
		}),
		activeKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerwork_ratelimit_active_keys",
			Help: "Distinct keys with a live rate-limit window.",
		}),
	}
}

// Register attaches the limiter's metrics to a Prometheus registry.
func (l *Limiter) Register(reg prometheus.Registerer) {
	reg.MustRegister(l.allowed, l.rejected, l.activeKeys)
}

// Check admits or rejects one request for key. On rejection the returned
// *LimitError carries the time until the window resets.
func (l *Limiter) Check(key string) error {
	if key == "" {
		key = GlobalKey
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.windowLen)}
		l.activeKeys.Set(float64(len(l.windows)))
		l.allowed.Inc()
		return nil
	}
	if w.count >= l.maxRequests {
		l.rejected.Inc()
		return &LimitError{Key: key, RetryAfter: time.Until(w.resetAt)}
	}
	w.count++
	l.allowed.Inc()
	return nil
}

// WaitForSlot blocks until a slot is available for key or ctx is done. For
// background callers only; interactive request paths must use Check and fail
// fast instead of holding a caller.
func (l *Limiter) WaitForSlot(ctx context.Context, key string) error {
	for {
		err := l.Check(key)
		if err == nil {
			return nil
		}
		le, ok := err.(*LimitError)
		if !ok {
			return err
		}
		timer := time.NewTimer(le.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Status reports remaining quota and the reset time for key, for status
// endpoints. A key with no live window has full quota.
func (l *Limiter) Status(key string) (remaining int, resetAt time.Time) {
	if key == "" {
		key = GlobalKey
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	w, ok := l.windows[key]
	if !ok || now.After(w.resetAt) {
		return l.maxRequests, now
	}
	remaining = l.maxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, w.resetAt
}

// Sweep drops windows that have already elapsed, bounding memory to the
// number of distinct active keys.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
		}
	}
	l.activeKeys.Set(float64(len(l.windows)))
}

// StartSweeper runs Sweep on a ticker until ctx is done.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Sweep()
			}
		}
	}()
}
