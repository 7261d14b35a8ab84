// SPDX-License-Identifier: MIT

// Package ratelimit provides blocking token-bucket admission for outbound
// requests against third-party metadata services.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var acquireWaits = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fuzzbin",
		Name:      "ratelimit_acquire_total",
		Help:      "Total rate limiter acquisitions",
	},
	[]string{"outcome"},
)

// Config holds the admission windows. At least one window must be set.
// Windows compose as a logical AND: Acquire waits until every configured
// window has a token available.
type Config struct {
	PerSecond int // requests per second (0 = unlimited)
	PerMinute int // requests per minute (0 = unlimited)
	PerHour   int // requests per hour (0 = unlimited)
	Burst     int // max burst; defaults to the tightest window's per-second rate, min 1
}

// Limiter admits callers in arrival order across all configured windows.
type Limiter struct {
	mu      sync.Mutex
	buckets []*rate.Limiter
}

// New creates a limiter from config. It returns an error when no window is
// configured or a window is negative.
func New(cfg Config) (*Limiter, error) {
	if cfg.PerSecond < 0 || cfg.PerMinute < 0 || cfg.PerHour < 0 || cfg.Burst < 0 {
		return nil, fmt.Errorf("ratelimit: negative window in config %+v", cfg)
	}
	if cfg.PerSecond == 0 && cfg.PerMinute == 0 && cfg.PerHour == 0 {
		return nil, fmt.Errorf("ratelimit: at least one window must be configured")
	}

	limits := make([]rate.Limit, 0, 3)
	if cfg.PerSecond > 0 {
		limits = append(limits, rate.Limit(cfg.PerSecond))
	}
	if cfg.PerMinute > 0 {
		limits = append(limits, rate.Limit(float64(cfg.PerMinute)/60.0))
	}
	if cfg.PerHour > 0 {
		limits = append(limits, rate.Limit(float64(cfg.PerHour)/3600.0))
	}

	burst := cfg.Burst
	if burst == 0 {
		tightest := limits[0]
		for _, l := range limits[1:] {
			if l < tightest {
				tightest = l
			}
		}
		burst = int(tightest)
		if burst < 1 {
			burst = 1
		}
	}

	l := &Limiter{}
	for _, lim := range limits {
		l.buckets = append(l.buckets, rate.NewLimiter(lim, burst))
	}
	return l, nil
}

// Acquire blocks until one token is available in every configured window or
// ctx is done. A cancelled wait consumes no tokens.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		acquireWaits.WithLabelValues("cancelled").Inc()
		return err
	}

	// Reserve under the mutex so concurrent callers are served in arrival
	// order: each reservation claims the next available slot per bucket.
	l.mu.Lock()
	now := time.Now()
	reservations := make([]*rate.Reservation, 0, len(l.buckets))
	var delay time.Duration
	for _, b := range l.buckets {
		r := b.ReserveN(now, 1)
		reservations = append(reservations, r)
		if d := r.DelayFrom(now); d > delay {
			delay = d
		}
	}
	l.mu.Unlock()

	if delay == 0 {
		acquireWaits.WithLabelValues("immediate").Inc()
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		acquireWaits.WithLabelValues("waited").Inc()
		return nil
	case <-ctx.Done():
		for _, r := range reservations {
			r.Cancel()
		}
		acquireWaits.WithLabelValues("cancelled").Inc()
		return ctx.Err()
	}
}
