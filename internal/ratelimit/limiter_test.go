// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresWindow(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{PerSecond: -1})
	require.Error(t, err)

	l, err := New(Config{PerMinute: 30})
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestAcquirePacesCallers(t *testing.T) {
	// 10 tokens/sec, burst 1: three concurrent acquires complete roughly
	// 100ms apart, in monotone order, none failing.
	l, err := New(Config{PerSecond: 10, Burst: 1})
	require.NoError(t, err)

	start := time.Now()
	var mu sync.Mutex
	var elapsed []time.Duration

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background()))
			mu.Lock()
			elapsed = append(elapsed, time.Since(start))
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(elapsed, func(i, j int) bool { return elapsed[i] < elapsed[j] })
	require.Len(t, elapsed, 3)
	require.Less(t, elapsed[0], 90*time.Millisecond)
	require.GreaterOrEqual(t, elapsed[1], 90*time.Millisecond)
	require.GreaterOrEqual(t, elapsed[2], 190*time.Millisecond)
}

func TestAcquireCancelReturnsToken(t *testing.T) {
	l, err := New(Config{PerSecond: 1, Burst: 1})
	require.NoError(t, err)

	// Drain the bucket.
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = l.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The cancelled wait must not have consumed the next token: a fresh
	// acquire completes within roughly one refill interval, not two.
	start := time.Now()
	require.NoError(t, l.Acquire(context.Background()))
	require.Less(t, time.Since(start), 1500*time.Millisecond)
}

func TestAcquireMultiWindowAnd(t *testing.T) {
	// per-second window is generous, per-minute window is the brake.
	l, err := New(Config{PerSecond: 100, PerMinute: 60, Burst: 1})
	require.NoError(t, err)

	require.NoError(t, l.Acquire(context.Background()))

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background()))
	// 60/min refills one token per second.
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}
