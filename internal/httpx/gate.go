// SPDX-License-Identifier: MIT

// Package httpx provides the shared outbound HTTP substrate: a bounded
// concurrency gate and a retrying transport with exponential backoff.
package httpx

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of in-flight requests. A cancelled Acquire consumes
// no capacity.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate creates a gate admitting at most max concurrent holders.
func NewGate(max int) *Gate {
	if max < 1 {
		max = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(max))}
}

// Acquire blocks until capacity is available or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release frees one unit of capacity and wakes one waiter.
func (g *Gate) Release() {
	g.sem.Release(1)
}
