// SPDX-License-Identifier: MIT

package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, retry RetryConfig) *Client {
	t.Helper()
	c := NewClient(Config{Timeout: 5 * time.Second, Retry: retry})
	t.Cleanup(c.CloseIdleConnections)
	return c
}

func TestRetryOn503ThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient(t, RetryConfig{
		MaxAttempts: 3,
		MinWait:     100 * time.Millisecond,
		MaxWait:     time.Second,
		Multiplier:  2.0,
		Statuses:    []int{http.StatusServiceUnavailable},
	})

	start := time.Now()
	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))
	require.EqualValues(t, 3, calls.Load())
	// Two backoffs: 100ms + 200ms.
	require.GreaterOrEqual(t, time.Since(start), 290*time.Millisecond)
}

func TestRetryExhaustion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, RetryConfig{
		MaxAttempts: 2,
		MinWait:     10 * time.Millisecond,
		Statuses:    []int{http.StatusServiceUnavailable},
	})

	_, err := c.Get(context.Background(), srv.URL, nil)
	require.ErrorIs(t, err, ErrRetryExhausted)
	require.EqualValues(t, 2, calls.Load())

	var rerr *RetryError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, http.StatusServiceUnavailable, rerr.Status)
	require.Equal(t, 2, rerr.Attempts)
}

func TestNonRetryableStatusReturnsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, RetryConfig{MaxAttempts: 3, MinWait: 10 * time.Millisecond})

	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNetworkErrorAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := testClient(t, RetryConfig{MaxAttempts: 2, MinWait: 10 * time.Millisecond})

	_, err := c.Get(context.Background(), srv.URL, nil)
	require.ErrorIs(t, err, ErrNetwork)
}

func TestRequestBodyReplayedAcrossAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := testClient(t, RetryConfig{
		MaxAttempts: 3,
		MinWait:     10 * time.Millisecond,
		Statuses:    []int{http.StatusServiceUnavailable},
	})

	resp, err := c.Post(context.Background(), srv.URL, nil, []byte("payload"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestGateBoundsConcurrency(t *testing.T) {
	g := NewGate(2)
	ctx := context.Background()

	require.NoError(t, g.Acquire(ctx))
	require.NoError(t, g.Acquire(ctx))

	blocked, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	require.Error(t, g.Acquire(blocked))

	g.Release()
	require.NoError(t, g.Acquire(ctx))
	g.Release()
	g.Release()
}
