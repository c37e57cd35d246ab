package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, options Options) (*Client, *[]time.Duration) {
	t.Helper()

	client := NewClient(slog.Default(), options)
	client.options.JitterMax = 0 // deterministic backoff in tests

	sleeps := &[]time.Duration{}
	client.sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)

		return nil
	}

	return client, sleeps
}

func TestClient_Do_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client, sleeps := newTestClient(t, Options{})

	resp, err := client.Get(t.Context(), server.URL, nil)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *sleeps)
}

func TestClient_Do_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"gen1"}`))
	}))
	defer server.Close()

	client, sleeps := newTestClient(t, Options{BaseDelay: time.Second, JitterMax: 0})

	resp, err := client.Get(t.Context(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())

	// Exponential backoff without jitter: 1s then 2s, 3s cumulative.
	require.Len(t, *sleeps, 2)
	assert.Equal(t, time.Second, (*sleeps)[0])
	assert.Equal(t, 2*time.Second, (*sleeps)[1])
}

func TestClient_Do_BoundedAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`upstream exploded`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, Options{MaxAttempts: 3, JitterMax: 0})

	// The final transient response is returned as-is, not as an error.
	resp, err := client.Get(t.Context(), server.URL, nil)
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "upstream exploded", string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Do_NonTransientReturnedAsIs(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, sleeps := newTestClient(t, Options{})

	resp, err := client.Get(t.Context(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *sleeps)
}

func TestClient_Do_TransportErrorsRetried(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client, sleeps := newTestClient(t, Options{MaxAttempts: 3, JitterMax: 0})

	_, err := client.Get(t.Context(), server.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Len(t, *sleeps, 2)
}

func TestClient_Post_ReplaysBody(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)

		if string(body) != `{"transcript":"hello"}` {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client, _ := newTestClient(t, Options{JitterMax: 0})

	resp, err := client.Post(t.Context(), server.URL, nil, map[string]any{"transcript": "hello"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_BackoffJitterBounds(t *testing.T) {
	t.Parallel()

	client := NewClient(slog.Default(), Options{BaseDelay: time.Second, JitterMax: 500 * time.Millisecond})

	for range 50 {
		delay := client.backoffDelay(1)
		assert.GreaterOrEqual(t, delay, 2*time.Second)
		assert.Less(t, delay, 2*time.Second+500*time.Millisecond)
	}
}
