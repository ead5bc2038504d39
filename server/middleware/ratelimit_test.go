package middleware_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/colloquy/config"
	"github.com/teilomillet/colloquy/errors"
	"github.com/teilomillet/colloquy/server/metrics"
	"github.com/teilomillet/colloquy/server/middleware"
)

func TestRateLimitMetrics(t *testing.T) {
	m := metrics.NewMetrics()
	limiter := middleware.NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             10,
	}, m)

	handler := middleware.RequestID(limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	testIP := "127.0.0.1"
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = testIP + ":1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i < 10 {
			assert.Equal(t, http.StatusOK, rec.Code, "request %d", i)
			continue
		}

		// Last request should be rate limited
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))

		var body errors.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, errors.RateLimitError, body.Type)
		assert.Equal(t, rec.Header().Get("X-Request-ID"), body.RequestID)

		assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitHits))
	}
}

func TestRateLimitIsPerClient(t *testing.T) {
	limiter := middleware.NewRateLimiter(config.RateLimitConfig{RequestsPerMinute: 1, Burst: 1}, nil)
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:2000"), "port is ignored")
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000"))

	limiter.Reset()
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000"))
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	var mu sync.Mutex
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(d)
	}

	// 60/min with burst 2 refills completely in two seconds; eviction waits a minute.
	limiter := middleware.NewRateLimiter(config.RateLimitConfig{RequestsPerMinute: 60, Burst: 2}, nil,
		middleware.WithRateLimitClock(now))
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 50; i++ {
		assert.Equal(t, http.StatusOK, do(fmt.Sprintf("10.0.1.%d:1000", i)))
	}
	assert.Equal(t, 50, limiter.Visitors())

	advance(30 * time.Second)
	assert.Equal(t, http.StatusOK, do("10.0.2.1:1000"))
	assert.Equal(t, 51, limiter.Visitors(), "nobody is idle long enough yet")

	advance(45 * time.Second)
	assert.Equal(t, http.StatusOK, do("10.0.2.2:1000"))
	assert.Equal(t, 2, limiter.Visitors(), "idle clients are dropped")

	// Burst 2: the second request passes, the third is rejected.
	assert.Equal(t, http.StatusOK, do("10.0.2.2:1000"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.2.2:1000"))
}
