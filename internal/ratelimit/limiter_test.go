package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead-router/internal/redis"
)

func newTestLimiter(t *testing.T, config *Config) *Limiter {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewLimiter(client, config)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewLimiter_Defaults(t *testing.T) {
	limiter := NewLimiter(nil, nil)

	require.NotNil(t, limiter.config)
	assert.Equal(t, 100, limiter.config.DefaultLimit)
	assert.Equal(t, time.Minute, limiter.config.DefaultWindow)
	assert.True(t, limiter.config.Enabled)
}

func TestCheckLimit_Disabled(t *testing.T) {
	limiter := NewLimiter(nil, &Config{Enabled: false})

	result, err := limiter.CheckLimit(context.Background(), "ip:203.0.113.9", 10, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Limit)
	assert.Equal(t, 10, result.Remaining, "a disabled limiter always reports a full budget")
	assert.True(t, result.ResetTime.After(time.Now()))
}

func TestCheckLimit_CountsDown(t *testing.T) {
	limiter := newTestLimiter(t, &Config{DefaultLimit: 3, DefaultWindow: time.Minute, Enabled: true})
	ctx := context.Background()

	for want := 3; want >= 1; want-- {
		result, err := limiter.CheckDefaultLimit(ctx, "user:op-1")
		require.NoError(t, err)
		assert.Equal(t, want, result.Remaining)
	}

	result, err := limiter.CheckDefaultLimit(ctx, "user:op-1")
	require.NoError(t, err)
	assert.Zero(t, result.Remaining)
}

func TestHTTPMiddleware(t *testing.T) {
	t.Run("allows within budget and sets headers", func(t *testing.T) {
		limiter := newTestLimiter(t, &Config{DefaultLimit: 2, DefaultWindow: time.Minute, Enabled: true})
		handler := limiter.HTTPMiddleware(IPBasedKey)(okHandler())

		req := httptest.NewRequest("POST", "/api/contacts", nil)
		req.RemoteAddr = "203.0.113.9:40000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("rejects when the budget is spent", func(t *testing.T) {
		limiter := newTestLimiter(t, &Config{DefaultLimit: 2, DefaultWindow: time.Minute, Enabled: true})
		handler := limiter.HTTPMiddleware(IPBasedKey)(okHandler())

		var last *httptest.ResponseRecorder
		for i := 0; i < 4; i++ {
			req := httptest.NewRequest("POST", "/api/contacts", nil)
			req.RemoteAddr = "203.0.113.9:40000"
			last = httptest.NewRecorder()
			handler.ServeHTTP(last, req)
		}

		assert.Equal(t, http.StatusTooManyRequests, last.Code)
		assert.NotEmpty(t, last.Header().Get("Retry-After"))
	})

	t.Run("budgets are per key", func(t *testing.T) {
		limiter := newTestLimiter(t, &Config{DefaultLimit: 1, DefaultWindow: time.Minute, Enabled: true})
		handler := limiter.HTTPMiddleware(IPBasedKey)(okHandler())

		for _, addr := range []string{"203.0.113.9:1", "198.51.100.7:1"} {
			req := httptest.NewRequest("POST", "/api/contacts", nil)
			req.RemoteAddr = addr
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusOK, rr.Code, "first request from %s", addr)
		}
	})

	t.Run("disabled limiter passes everything through", func(t *testing.T) {
		limiter := NewLimiter(nil, &Config{Enabled: false})
		handler := limiter.HTTPMiddleware(IPBasedKey)(okHandler())

		req := httptest.NewRequest("POST", "/api/contacts", nil)
		req.RemoteAddr = "203.0.113.9:40000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
	})

	t.Run("empty key passes through", func(t *testing.T) {
		limiter := newTestLimiter(t, &Config{DefaultLimit: 1, DefaultWindow: time.Minute, Enabled: true})
		handler := limiter.HTTPMiddleware(UserBasedKey)(okHandler())

		// Requests with no operator identity carry no budget key
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest("GET", "/health", nil)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusOK, rr.Code)
		}
	})
}

func TestKeyFunctions(t *testing.T) {
	t.Run("IPBasedKey remote addr", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/stats", nil)
		req.RemoteAddr = "203.0.113.9:40000"
		assert.Equal(t, "ip:203.0.113.9:40000", IPBasedKey(req))
	})

	t.Run("IPBasedKey prefers X-Forwarded-For", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/stats", nil)
		req.RemoteAddr = "10.0.0.1:40000"
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		assert.Equal(t, "ip:203.0.113.9", IPBasedKey(req))
	})

	t.Run("IPBasedKey falls back to X-Real-IP", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/stats", nil)
		req.RemoteAddr = "10.0.0.1:40000"
		req.Header.Set("X-Real-IP", "203.0.113.9")
		assert.Equal(t, "ip:203.0.113.9", IPBasedKey(req))
	})

	t.Run("UserBasedKey", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/stats", nil)
		req.Header.Set("X-User-ID", "op-1")
		assert.Equal(t, "user:op-1", UserBasedKey(req))
	})

	t.Run("UserBasedKey without identity", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/stats", nil)
		assert.Equal(t, "", UserBasedKey(req))
	})

	t.Run("EndpointBasedKey", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/contacts", nil)
		assert.Equal(t, "endpoint:POST:/api/contacts", EndpointBasedKey(req))
	})
}
