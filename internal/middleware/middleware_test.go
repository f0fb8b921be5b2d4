package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storchat/api/internal/logging"
	"github.com/storchat/api/internal/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_Handler(t *testing.T) {
	rl := NewRateLimiter(1, 2, logging.NewDiscard())
	handler := rl.Handler(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "other clients have their own bucket")
}

func TestRateLimiter_RejectionBody(t *testing.T) {
	rl := NewRateLimiter(1, 1, logging.NewDiscard())
	handler := rl.Handler(okHandler())

	var rec *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, logging.NewDiscard())
	_, _ = rl.Allow(context.Background(), "a")
	rl.limiters["a"].lastSeen = time.Now().Add(-time.Hour)
	_, _ = rl.Allow(context.Background(), "b")

	rl.Cleanup(time.Minute)
	assert.NotContains(t, rl.limiters, "a")
	assert.Contains(t, rl.limiters, "b")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "192.0.2.1", clientIP(req))
}

func TestRateLimiter_IgnoresForwardedFor(t *testing.T) {
	rl := NewRateLimiter(1, 1, logging.NewDiscard())
	handler := rl.Handler(okHandler())

	admitted := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
		req.RemoteAddr = "198.51.100.9:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted)
}

func TestRateLimit_KeysOnUserID(t *testing.T) {
	rl := NewRateLimiter(1, 1, logging.NewDiscard())
	handler := rl.Handler(okHandler())

	for _, user := range []string{"u1", "u2"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(logging.WithUserID(req.Context(), user))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, user)
	}
}

func TestRedisRateLimiter(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	rl := NewRedisRateLimiterWithClient(client, 2, time.Minute)
	defer rl.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	rl := NewRedisRateLimiterWithClient(client, 1, time.Minute)
	srv.Close()

	handler := RateLimit(rl, logging.NewDiscard())(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRedisRateLimiter_BadURL(t *testing.T) {
	_, err := NewRedisRateLimiter("not-a-url", 1, time.Second)
	assert.Error(t, err)
}

func TestSharedSecretMiddleware(t *testing.T) {
	handler := SharedSecretMiddleware(MaestroSecretHeader, "s3cret", logging.NewDiscard())(okHandler())

	tests := []struct {
		name   string
		value  string
		status int
	}{
		{"match", "s3cret", http.StatusOK},
		{"mismatch", "nope", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/maestro-helper/get-otp", nil)
			if tt.value != "" {
				req.Header.Set(MaestroSecretHeader, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestSharedSecretMiddleware_EmptySecretRejects(t *testing.T) {
	handler := SharedSecretMiddleware(MaestroSecretHeader, "", logging.NewDiscard())(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(MaestroSecretHeader, "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	cors := NewCORSMiddleware([]string{"http://localhost:8081"})
	handler := cors.Handler(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/push-token", nil)
	req.Header.Set("Origin", "http://localhost:8081")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:8081", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	req = httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set("Origin", "http://evil-localhost:8081")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_Normalization(t *testing.T) {
	cors := NewCORSMiddleware([]string{" https://App.Stor.Chat/ ", ""})
	assert.True(t, cors.Allowed("https://app.stor.chat"))
	assert.False(t, cors.Allowed("https://app.stor.chat.evil.com"))
	assert.False(t, cors.Allowed(""))

	assert.True(t, NewCORSMiddleware([]string{"*"}).Allowed("https://anything.example"))
}

func TestTracingMiddleware(t *testing.T) {
	var seen string
	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetTraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceIDHeader, "trace-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "trace-1", seen)
	assert.Equal(t, "trace-1", rec.Header().Get(TraceIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "trace-1", seen)
	assert.Equal(t, seen, rec.Header().Get(TraceIDHeader))
}

func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := metrics.New("mwtest")
	router := mux.NewRouter()
	router.Use(MetricsMiddleware("api", m), LoggingMiddleware(logging.NewDiscard()))
	router.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods(http.MethodGet)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages?chat_id=1", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	count, err := testutil.GatherAndCount(m.Registry(), "mwtest_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), `path="/api/messages"`))
}
