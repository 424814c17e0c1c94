package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowPerClient(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 2})
	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	require.True(t, l.Allow("b"))
	require.Equal(t, 2, l.Clients())
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("a"))
	}
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 1})
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/v1/books", nil))
	require.Equal(t, http.StatusNoContent, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/v1/books", nil))
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.JSONEq(t, `{"error":"rate limit exceeded"}`, second.Body.String())
}

func TestClientKey(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	require.Equal(t, "ip:10.0.0.7", ClientKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "ip:203.0.113.9", ClientKey(r))

	r.Header.Set("X-API-Key", "secret")
	require.Equal(t, "key:secret", ClientKey(r))
}
