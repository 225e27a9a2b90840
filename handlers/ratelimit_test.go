package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kova98/changealert.api/ratelimit"
)

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, errors.New("redis unavailable")
}

func okHandler(w http.ResponseWriter, r *http.Request) Result {
	return Ok(nil)
}

func TestRateLimiter_RejectsOverBudget(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wrapped := NewRateLimiter(logger, ratelimit.NewMemory(0.001, 2), false).Wrap(okHandler)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/alerts/matches", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		codes = append(codes, wrapped(httptest.NewRecorder(), req).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodGet, "/alerts/matches", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	assert.Equal(t, http.StatusOK, wrapped(httptest.NewRecorder(), other).Code)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wrapped := NewRateLimiter(logger, failingLimiter{}, false).Wrap(okHandler)

	res := wrapped(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, res.Code)
}

func TestRateLimiter_IgnoresSpoofedHeadersOnAnonymousRequests(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wrapped := NewRateLimiter(logger, ratelimit.NewMemory(0.001, 1), false).Wrap(okHandler)

	allowed := 0
	for i := range 50 {
		req := httptest.NewRequest(http.MethodGet, "/unsubscribe", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		req.Header.Set("x-api-key", fmt.Sprintf("made-up-%d", i))
		if wrapped(httptest.NewRecorder(), req).Code == http.StatusOK {
			allowed++
		}
	}

	assert.Equal(t, 1, allowed)
}

func TestRateLimiter_TrustedProxyUsesLastHop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wrapped := NewRateLimiter(logger, ratelimit.NewMemory(0.001, 1), true).Wrap(okHandler)

	codes := make([]int, 0, 3)
	for _, fwd := range []string{"1.1.1.1, 203.0.113.5", "2.2.2.2, 203.0.113.5", "3.3.3.3, 203.0.113.6"} {
		req := httptest.NewRequest(http.MethodGet, "/unsubscribe", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req.Header.Set("X-Forwarded-For", fwd)
		codes = append(codes, wrapped(httptest.NewRecorder(), req).Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusOK}, codes)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "ip:192.0.2.1", clientKey(req, false))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("x-api-key", "secret")
	assert.Equal(t, "ip:192.0.2.1", clientKey(req, false))
	assert.Equal(t, "ip:10.0.0.1", clientKey(req, true))

	req.Header.Set("X-Forwarded-For", " ")
	assert.Equal(t, "ip:192.0.2.1", clientKey(req, true))
}

func TestClientKey_AuthenticatedPrincipal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	alice := req.WithContext(WithPrincipal(req.Context(), Principal{Subject: "alice", Method: AuthKeycloak}))
	bob := req.WithContext(WithPrincipal(req.Context(), Principal{Subject: "bob", Method: AuthKeycloak}))

	key := clientKey(alice, false)
	assert.True(t, strings.HasPrefix(key, "principal:"))
	assert.NotContains(t, key, "alice")
	assert.Len(t, key, len("principal:")+16)
	assert.NotEqual(t, key, clientKey(bob, false))
	assert.Equal(t, key, clientKey(alice, true))
}
