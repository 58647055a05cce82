package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_WindowRollover(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)
	base := time.Now()
	rl.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("ip:1.2.3.4"), "request %d", i)
	}
	assert.False(t, rl.allow("ip:1.2.3.4"), "cap hit")
	assert.True(t, rl.allow("ip:5.6.7.8"), "independent key")

	// A fresh window resets the count.
	rl.now = func() time.Time { return base.Add(time.Minute) }
	assert.True(t, rl.allow("ip:1.2.3.4"))
}

func TestClientKey_AlwaysRemoteAddr(t *testing.T) {
	// The limiter runs ahead of authentication, so the key is the remote
	// address for every caller, token or no token.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "ip:10.1.2.3", clientKey(req))

	req.RemoteAddr = "not-a-hostport"
	assert.Equal(t, "ip:not-a-hostport", clientKey(req))
}
