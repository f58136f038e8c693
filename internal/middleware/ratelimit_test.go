package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

func hit(h http.Handler, remote string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/geoip/1.1.1.1", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestLimiter_PerClientBurst(t *testing.T) {
	l := NewLimiter(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	h := l.Wrap(ok)

	assert.Equal(t, http.StatusNoContent, hit(h, "10.0.0.1:1000"))
	assert.Equal(t, http.StatusNoContent, hit(h, "10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1002"))
	assert.Equal(t, http.StatusNoContent, hit(h, "10.0.0.2:1000"), "other clients have their own bucket")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, hit(h, "10.0.0.1:1003"))
}

func TestLimiter_Disabled(t *testing.T) {
	h := NewLimiter(0, 0).Wrap(ok)
	for i := 0; i < 100; i++ {
		require.Equal(t, http.StatusNoContent, hit(h, "10.0.0.1:1000"))
	}
}

func TestLimiter_EvictsIdleClients(t *testing.T) {
	l := NewLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.allow("a")
	now = now.Add(2 * idleTTL)
	l.allow("b")
	assert.Len(t, l.clients, 1)
}

func TestAllowCIDRs(t *testing.T) {
	h, err := AllowCIDRs([]string{"10.0.0.0/8", "2001:db8::/32"}, ok)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, hit(h, "10.1.2.3:5555"))
	assert.Equal(t, http.StatusNoContent, hit(h, "[2001:db8::1]:5555"))
	assert.Equal(t, http.StatusForbidden, hit(h, "192.168.1.1:5555"))

	_, err = AllowCIDRs([]string{"bogus"}, ok)
	assert.Error(t, err)

	open, err := AllowCIDRs(nil, ok)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, hit(open, "192.168.1.1:5555"))
}
