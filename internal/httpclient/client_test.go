package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proxyFor(t *testing.T, c *http.Client) string {
	t.Helper()
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	if tr.Proxy == nil {
		return ""
	}
	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)
	u, err := tr.Proxy(req)
	require.NoError(t, err)
	if u == nil {
		return ""
	}
	return u.String()
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		timeout   time.Duration
		proxy     string
		wantProxy string
		wantTO    time.Duration
	}{
		{"no proxy", 5 * time.Second, "", "", 5 * time.Second},
		{"valid proxy", 5 * time.Second, "http://proxy.local:3128", "http://proxy.local:3128", 5 * time.Second},
		{"unparseable proxy", 5 * time.Second, "http://[::1", "", 5 * time.Second},
		{"proxy without scheme", 5 * time.Second, "proxy.local:3128", "", 5 * time.Second},
		{"default timeout", 0, "", "", DefaultTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.timeout, tt.proxy)
			assert.Equal(t, tt.wantTO, c.Timeout)
			assert.Equal(t, tt.wantProxy, proxyFor(t, c))
		})
	}
}
