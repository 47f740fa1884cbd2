// Package httpclient builds the outbound HTTP clients shared by the scrapers
// and price providers.
package httpclient

import (
	"net/http"
	"net/url"
	"time"

	"github.com/phuslu/log"
)

// DefaultTimeout applies when a caller passes a non-positive timeout.
const DefaultTimeout = 30 * time.Second

// New returns a client with the given timeout, routed through proxyURL when
// it is set. An unusable proxy is logged and the client connects directly.
func New(timeout time.Duration, proxyURL string) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("proxy", proxyURL).Msg("invalid proxy url, connecting directly")
		case u.Scheme == "" || u.Host == "":
			log.Warn().Str("proxy", proxyURL).Msg("proxy url needs scheme and host, connecting directly")
		default:
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
