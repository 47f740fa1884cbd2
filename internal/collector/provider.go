package collector

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnavailable wraps any transport or upstream failure of a Provider.
	ErrProviderUnavailable = errors.New("price provider unavailable")
	// ErrMalformedFrame means the provider answered with a shape Normalize cannot read.
	ErrMalformedFrame = errors.New("malformed price frame")
)

// Provider downloads end-of-day data for a set of tickers.
type Provider interface {
	Download(ctx context.Context, tickers []string, r RangeSpec) (Frame, error)
	Name() string
}
