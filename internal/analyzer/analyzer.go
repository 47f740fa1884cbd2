// Package analyzer wraps the language model that comments on triggered events.
package analyzer

import "context"

// Noop returns an empty analysis, which the dispatcher drops. Used when no
// model is configured.
type Noop struct{}

func (Noop) Analyze(context.Context, string, string) (string, error) { return "", nil }
