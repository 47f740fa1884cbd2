package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/phuslu/log"
)

const systemPrompt = `You are an equity analyst watching a small portfolio of listed shares.
You are given one event: either a company announcement or a daily close that crossed a price level the investor is watching.
Summarise what happened, whether it changes the investment case, and what the investor should look at next.
Be concise. Prices are quoted in cents.`

// ClaudeConfig configures Claude.
type ClaudeConfig struct {
	APIKey     string
	Model      string
	MaxTokens  int64
	MaxRetries int
	BaseURL    string // empty uses the public API
}

// Claude analyses events with the Anthropic Messages API.
type Claude struct {
	client     anthropic.Client
	model      string
	maxTokens  int64
	maxRetries int
}

func NewClaude(cfg ClaudeConfig) *Claude {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	// Retries are done here so backoff is visible in logs.
	opts = append(opts, option.WithMaxRetries(0))
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Claude{
		client:     anthropic.NewClient(opts...),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		maxRetries: cfg.MaxRetries,
	}
}

func (c *Claude) Analyze(ctx context.Context, ticker, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf("Instrument: %s\n\n%s", ticker, prompt))),
		},
	}

	var resp *anthropic.Message
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err = c.client.Messages.New(ctx, params)
		if err == nil || attempt == c.maxRetries || !retryable(err) {
			break
		}
		backoff := time.Duration(attempt+1) * 2 * time.Second
		log.Warn().Err(err).Str("ticker", ticker).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying claude call")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return "", fmt.Errorf("claude %s: %w", ticker, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

func retryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
