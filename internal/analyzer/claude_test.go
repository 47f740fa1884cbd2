package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const messageBody = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
"content":[{"type":"text","text":"Solid results. "},{"type":"text","text":"Hold."}],
"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":4}}`

func TestClaude_Analyze(t *testing.T) {
	var gotModel, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model
		if len(req.Messages) > 0 && len(req.Messages[0].Content) > 0 {
			gotPrompt = req.Messages[0].Content[0].Text
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, messageBody)
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "test-key", Model: "claude-test", BaseURL: srv.URL})
	out, err := c.Analyze(context.Background(), "NPN.JO", "NPN.JO published an announcement")
	require.NoError(t, err)
	assert.Equal(t, "Solid results. Hold.", out)
	assert.Equal(t, "claude-test", gotModel)
	assert.Contains(t, gotPrompt, "Instrument: NPN.JO")
}

func TestClaude_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, messageBody)
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "k", Model: "claude-test", BaseURL: srv.URL, MaxRetries: 1})
	out, err := c.Analyze(context.Background(), "X.JO", "p")
	require.NoError(t, err)
	assert.Equal(t, "Solid results. Hold.", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClaude_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`)
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "k", Model: "nope", BaseURL: srv.URL, MaxRetries: 3})
	_, err := c.Analyze(context.Background(), "X.JO", "p")
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNoop(t *testing.T) {
	out, err := Noop{}.Analyze(context.Background(), "X.JO", "anything")
	assert.NoError(t, err)
	assert.Empty(t, out)
}
