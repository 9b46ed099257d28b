// Package llm defines the chat-completion contract used for template
// synthesis, content extraction, and ticker fallback.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when the model produced no content.
var ErrEmptyResponse = errors.New("llm returned empty response")

// Request is a single system+user prompt.
type Request struct {
	System      string
	User        string
	JSON        bool
	MaxTokens   int
	Temperature float32
}

// Client completes prompts.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// DecodeJSON unmarshals the first JSON object in a model reply, tolerating
// markdown code fences and surrounding prose.
func DecodeJSON(raw string, v any) error {
	body := strings.TrimSpace(raw)
	if body == "" {
		return ErrEmptyResponse
	}
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("decode llm json: no object in response")
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), v); err != nil {
		return fmt.Errorf("decode llm json: %w", err)
	}
	return nil
}

// Truncate returns the first n characters (runes) of s.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
