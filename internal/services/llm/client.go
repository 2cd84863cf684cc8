package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRateLimited is returned when the gateway answers 429.
	ErrRateLimited = errors.New("rate limit exceeded, please try again later")
	// ErrPaymentRequired is returned when the gateway answers 402.
	ErrPaymentRequired = errors.New("payment required, please add funds")
)

// GatewayError carries any other non-success status from the gateway.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("AI gateway error: %d", e.StatusCode)
	}
	return fmt.Sprintf("AI gateway error: %d: %s", e.StatusCode, e.Message)
}

// CompletionRequest is a single system/user exchange.
type CompletionRequest struct {
	// Model overrides the gateway's default model when set.
	Model       string
	System      string
	User        string
	Temperature float64
}

// Gateway is a hosted chat-completion service. Implementations return the
// first choice's text and never retry.
type Gateway interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ExtractJSONObject returns the span from the first '{' to the last '}' in
// text, which also strips markdown fences and chatter around the payload.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}
