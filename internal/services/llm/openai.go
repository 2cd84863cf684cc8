package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog/log"

	"incident-monitor/internal/metrics"
)

const defaultModel = "google/gemini-3-flash-preview"

// OpenAIGateway talks to any OpenAI-compatible chat completion endpoint.
type OpenAIGateway struct {
	client  openai.Client
	model   string
	metrics *metrics.Pipeline
}

// GatewayOptions configures NewOpenAIGateway.
type GatewayOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *metrics.Pipeline
}

func NewOpenAIGateway(opts GatewayOptions) (*OpenAIGateway, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gateway API key is required")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		// Failures are surfaced to the caller as-is.
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	model := opts.Model
	if model == "" {
		model = defaultModel
	}

	return &OpenAIGateway{
		client:  openai.NewClient(reqOpts...),
		model:   model,
		metrics: opts.Metrics,
	}, nil
}

func (g *OpenAIGateway) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(req.Temperature),
	}

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		mapped := mapError(err)
		g.metrics.GatewayError(errorKind(mapped))
		log.Warn().Err(mapped).Str("model", model).Msg("Gateway call failed")
		return "", mapped
	}

	if len(completion.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

func mapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("gateway request: %w", err)
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusPaymentRequired:
		return ErrPaymentRequired
	default:
		return &GatewayError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
}

func errorKind(err error) string {
	var gwErr *GatewayError
	switch {
	case errors.Is(err, ErrRateLimited):
		return metrics.GatewayRateLimited
	case errors.Is(err, ErrPaymentRequired):
		return metrics.GatewayPaymentRequired
	case errors.As(err, &gwErr):
		return metrics.GatewayStatus
	default:
		return metrics.GatewayTransport
	}
}
