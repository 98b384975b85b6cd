package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"mercator-hq/costgate/pkg/executor"
	"mercator-hq/costgate/pkg/providers"
)

// Response paths.
const (
	contentPath = "choices.0.message.content"
	finishPath  = "choices.0.finish_reason"
)

// Config configures a Client.
type Config struct {
	// Name is the provider name used in ledger keys and logs.
	Name string

	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey is sent as a bearer token. Empty sends no Authorization header.
	APIKey string

	// Model is the default model.
	Model string

	// RetryBudget is the total wall-clock budget per call. Zero uses the executor default.
	RetryBudget time.Duration

	// MaxAttempts bounds attempts per call. Zero uses the executor default.
	MaxAttempts int

	// Pricing converts reported usage to cost.
	Pricing providers.Pricing

	// Headers are extra headers sent with every request.
	Headers map[string]string

	// RequestsPerMinute paces calls to the backend. Zero disables pacing.
	RequestsPerMinute int

	// Burst is how many calls may go out back to back before pacing applies.
	Burst int
}

// Client is an OpenAI-compatible chat adapter.
type Client struct {
	config  Config
	exec    *executor.Executor
	limiter *providers.RateLimiter
	health  providers.Health
	logger  *slog.Logger
}

// wire format

type chatRequest struct {
	Model       string              `json:"model"`
	Messages    []providers.Message `json:"messages"`
	Temperature float64             `json:"temperature"`
	Stream      bool                `json:"stream"`
}

// New creates a Client that sends requests through exec.
func New(cfg Config, exec *executor.Executor) (*Client, error) {
	if cfg.Name == "" {
		return nil, &providers.ConfigError{Provider: cfg.Name, Field: "name", Message: "name is required"}
	}
	if cfg.BaseURL == "" {
		return nil, &providers.ConfigError{Provider: cfg.Name, Field: "base_url", Message: "base URL is required"}
	}
	if cfg.Model == "" {
		return nil, &providers.ConfigError{Provider: cfg.Name, Field: "model", Message: "model is required"}
	}
	if exec == nil {
		return nil, &providers.ConfigError{Provider: cfg.Name, Field: "executor", Message: "executor is required"}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		config:  cfg,
		exec:    exec,
		limiter: providers.NewRateLimiter(cfg.RequestsPerMinute, cfg.Burst),
		logger:  slog.Default().With("component", "provider", "provider", cfg.Name),
	}, nil
}

// Name returns the provider's configured name.
func (c *Client) Name() string {
	return c.config.Name
}

// Health returns the provider's recent call health.
func (c *Client) Health() providers.HealthStatus {
	return c.health.Status()
}

// Complete sends messages and returns the first completion's text.
func (c *Client) Complete(ctx context.Context, messages []providers.Message, temperature float64) (string, error) {
	resp, err := c.Chat(ctx, &providers.ChatRequest{Messages: messages, Temperature: temperature})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Chat sends a chat completion request.
func (c *Client) Chat(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	headers := make(map[string]string, len(c.config.Headers)+1)
	for k, v := range c.config.Headers {
		headers[k] = v
	}
	if c.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.config.APIKey
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := c.exec.ExecuteRaw(ctx, executor.Request{
		Method:  http.MethodPost,
		URL:     c.config.BaseURL + "/chat/completions",
		Headers: headers,
		Body: chatRequest{
			Model:       model,
			Messages:    req.Messages,
			Temperature: req.Temperature,
			Stream:      false,
		},
		TotalRetryBudget: c.config.RetryBudget,
		MaxAttempts:      c.config.MaxAttempts,
	})
	if err != nil {
		c.record(ctx, err)
		return nil, err
	}

	resp, err := c.parse(raw)
	c.record(ctx, err)
	if err != nil {
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = model
	}

	c.logger.Debug("chat completion finished",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"latency", time.Since(start),
	)
	return resp, nil
}

func (c *Client) parse(raw []byte) (*providers.ChatResponse, error) {
	content := gjson.GetBytes(raw, contentPath)
	if content.Type != gjson.String {
		preview := raw
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return nil, &providers.MalformedResponseError{
			Provider:    c.config.Name,
			Path:        "choices[0].message.content",
			BodyPreview: string(preview),
		}
	}

	fields := gjson.GetManyBytes(raw, "model", finishPath, "usage.prompt_tokens", "usage.completion_tokens")
	usage := providers.TokenUsage{
		PromptTokens:     max(0, fields[2].Int()),
		CompletionTokens: max(0, fields[3].Int()),
	}
	return &providers.ChatResponse{
		Content:      content.String(),
		Model:        fields[0].String(),
		FinishReason: fields[1].String(),
		Usage:        usage,
		Cost:         c.config.Pricing.Cost(usage),
	}, nil
}

// record updates health; a caller's cancellation says nothing about the provider.
func (c *Client) record(ctx context.Context, err error) {
	if err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)) {
		return
	}
	c.health.Record(c.config.Name, err)
}
