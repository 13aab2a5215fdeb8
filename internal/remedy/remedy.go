// Package remedy is the client for the remediation service: an
// OpenAI-compatible chat-completions endpoint that proposes search/replace
// patches for a file's findings. The service is untrusted; its raw text is
// returned to the caller and parsed by package patch.
package remedy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/papapumpkin/optifix/internal/detect"
)

// Request is everything the service sees for one attempt on one file.
type Request struct {
	RequestID      string
	Path           string
	Language       string
	Content        string
	Findings       []detect.Finding
	Attempt        int
	MaxAttempts    int
	PriorRejection string // reason the previous attempt was rejected, if any
	Guidance       string // repeated-failure guidance, if any
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the raw completion for one request.
type Response struct {
	RequestID string
	Text      string
	Model     string
	Usage     Usage
	Duration  time.Duration
	Retries   int // network retries spent, not counting the first call
}

// Config holds endpoint, credential and retry settings.
type Config struct {
	BaseURL           string
	Model             string
	APIKey            string
	Timeout           time.Duration // per call
	NetworkRetries    int
	BackoffBase       time.Duration
	MaxBackoff        time.Duration
	RequestsPerMinute int // 0 disables client-side rate limiting
	Temperature       float32
	MaxTokens         int
	SystemPrompt      string
}

// DefaultConfig targets a local Ollama server's OpenAI-compatible API.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:11434/v1",
		Model:          "gpt-oss:latest",
		Timeout:        120 * time.Second,
		NetworkRetries: 3,
		BackoffBase:    2 * time.Second,
		MaxBackoff:     30 * time.Second,
		Temperature:    0.2,
	}
}

// Client proposes patches through the remediation service.
type Client struct {
	cfg        Config
	api        *openai.Client
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		occ := openai.DefaultConfig(c.cfg.APIKey)
		occ.BaseURL = c.cfg.BaseURL
		occ.HTTPClient = hc
		c.api = openai.NewClientWithConfig(occ)
	}
}

// WithBackOff replaces the exponential backoff policy between network
// retries. The retry count is still bounded by Config.NetworkRetries.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a client for cfg. Zero-valued retry settings fall back to
// DefaultConfig.
func New(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.NetworkRetries < 0 {
		cfg.NetworkRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}

	occ := openai.DefaultConfig(cfg.APIKey)
	occ.BaseURL = cfg.BaseURL

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	c := &Client{
		cfg:     cfg,
		api:     openai.NewClientWithConfig(occ),
		limiter: rate.NewLimiter(limit, 1),
		logger:  slog.Default(),
	}
	c.newBackOff = c.exponential
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Propose sends one request and returns the raw completion text. Transient
// failures are retried with backoff up to Config.NetworkRetries times; when
// they are exhausted the error wraps ErrUnavailable. Non-retryable HTTP
// failures return a *FatalError. An empty completion is not an error.
func (c *Client) Propose(ctx context.Context, req Request) (Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	logger := c.logger.With("request_id", req.RequestID, "path", req.Path, "attempt", req.Attempt)

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if c.cfg.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.cfg.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(req)})
	chatReq := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	start := time.Now()
	var (
		completion openai.ChatCompletionResponse
		retries    int
	)
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.api.CreateChatCompletion(callCtx, chatReq)
		if err == nil {
			completion = resp
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		if fatal := classify(err); fatal != nil {
			return backoff.Permanent(fatal)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		retries++
		logger.Warn("remediation call failed, retrying", "error", err, "retry", retries, "wait", wait)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.cfg.NetworkRetries)), ctx)
	err := backoff.RetryNotify(op, policy, notify)
	elapsed := time.Since(start)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return Response{}, ctx.Err()
		case IsFatal(err):
			logger.Error("remediation request rejected", "error", err)
			return Response{}, err
		}
		logger.Error("remediation service unavailable", "error", err, "retries", retries, "duration", elapsed)
		return Response{}, fmt.Errorf("%w after %d call(s): %w", ErrUnavailable, retries+1, err)
	}

	out := Response{
		RequestID: req.RequestID,
		Model:     completion.Model,
		Usage: Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
		Duration: elapsed,
		Retries:  retries,
	}
	if len(completion.Choices) > 0 {
		out.Text = completion.Choices[0].Message.Content
	}
	logger.Debug("remediation response received",
		"model", out.Model, "tokens", out.Usage.TotalTokens, "duration", elapsed, "empty", out.Text == "")
	return out, nil
}

func (c *Client) exponential() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffBase
	b.MaxInterval = c.cfg.MaxBackoff
	b.Multiplier = 2.0
	b.MaxElapsedTime = 0
	return b
}
