// Package anthropic implements a chat client for Anthropic's Messages API on
// top of the official SDK.
package anthropic

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	DefaultBaseURL = "https://api.anthropic.com"
	APIKeyEnv      = "ANTHROPIC_API_KEY"
)

// Defaults are the property defaults of the Anthropic provider. The Messages
// API has no system role in its message list, so plain prompts default to user.
var Defaults = llm.ProviderDefaults{BaseURL: DefaultBaseURL, APIKeyEnv: APIKeyEnv, DefaultRole: llm.RoleUser}

// Client implements llm.ChatClient and llm.StreamChatClient.
type Client struct {
	name        string
	provider    string
	retryPolicy string
	properties  *llm.ResolvedProperties
	api         anthropic.Client
	httpClient  *http.Client
	state       *llm.ClientState
	logger      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient resolves cfg's options and creates a Client. The SDK's own
// retries are disabled; retry policies apply one level up.
func NewClient(cfg llm.ClientConfig, rctx *llm.RuntimeContext, logger zerolog.Logger, opts ...Option) (*Client, error) {
	props, err := llm.ResolveProperties(cfg, rctx, Defaults)
	if err != nil {
		return nil, err
	}

	c := &Client{
		name:        cfg.Name,
		provider:    cfg.Provider,
		retryPolicy: cfg.RetryPolicy,
		properties:  props,
		httpClient:  http.DefaultClient,
		state:       llm.NewClientState(),
		logger: logger.With().
			Str("component", "anthropicClient").
			Str("client", cfg.Name).
			Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	requestOpts := []option.RequestOption{
		option.WithBaseURL(strings.TrimSuffix(props.BaseURL, "/") + "/"),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	}
	if props.APIKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(props.APIKey))
	}
	headerNames := lo.Keys(props.Headers)
	slices.Sort(headerNames)
	for _, name := range headerNames {
		requestOpts = append(requestOpts, option.WithHeader(name, props.Headers[name]))
	}
	c.api = anthropic.NewClient(requestOpts...)

	return c, nil
}

// Name implements llm.Client.Name.
func (c *Client) Name() string { return c.name }

// Provider implements llm.Client.Provider.
func (c *Client) Provider() string { return c.provider }

// RetryPolicyName implements llm.Client.RetryPolicyName.
func (c *Client) RetryPolicyName() string { return c.retryPolicy }

// Capabilities implements llm.Client.Capabilities.
func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{Chat: true, StreamChat: true}
}

// State implements llm.Client.State.
func (c *Client) State() *llm.ClientState { return c.state }

// ChatOptions implements llm.ChatClient.ChatOptions.
func (c *Client) ChatOptions() llm.ChatOptions {
	return llm.ChatOptions{DefaultRole: c.properties.DefaultRole}
}

// Chat implements llm.ChatClient.Chat.
func (c *Client) Chat(ctx context.Context, messages []llm.RenderedMessage) (llm.Result, error) {
	prompt := llm.ChatPrompt(messages...)
	params, opts, err := buildParams(c.properties, messages)
	if err != nil {
		return llm.Result{}, llm.NewBuildError(c.name, "failed to build request", err)
	}

	start := time.Now()
	message, err := c.api.Messages.New(ctx, params, opts...)
	latency := time.Since(start)
	if err != nil {
		failure, err := c.classifyError(err, prompt, start)
		if err != nil {
			return llm.Result{}, err
		}
		c.logger.Debug().
			Str("code", failure.Code.String()).
			Dur("latency", latency).
			Msg("Chat call failed")
		return llm.Failed(failure), nil
	}

	var content strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	reason := finishReason(message.StopReason)
	metadata := llm.Metadata{
		IsComplete:   llm.IsCompleteFinishReason(reason),
		FinishReason: reason,
	}
	metadata.SetUsage(usage(message.Usage.InputTokens, message.Usage.OutputTokens))

	c.logger.Debug().
		Str("model", string(message.Model)).
		Str("stop_reason", string(message.StopReason)).
		Int64("input_tokens", message.Usage.InputTokens).
		Int64("output_tokens", message.Usage.OutputTokens).
		Dur("latency", latency).
		Msg("Chat call succeeded")

	return llm.Succeeded(&llm.CompleteResponse{
		Client:    c.name,
		Prompt:    prompt,
		Content:   content.String(),
		Model:     string(message.Model),
		StartTime: start,
		Latency:   latency,
		Metadata:  metadata,
	}), nil
}

// StreamChat implements llm.StreamChatClient.StreamChat. A rejected request
// is returned as a *llm.FailureError.
func (c *Client) StreamChat(ctx context.Context, messages []llm.RenderedMessage) (llm.ResponseStream, error) {
	prompt := llm.ChatPrompt(messages...)
	params, opts, err := buildParams(c.properties, messages)
	if err != nil {
		return nil, llm.NewBuildError(c.name, "failed to build request", err)
	}

	if err := c.state.IncrementCallCount(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to increment call count")
	}
	c.logger.Info().Msg("Stream chat starting")

	start := time.Now()
	stream := c.api.Messages.NewStreaming(ctx, params, opts...)
	// The request has been made; a rejected request is already on the stream.
	if err := stream.Err(); err != nil {
		_ = stream.Close() //nolint:errcheck // Already failing
		return nil, asError(c.classifyError(err, prompt, start))
	}
	return newChatStream(c, stream, prompt, start), nil
}

// Ensure Client implements the chat capabilities
var (
	_ llm.ChatClient       = (*Client)(nil)
	_ llm.StreamChatClient = (*Client)(nil)
)
