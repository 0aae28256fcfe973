package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is used when a client's options carry no base_url.
	DefaultBaseURL = "https://api.openai.com"
	// APIKeyEnv is read when a client's options carry no api_key.
	APIKeyEnv = "OPENAI_API_KEY"

	chatCompletionsPath = "/v1/chat/completions"
)

// Defaults are the property defaults of the OpenAI provider.
var Defaults = llm.ProviderDefaults{BaseURL: DefaultBaseURL, APIKeyEnv: APIKeyEnv}

// Client implements chat and streaming chat against any endpoint speaking
// the OpenAI chat completions protocol.
type Client struct {
	name        string
	provider    string
	retryPolicy string
	properties  *llm.ResolvedProperties
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

// NewClient resolves cfg's options and creates a Client.
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
			Str("component", "openaiClient").
			Str("client", cfg.Name).
			Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
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
	req, err := c.newRequest(ctx, buildRequestBody(c.properties, messages, false), "application/json")
	if err != nil {
		return llm.Result{}, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return llm.Result{}, llm.NewFetchError(c.name, "failed to make request", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below

	body, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		return llm.Result{}, llm.NewFetchError(c.name, "failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		failure, err := c.classifyStatusError(resp.StatusCode, body, prompt, start, latency)
		if err != nil {
			return llm.Result{}, err
		}
		c.logger.Debug().
			Int("status", resp.StatusCode).
			Str("code", failure.Code.String()).
			Dur("latency", latency).
			Msg("Chat call failed")
		return llm.Failed(failure), nil
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return llm.Result{}, llm.NewDecodeError(c.name, "failed to decode chat completion response", err)
	}

	if len(completion.Choices) < 1 {
		return llm.Failed(&llm.ErrorResponse{
			Client:    c.name,
			Prompt:    prompt,
			StartTime: start,
			Latency:   latency,
			Message:   fmt.Sprintf("No content in response: %s", truncate(body)),
			Code:      llm.ErrorCodeOther(resp.StatusCode),
		}), nil
	}

	choice := completion.Choices[0]
	var content, finishReason string
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}
	if choice.FinishReason != nil {
		finishReason = string(*choice.FinishReason)
	}

	metadata := llm.Metadata{
		IsComplete:   llm.IsCompleteFinishReason(finishReason),
		FinishReason: finishReason,
	}
	metadata.SetUsage(completion.Usage.toUsage())

	c.logger.Debug().
		Str("model", completion.Model).
		Str("finish_reason", finishReason).
		Dur("latency", latency).
		Msg("Chat call succeeded")

	return llm.Succeeded(&llm.CompleteResponse{
		Client:    c.name,
		Prompt:    prompt,
		Content:   content,
		Model:     completion.Model,
		StartTime: start,
		Latency:   latency,
		Metadata:  metadata,
	}), nil
}

// StreamChat implements llm.StreamChatClient.StreamChat. A non-2xx answer is
// returned as a *llm.FailureError.
func (c *Client) StreamChat(ctx context.Context, messages []llm.RenderedMessage) (llm.ResponseStream, error) {
	prompt := llm.ChatPrompt(messages...)
	req, err := c.newRequest(ctx, buildRequestBody(c.properties, messages, true), "text/event-stream")
	if err != nil {
		return nil, err
	}

	if err := c.state.IncrementCallCount(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to increment call count")
	}
	c.logger.Info().Msg("Stream chat starting")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, llm.NewFetchError(c.name, "failed to make request", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close() //nolint:errcheck // body fully read below
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, llm.NewFetchError(c.name, "failed to read response body", err)
		}
		failure, err := c.classifyStatusError(resp.StatusCode, body, prompt, start, time.Since(start))
		if err != nil {
			return nil, err
		}
		return nil, &llm.FailureError{Response: failure}
	}

	return newChatStream(c.name, prompt, start, resp, c.logger), nil
}

// newRequest builds the POST request. The credential goes into the
// Authorization header only and is never logged.
func (c *Client) newRequest(ctx context.Context, body map[string]any, accept string) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewBuildError(c.name, "failed to encode request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.properties.BaseURL+chatCompletionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewBuildError(c.name, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if c.properties.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.properties.APIKey)
	}
	for k, v := range c.properties.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Ensure Client implements the chat capabilities
var (
	_ llm.ChatClient       = (*Client)(nil)
	_ llm.StreamChatClient = (*Client)(nil)
)
