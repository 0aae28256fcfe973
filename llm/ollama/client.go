package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the local Ollama server.
	DefaultBaseURL = "http://localhost:11434"
	// APIKeyEnv is read when a client's options carry no api_key.
	APIKeyEnv = "OLLAMA_API_KEY"
)

// Defaults are the property defaults of the Ollama provider.
var Defaults = llm.ProviderDefaults{BaseURL: DefaultBaseURL, APIKeyEnv: APIKeyEnv}

// Client implements completion and streaming completion against Ollama's
// generate endpoint.
type Client struct {
	name        string
	provider    string
	retryPolicy string
	properties  *llm.ResolvedProperties
	api         *api.Client
	httpClient  *http.Client
	state       *llm.ClientState
	logger      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client whose transport carries requests.
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

	base, err := parseHost(props.BaseURL)
	if err != nil {
		return nil, &llm.PropertyError{Client: cfg.Name, Option: llm.OptionBaseURL, Err: err}
	}

	c := &Client{
		name:        cfg.Name,
		provider:    cfg.Provider,
		retryPolicy: cfg.RetryPolicy,
		properties:  props,
		httpClient:  &http.Client{},
		state:       llm.NewClientState(),
		logger: logger.With().
			Str("component", "ollamaClient").
			Str("client", cfg.Name).
			Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	transport := &headerTransport{
		base:    c.httpClient.Transport,
		apiKey:  props.APIKey,
		headers: props.Headers,
	}
	c.api = api.NewClient(base, &http.Client{
		Transport:     transport,
		CheckRedirect: c.httpClient.CheckRedirect,
		Jar:           c.httpClient.Jar,
		Timeout:       c.httpClient.Timeout,
	})
	return c, nil
}

// parseHost parses a host string into a URL, defaulting the scheme to http.
func parseHost(host string) (*url.URL, error) {
	u, err := url.Parse(host)
	if err == nil && u.Scheme != "" && u.Host != "" {
		return u, nil
	}
	u, err = url.Parse("http://" + host)
	if err != nil {
		return nil, fmt.Errorf("invalid host %q: %w", host, err)
	}
	return u, nil
}

// Name implements llm.Client.Name.
func (c *Client) Name() string { return c.name }

// Provider implements llm.Client.Provider.
func (c *Client) Provider() string { return c.provider }

// RetryPolicyName implements llm.Client.RetryPolicyName.
func (c *Client) RetryPolicyName() string { return c.retryPolicy }

// Capabilities implements llm.Client.Capabilities.
func (c *Client) Capabilities() llm.Capabilities {
	return llm.Capabilities{Completion: true, StreamCompletion: true}
}

// State implements llm.Client.State.
func (c *Client) State() *llm.ClientState { return c.state }

// Complete implements llm.CompletionClient.Complete.
func (c *Client) Complete(ctx context.Context, prompt string) (llm.Result, error) {
	rendered := llm.CompletionPrompt(prompt)
	req, err := buildGenerateRequest(c.properties, prompt, false)
	if err != nil {
		return llm.Result{}, llm.NewBuildError(c.name, "failed to build generate request", err)
	}

	start := time.Now()
	acc := llm.NewAccumulator(c.name, rendered, start)
	err = c.api.Generate(ctx, req, func(resp api.GenerateResponse) error {
		acc.Apply(toDelta(resp))
		return nil
	})
	if err != nil {
		failure, hardErr := c.classifyError(err, rendered, req.Model, start)
		if hardErr != nil {
			return llm.Result{}, hardErr
		}
		c.logger.Debug().
			Str("code", failure.Code.String()).
			Msg("Completion call failed")
		return llm.Failed(failure), nil
	}

	resp := acc.Snapshot()
	resp.Latency = time.Since(start)
	if resp.Metadata.FinishReason == "" {
		resp.Metadata.IsComplete = true
	}
	c.logger.Debug().
		Str("model", resp.Model).
		Str("finish_reason", resp.Metadata.FinishReason).
		Dur("latency", resp.Latency).
		Msg("Completion call succeeded")
	return llm.Succeeded(&resp), nil
}

// StreamCompletion implements llm.StreamCompletionClient.StreamCompletion.
// It returns once the server has answered, so a rejected request surfaces
// here as a *llm.FailureError rather than from the stream.
func (c *Client) StreamCompletion(ctx context.Context, prompt string) (llm.ResponseStream, error) {
	rendered := llm.CompletionPrompt(prompt)
	req, err := buildGenerateRequest(c.properties, prompt, true)
	if err != nil {
		return nil, llm.NewBuildError(c.name, "failed to build generate request", err)
	}

	if err := c.state.IncrementCallCount(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to increment call count")
	}
	c.logger.Info().Msg("Stream completion starting")

	start := time.Now()
	stream := newCompletionStream(ctx, c, req, rendered, start)
	if err := stream.open(); err != nil {
		return nil, err
	}
	return stream, nil
}

// Ensure Client implements the completion capabilities
var (
	_ llm.CompletionClient       = (*Client)(nil)
	_ llm.StreamCompletionClient = (*Client)(nil)
)
