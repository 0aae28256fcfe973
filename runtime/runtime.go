// Package runtime wires configured clients to their providers and retry
// policies, and records the outcome of every logical call.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/aschepis/backscratcher/llmcore/calllog"
	"github.com/aschepis/backscratcher/llmcore/config"
	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/aschepis/backscratcher/llmcore/llm/anthropic"
	"github.com/aschepis/backscratcher/llmcore/llm/ollama"
	"github.com/aschepis/backscratcher/llmcore/llm/openai"
	"github.com/aschepis/backscratcher/llmcore/retry"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// ErrUnknownClient is returned for a client name that is not configured.
var ErrUnknownClient = errors.New("unknown client")

// Recorder persists call outcomes. *calllog.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e calllog.Entry) (string, error)
}

// Factory builds a provider client from its configuration.
type Factory func(cfg llm.ClientConfig, rctx *llm.RuntimeContext, logger zerolog.Logger, hc *http.Client) (llm.Client, error)

func newOpenAI(cfg llm.ClientConfig, rctx *llm.RuntimeContext, logger zerolog.Logger, hc *http.Client) (llm.Client, error) {
	return openai.NewClient(cfg, rctx, logger, openai.WithHTTPClient(hc))
}

func newAnthropic(cfg llm.ClientConfig, rctx *llm.RuntimeContext, logger zerolog.Logger, hc *http.Client) (llm.Client, error) {
	return anthropic.NewClient(cfg, rctx, logger, anthropic.WithHTTPClient(hc))
}

func newOllama(cfg llm.ClientConfig, rctx *llm.RuntimeContext, logger zerolog.Logger, hc *http.Client) (llm.Client, error) {
	return ollama.NewClient(cfg, rctx, logger, ollama.WithHTTPClient(hc))
}

// Runtime owns the configured clients for the lifetime of a process.
type Runtime struct {
	clients  map[string]llm.Client
	policies *retry.Registry
	recorder Recorder
	logger   zerolog.Logger
}

type options struct {
	logger     zerolog.Logger
	rctx       *llm.RuntimeContext
	httpClient *http.Client
	recorder   Recorder
	factories  map[string]Factory
}

// Option configures a Runtime.
type Option func(*options)

// WithLogger sets the logger shared by the runtime and its clients.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEnv resolves client options against env instead of the process environment.
func WithEnv(env map[string]string) Option {
	return func(o *options) { o.rctx = llm.NewRuntimeContext(env) }
}

// WithRuntimeContext sets the context client options are resolved with.
func WithRuntimeContext(rctx *llm.RuntimeContext) Option {
	return func(o *options) { o.rctx = rctx }
}

// WithHTTPClient sets the HTTP client every provider client uses.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithRecorder records every logical call to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithProvider registers (or replaces) the factory for a provider tag.
func WithProvider(tag string, f Factory) Option {
	return func(o *options) { o.factories[tag] = f }
}

// New builds one client per configured client. It fails if a provider tag is
// unknown, a client's options cannot be resolved, or a client references a
// retry policy that does not exist.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	o := &options{
		logger:     zerolog.Nop(),
		httpClient: http.DefaultClient,
		factories: map[string]Factory{
			"openai":         newOpenAI,
			"openai-generic": newOpenAI,
			"anthropic":      newAnthropic,
			"ollama":         newOllama,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rctx == nil {
		o.rctx = llm.NewRuntimeContext(config.Environ())
	}

	r := &Runtime{
		clients:  make(map[string]llm.Client),
		policies: retry.NewRegistry(),
		recorder: o.recorder,
		logger:   o.logger.With().Str("component", "runtime").Logger(),
	}

	for _, policy := range cfg.Policies() {
		if err := r.policies.Register(policy); err != nil {
			return nil, err
		}
	}

	for _, clientCfg := range cfg.ClientConfigs() {
		factory, ok := o.factories[clientCfg.Provider]
		if !ok {
			return nil, fmt.Errorf("client %s: unknown provider %q", clientCfg.Name, clientCfg.Provider)
		}
		if clientCfg.RetryPolicy != "" {
			if _, ok := r.policies.Get(clientCfg.RetryPolicy); !ok {
				return nil, fmt.Errorf("client %s: unknown retry policy %q", clientCfg.Name, clientCfg.RetryPolicy)
			}
		}

		client, err := factory(clientCfg, o.rctx, o.logger, o.httpClient)
		if err != nil {
			return nil, fmt.Errorf("client %s: %w", clientCfg.Name, err)
		}
		r.clients[clientCfg.Name] = client

		r.logger.Debug().
			Str("client", clientCfg.Name).
			Str("provider", clientCfg.Provider).
			Str("capabilities", client.Capabilities().String()).
			Msg("Client configured")
	}

	return r, nil
}

// Clients returns the configured client names in sorted order.
func (r *Runtime) Clients() []string {
	names := lo.Keys(r.clients)
	slices.Sort(names)
	return names
}

// Client returns the named client.
func (r *Runtime) Client(name string) (llm.Client, error) {
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, name)
	}
	return client, nil
}

// ChatOptions returns the default role of a chat-capable client.
func (r *Runtime) ChatOptions(name string) (llm.ChatOptions, error) {
	client, err := r.Client(name)
	if err != nil {
		return llm.ChatOptions{}, err
	}
	chat, ok := client.(llm.ChatClient)
	if !ok || !client.Capabilities().Has(llm.CapabilityChat) {
		return llm.ChatOptions{}, &llm.UnsupportedError{
			Client:    client.Name(),
			Provider:  client.Provider(),
			Operation: llm.CapabilityChat,
		}
	}
	return chat.ChatOptions(), nil
}

// Call issues a single-shot call on the named client under its retry policy.
func (r *Runtime) Call(ctx context.Context, name string, prompt llm.RenderedPrompt) (llm.Result, error) {
	client, policy, err := r.lookup(name)
	if err != nil {
		return llm.Result{}, err
	}

	operation := llm.CapabilityCompletion
	if prompt.IsChat() {
		operation = llm.CapabilityChat
	}
	call := r.newCall(client, operation, prompt)

	result, err := retry.Call(ctx, policy, func(ctx context.Context) (llm.Result, error) {
		return llm.Call(ctx, client, prompt)
	}, r.logger.With().Str("client", name).Logger())

	r.record(ctx, call.Outcome(result, err))
	return result, err
}

// Stream opens a streaming call on the named client under its retry policy.
// The outcome is recorded when the stream ends or is closed.
func (r *Runtime) Stream(ctx context.Context, name string, prompt llm.RenderedPrompt) (llm.ResponseStream, error) {
	client, policy, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	operation := llm.CapabilityStreamCompletion
	if prompt.IsChat() {
		operation = llm.CapabilityStreamChat
	}
	call := r.newCall(client, operation, prompt)

	stream, err := retry.Stream(ctx, policy, func(ctx context.Context) (llm.ResponseStream, error) {
		return llm.Stream(ctx, client, prompt)
	}, r.logger.With().Str("client", name).Logger())
	if err != nil {
		r.record(ctx, call.Outcome(llm.Result{}, err))
		return nil, err
	}

	return &recordingStream{
		stream: stream,
		call:   call,
		record: func(e calllog.Entry) { r.record(ctx, e) },
	}, nil
}

func (r *Runtime) lookup(name string) (llm.Client, *retry.Policy, error) {
	client, err := r.Client(name)
	if err != nil {
		return nil, nil, err
	}
	if client.RetryPolicyName() == "" {
		return client, nil, nil
	}
	policy, ok := r.policies.Get(client.RetryPolicyName())
	if !ok {
		return nil, nil, fmt.Errorf("client %s: unknown retry policy %q", name, client.RetryPolicyName())
	}
	return client, policy, nil
}

func (r *Runtime) newCall(client llm.Client, operation llm.Capability, prompt llm.RenderedPrompt) calllog.Call {
	return calllog.Call{
		Client:    client.Name(),
		Provider:  client.Provider(),
		Operation: operation,
		Prompt:    prompt,
		StartedAt: time.Now(),
	}
}

func (r *Runtime) record(ctx context.Context, e calllog.Entry) {
	if r.recorder == nil {
		return
	}
	// The call's own context may already be cancelled; the record should still land.
	if _, err := r.recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		r.logger.Warn().Err(err).Str("client", e.Client).Msg("Failed to record call")
	}
}
