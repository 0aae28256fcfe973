package llm

import (
	"context"
	"strings"
)

// Capability names an operation a client may support.
type Capability string

const (
	CapabilityChat             Capability = "chat"
	CapabilityCompletion       Capability = "completion"
	CapabilityStreamChat       Capability = "stream_chat"
	CapabilityStreamCompletion Capability = "stream_completion"
)

// Capabilities is the set of operations a client advertises.
type Capabilities struct {
	Chat             bool
	Completion       bool
	StreamChat       bool
	StreamCompletion bool
}

// Has reports whether the set contains c.
func (c Capabilities) Has(capability Capability) bool {
	switch capability {
	case CapabilityChat:
		return c.Chat
	case CapabilityCompletion:
		return c.Completion
	case CapabilityStreamChat:
		return c.StreamChat
	case CapabilityStreamCompletion:
		return c.StreamCompletion
	default:
		return false
	}
}

// String lists the advertised capabilities, e.g. "chat,stream_chat".
func (c Capabilities) String() string {
	var names []string
	for _, capability := range []Capability{CapabilityChat, CapabilityCompletion, CapabilityStreamChat, CapabilityStreamCompletion} {
		if c.Has(capability) {
			names = append(names, string(capability))
		}
	}
	return strings.Join(names, ",")
}

// Client is implemented by every provider client. The capability interfaces
// below are implemented for the subset a provider supports.
type Client interface {
	// Name is the configured client name.
	Name() string

	// Provider is the provider tag the client was built for.
	Provider() string

	// RetryPolicyName is the name of the retry policy to apply, or "".
	RetryPolicyName() string

	// Capabilities lists the operations this client supports.
	Capabilities() Capabilities

	// State returns the diagnostics shared by every call on this client.
	State() *ClientState
}

// ChatClient issues non-streaming chat calls.
type ChatClient interface {
	Client

	// ChatOptions exposes the resolved default role to the prompt renderer.
	ChatOptions() ChatOptions

	// Chat sends the messages and returns a Success or Failure. A non-nil
	// error means the request could not be made or its response could not be read.
	Chat(ctx context.Context, messages []RenderedMessage) (Result, error)
}

// CompletionClient issues non-streaming completion calls.
type CompletionClient interface {
	Client
	Complete(ctx context.Context, prompt string) (Result, error)
}

// StreamChatClient issues streaming chat calls.
type StreamChatClient interface {
	Client
	StreamChat(ctx context.Context, messages []RenderedMessage) (ResponseStream, error)
}

// StreamCompletionClient issues streaming completion calls.
type StreamCompletionClient interface {
	Client
	StreamCompletion(ctx context.Context, prompt string) (ResponseStream, error)
}

// ResponseStream is a finite, single-pass sequence of partial responses.
// Each item returned by Current carries at least as much content as the one
// before it. A stream cannot be restarted; a new call is needed.
type ResponseStream interface {
	// Next advances to the next partial response.
	// Returns false when the stream is exhausted or has failed.
	Next() bool

	// Current returns the latest partial response.
	// Should only be called after Next() returns true.
	Current() *CompleteResponse

	// Err returns the terminal error, if the stream failed.
	Err() error

	// Close releases the underlying connection. It is safe to call at any
	// time, including before the stream is exhausted, and more than once.
	Close() error
}

// Call dispatches a single-shot call on the prompt's shape, rejecting an
// operation the client does not advertise before any network I/O.
func Call(ctx context.Context, client Client, prompt RenderedPrompt) (Result, error) {
	if prompt.IsChat() {
		chat, ok := client.(ChatClient)
		if !ok || !client.Capabilities().Has(CapabilityChat) {
			return Result{}, unsupported(client, CapabilityChat)
		}
		return chat.Chat(ctx, prompt.Chat)
	}
	completion, ok := client.(CompletionClient)
	if !ok || !client.Capabilities().Has(CapabilityCompletion) {
		return Result{}, unsupported(client, CapabilityCompletion)
	}
	return completion.Complete(ctx, prompt.Completion)
}

// Stream dispatches a streaming call on the prompt's shape, rejecting an
// operation the client does not advertise before any network I/O.
func Stream(ctx context.Context, client Client, prompt RenderedPrompt) (ResponseStream, error) {
	if prompt.IsChat() {
		chat, ok := client.(StreamChatClient)
		if !ok || !client.Capabilities().Has(CapabilityStreamChat) {
			return nil, unsupported(client, CapabilityStreamChat)
		}
		return chat.StreamChat(ctx, prompt.Chat)
	}
	completion, ok := client.(StreamCompletionClient)
	if !ok || !client.Capabilities().Has(CapabilityStreamCompletion) {
		return nil, unsupported(client, CapabilityStreamCompletion)
	}
	return completion.StreamCompletion(ctx, prompt.Completion)
}

func unsupported(client Client, capability Capability) error {
	return &UnsupportedError{
		Client:    client.Name(),
		Provider:  client.Provider(),
		Operation: capability,
	}
}
