// Package llm is the provider-neutral core of the LLM client layer.
//
// It defines the data model shared by every provider, the capability
// interfaces a provider client implements, and the pieces of the request
// lifecycle that do not depend on a wire format.
//
// # Core Concepts
//
//  1. Prompts: RenderedPrompt is either a completion string or a list of
//     RenderedMessage values, each a role plus text and image parts.
//
//  2. Results: Result is a tagged union of Success (CompleteResponse) and
//     Failure (ErrorResponse). Failures are LLM-reported and carry an ErrorCode.
//     Faults that prevent a request or its decoding are returned as *Error instead.
//
//  3. Capabilities: a client advertises a subset of chat, completion and their
//     streaming variants. Call and Stream reject unsupported operations before
//     any network I/O.
//
//  4. Properties: ResolveProperties turns a ClientConfig into connection
//     parameters, filling provider defaults and passing unknown options through.
//
//  5. Streaming: ResponseStream yields monotonically growing partial responses
//     built by an Accumulator fold over StreamDelta values.
//
//  6. State: ClientState is a mutex-guarded call counter shared by all calls on
//     one client.
//
// Usage Example
//
//	client, err := openai.NewClient(llm.ClientConfig{Name: "gpt", Provider: "openai",
//	    Options: map[string]any{"model": "gpt-4o", "api_key": "env.OPENAI_API_KEY"}},
//	    llm.NewRuntimeContext(env), logger)
//
//	result, err := llm.Call(ctx, client, llm.ChatPrompt(
//	    llm.NewTextMessage(llm.RoleUser, "Hello!"),
//	))
//
// # Extension Points
//
// To add a new LLM provider:
//  1. Resolve its options with ResolveProperties and its own ProviderDefaults
//  2. Implement Client plus the capability interfaces it supports
//  3. Translate provider errors into Failures (LLM-reported) or *Error (hard faults)
package llm
