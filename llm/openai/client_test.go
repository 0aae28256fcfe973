package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/rs/zerolog"
)

// newTestClient points a client at handler with a fixed API key.
func newTestClient(t *testing.T, handler http.HandlerFunc, options map[string]any) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts := map[string]any{
		"base_url": server.URL + "/",
		"api_key":  "sk-test",
		"model":    "gpt-test",
	}
	for k, v := range options {
		opts[k] = v
	}
	cfg := llm.ClientConfig{Name: "primary", Provider: "openai", Options: opts}
	client, err := NewClient(cfg, llm.NewRuntimeContext(nil), zerolog.Nop(), WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func userMessage(text string) []llm.RenderedMessage {
	return []llm.RenderedMessage{llm.NewTextMessage(llm.RoleUser, text)}
}

func TestChat_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Expected /v1/chat/completions, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-test-0613",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`)
	}, nil)

	result, err := client.Chat(context.Background(), userMessage("hi"))
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if !result.IsSuccess() {
		t.Fatalf("Expected success, got failure %+v", result.Failure)
	}
	resp := result.Success
	if resp.Content != "Hello!" || resp.Model != "gpt-test-0613" || resp.Client != "primary" {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if !resp.Metadata.IsComplete || resp.Metadata.FinishReason != "stop" {
		t.Errorf("Expected complete response, got %+v", resp.Metadata)
	}
	if resp.Metadata.TotalTokens == nil || *resp.Metadata.TotalTokens != 7 {
		t.Errorf("Expected 7 total tokens, got %v", resp.Metadata.TotalTokens)
	}
	if resp.Metadata.PromptTokens == nil || *resp.Metadata.PromptTokens != 5 {
		t.Errorf("Expected 5 prompt tokens, got %v", resp.Metadata.PromptTokens)
	}
	if resp.StartTime.IsZero() {
		t.Error("Expected start time to be set")
	}
}

func TestChat_FinishReasons(t *testing.T) {
	tests := []struct {
		name         string
		finishReason string
		wantComplete bool
	}{
		{name: "stop", finishReason: `"stop"`, wantComplete: true},
		{name: "absent", finishReason: `null`, wantComplete: true},
		{name: "length", finishReason: `"length"`, wantComplete: false},
		{name: "content filter", finishReason: `"content_filter"`, wantComplete: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"x"},"finish_reason":`+tt.finishReason+`}]}`)
			}, nil)
			result, err := client.Chat(context.Background(), userMessage("hi"))
			if err != nil {
				t.Fatalf("Chat failed: %v", err)
			}
			if got := result.Success.Metadata.IsComplete; got != tt.wantComplete {
				t.Errorf("Expected IsComplete=%v, got %v", tt.wantComplete, got)
			}
		})
	}
}

func TestChat_NullContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"model":"m","choices":[{"index":0,"message":{"role":"assistant","content":null},"finish_reason":"stop"}]}`)
	}, nil)

	result, err := client.Chat(context.Background(), userMessage("hi"))
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if !result.IsSuccess() || result.Success.Content != "" {
		t.Errorf("Expected empty successful content, got %+v", result)
	}
	if result.Success.Metadata.TotalTokens != nil {
		t.Errorf("Expected no usage, got %v", *result.Success.Metadata.TotalTokens)
	}
}

func TestChat_NoChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"model":"m","choices":[]}`)
	}, nil)

	result, err := client.Chat(context.Background(), userMessage("hi"))
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if result.IsSuccess() {
		t.Fatal("Expected failure for empty choices")
	}
	if !strings.HasPrefix(result.Failure.Message, "No content in response") {
		t.Errorf("Unexpected message: %s", result.Failure.Message)
	}
	if result.Failure.Code != llm.ErrorCodeOther(200) {
		t.Errorf("Expected other(200), got %s", result.Failure.Code)
	}
}

func TestChat_ProviderError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind llm.ErrorKind
	}{
		{name: "unauthorized", status: 401, wantKind: llm.ErrorKindInvalidAuthentication},
		{name: "rate limited", status: 429, wantKind: llm.ErrorKindRateLimited},
		{name: "service unavailable", status: 503, wantKind: llm.ErrorKindServiceUnavailable},
		{name: "unknown", status: 418, wantKind: llm.ErrorKindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"bad key","code":"invalid_api_key"}}`)
			}, nil)

			result, err := client.Chat(context.Background(), userMessage("hi"))
			if err != nil {
				t.Fatalf("Expected failure result, got error: %v", err)
			}
			if result.IsSuccess() {
				t.Fatal("Expected failure")
			}
			if result.Failure.Message != "API Error (invalid_request_error): bad key" {
				t.Errorf("Unexpected message: %s", result.Failure.Message)
			}
			if result.Failure.Code.Kind != tt.wantKind || result.Failure.Code.Status != tt.status {
				t.Errorf("Expected %s(%d), got %s", tt.wantKind, tt.status, result.Failure.Code)
			}
		})
	}
}

func TestChat_MalformedErrorPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `<html>bad gateway</html>`)
	}, nil)

	_, err := client.Chat(context.Background(), userMessage("hi"))
	var llmErr *llm.Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("Expected *llm.Error, got %v", err)
	}
	if llmErr.Code.Kind != llm.ErrorKindConfig {
		t.Errorf("Expected config error, got %s", llmErr.Code)
	}
	if !strings.Contains(llmErr.Message, "HTTP 502") {
		t.Errorf("Expected status in message, got %s", llmErr.Message)
	}
}

func TestChat_UndecodableSuccessIsHardError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}, nil)

	_, err := client.Chat(context.Background(), userMessage("hi"))
	if code, ok := llm.CodeOf(err); !ok || code.Kind != llm.ErrorKindDecode {
		t.Errorf("Expected decode error, got %v", err)
	}
}

func TestChat_RequestShape(t *testing.T) {
	var body map[string]any
	var header http.Header
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		_, _ = io.WriteString(w, `{"model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}, map[string]any{
		"temperature": 0.5,
		"headers":     map[string]any{"X-Team": "core"},
	})

	messages := []llm.RenderedMessage{
		llm.NewTextMessage(llm.RoleSystem, "be brief"),
		{
			Role: llm.RoleUser,
			Parts: []llm.MessagePart{
				{Text: "what is this?"},
				llm.NewImageURLPart("https://example.com/cat.png"),
				llm.NewImageBase64Part("image/jpeg", "QUJD"),
			},
		},
	}
	if _, err := client.Chat(context.Background(), messages); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if got := header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("Expected bearer auth, got %q", got)
	}
	if got := header.Get("X-Team"); got != "core" {
		t.Errorf("Expected custom header, got %q", got)
	}
	if got := header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Expected JSON content type, got %q", got)
	}

	if body["model"] != "gpt-test" || body["temperature"] != 0.5 {
		t.Errorf("Expected pass-through properties, got %v", body)
	}
	for _, reserved := range []string{"base_url", "api_key", "headers", "default_role"} {
		if _, ok := body[reserved]; ok {
			t.Errorf("Reserved option %s leaked into body", reserved)
		}
	}
	if _, ok := body["stream"]; ok {
		t.Error("Non-streaming call should not set stream")
	}

	msgs := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	system := msgs[0].(map[string]any)
	if system["role"] != "system" || system["content"] != "be brief" {
		t.Errorf("Expected single text part as bare string, got %v", system)
	}
	parts := msgs[1].(map[string]any)["content"].([]any)
	if len(parts) != 3 {
		t.Fatalf("Expected 3 content parts, got %d", len(parts))
	}
	if p := parts[0].(map[string]any); p["type"] != "text" || p["text"] != "what is this?" {
		t.Errorf("Unexpected text part: %v", p)
	}
	url := parts[1].(map[string]any)["image_url"].(map[string]any)["url"]
	if url != "https://example.com/cat.png" {
		t.Errorf("Unexpected image url: %v", url)
	}
	dataURL := parts[2].(map[string]any)["image_url"].(map[string]any)["url"]
	if dataURL != "data:image/jpeg;base64,QUJD" {
		t.Errorf("Unexpected data url: %v", dataURL)
	}
}

func TestChat_DoesNotIncrementCallCount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}, nil)
	if _, err := client.Chat(context.Background(), userMessage("hi")); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if got := client.State().CallCount(); got != 0 {
		t.Errorf("Expected call count 0, got %d", got)
	}
}

func TestChat_FetchError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	cfg := llm.ClientConfig{Name: "primary", Provider: "openai", Options: map[string]any{"base_url": baseURL, "api_key": "k"}}
	client, err := NewClient(cfg, llm.NewRuntimeContext(nil), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	_, err = client.Chat(context.Background(), userMessage("hi"))
	if code, ok := llm.CodeOf(err); !ok || code.Kind != llm.ErrorKindFetch {
		t.Errorf("Expected fetch error, got %v", err)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	rctx := llm.NewRuntimeContext(map[string]string{APIKeyEnv: "sk-env"})
	client, err := NewClient(llm.ClientConfig{Name: "c", Provider: "openai"}, rctx, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.properties.BaseURL != DefaultBaseURL {
		t.Errorf("Expected default base url, got %s", client.properties.BaseURL)
	}
	if client.properties.APIKey != "sk-env" {
		t.Errorf("Expected api key from environment, got %q", client.properties.APIKey)
	}
	if client.ChatOptions().DefaultRole != llm.RoleSystem {
		t.Errorf("Expected system default role, got %s", client.ChatOptions().DefaultRole)
	}
	caps := client.Capabilities()
	if !caps.Chat || !caps.StreamChat || caps.Completion || caps.StreamCompletion {
		t.Errorf("Unexpected capabilities: %s", caps)
	}
}
