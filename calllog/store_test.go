package calllog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/rs/zerolog"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, db, err := Open(filepath.Join(t.TempDir(), "calls.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return store
}

func intPtr(i int) *int { return &i }

func TestStore_RecordAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	chat := Call{
		Client:    "primary",
		Provider:  "openai",
		Operation: llm.CapabilityChat,
		Prompt:    llm.ChatPrompt(llm.NewTextMessage(llm.RoleUser, "hi")),
		StartedAt: base,
	}
	success := chat.Outcome(llm.Succeeded(&llm.CompleteResponse{
		Client:    "primary",
		Content:   "Hello!",
		Model:     "gpt-test",
		StartTime: base,
		Latency:   1500 * time.Millisecond,
		Metadata: llm.Metadata{
			IsComplete:   true,
			FinishReason: "stop",
			PromptTokens: intPtr(3),
			OutputTokens: intPtr(2),
			TotalTokens:  intPtr(5),
		},
	}), nil)
	id, err := store.Record(ctx, success)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected generated id")
	}

	completion := Call{
		Client:    "local",
		Provider:  "ollama",
		Operation: llm.CapabilityCompletion,
		Prompt:    llm.CompletionPrompt("once upon"),
		StartedAt: base.Add(time.Second),
	}
	failure := completion.Outcome(llm.Failed(&llm.ErrorResponse{
		Client:  "local",
		Message: "API Error (ollama): model not found",
		Code:    llm.ErrorCodeFromStatus(404),
		Latency: 20 * time.Millisecond,
	}), nil)
	if _, err := store.Record(ctx, failure); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Client != "local" || entries[1].Client != "primary" {
		t.Errorf("Expected most recent first, got %s then %s", entries[0].Client, entries[1].Client)
	}

	got := entries[1]
	if got.ID != id || got.Status != StatusSuccess || got.Content != "Hello!" || got.Model != "gpt-test" {
		t.Errorf("Unexpected success entry: %+v", got)
	}
	if !got.IsComplete || got.FinishReason != "stop" || got.Operation != llm.CapabilityChat {
		t.Errorf("Unexpected metadata: %+v", got)
	}
	if got.TotalTokens == nil || *got.TotalTokens != 5 {
		t.Errorf("Expected 5 total tokens, got %v", got.TotalTokens)
	}
	if got.Latency != 1500*time.Millisecond || !got.StartedAt.Equal(base) {
		t.Errorf("Unexpected timing: %v at %v", got.Latency, got.StartedAt)
	}
	if len(got.Prompt.Chat) != 1 || got.Prompt.Chat[0].Text() != "hi" {
		t.Errorf("Expected prompt round trip, got %+v", got.Prompt)
	}

	failed := entries[0]
	if failed.Status != StatusFailure || failed.ErrorCode != "not_found(404)" {
		t.Errorf("Unexpected failure entry: %+v", failed)
	}
	if failed.TotalTokens != nil {
		t.Errorf("Expected no usage on failure, got %v", *failed.TotalTokens)
	}
	if failed.Prompt.Completion != "once upon" {
		t.Errorf("Expected completion prompt, got %+v", failed.Prompt)
	}
}

func TestStore_ListFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i, client := range []string{"a", "b", "a", "a"} {
		call := Call{Client: client, Provider: "openai", Operation: llm.CapabilityChat, StartedAt: time.UnixMilli(int64(i) * 1000)}
		if _, err := store.Record(ctx, call.Outcome(llm.Succeeded(&llm.CompleteResponse{Content: "x"}), nil)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	errCall := Call{Client: "a", Provider: "openai", Operation: llm.CapabilityStreamChat, StartedAt: time.UnixMilli(9000)}
	if _, err := store.Record(ctx, errCall.Outcome(llm.Result{}, llm.NewFetchError("a", "failed to make request", errors.New("refused")))); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{name: "all", filter: Filter{}, want: 5},
		{name: "by client", filter: Filter{Client: "a"}, want: 4},
		{name: "by status", filter: Filter{Status: StatusError}, want: 1},
		{name: "limited", filter: Filter{Client: "a", Limit: 2}, want: 2},
		{name: "unknown client", filter: Filter{Client: "zzz"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := store.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("Expected %d entries, got %d", tt.want, len(entries))
			}
		})
	}
}

func TestCall_Outcome(t *testing.T) {
	call := Call{Client: "c", Provider: "openai", Operation: llm.CapabilityStreamChat, StartedAt: time.Now()}

	t.Run("failure error becomes failure", func(t *testing.T) {
		e := call.Outcome(llm.Result{}, &llm.FailureError{Response: &llm.ErrorResponse{
			Client: "c", Message: "slow down", Code: llm.ErrorCodeFromStatus(429),
		}})
		if e.Status != StatusFailure || e.ErrorCode != "rate_limited(429)" || e.ErrorMessage != "slow down" {
			t.Errorf("Unexpected entry: %+v", e)
		}
	})

	t.Run("hard error", func(t *testing.T) {
		e := call.Outcome(llm.Result{}, llm.NewDecodeError("c", "failed to parse event", errors.New("bad")))
		if e.Status != StatusError || e.ErrorCode != "decode" {
			t.Errorf("Unexpected entry: %+v", e)
		}
	})

	t.Run("plain error", func(t *testing.T) {
		e := call.Outcome(llm.Result{}, context.Canceled)
		if e.Status != StatusError || e.ErrorCode != "" {
			t.Errorf("Unexpected entry: %+v", e)
		}
	})
}
