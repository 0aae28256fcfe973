package llm

import (
	"strings"
	"testing"
	"time"
)

func TestAccumulator_MonotonicContent(t *testing.T) {
	start := time.Now()
	acc := NewAccumulator("gpt", ChatPrompt(NewTextMessage(RoleUser, "hi")), start)

	deltas := []StreamDelta{
		{Role: RoleAssistant},
		{Content: "Hel", Model: "gpt-4o-2024"},
		{},
		{Content: "lo", Model: "gpt-4o-2024"},
		{Content: ", world"},
	}

	var emitted []CompleteResponse
	for _, d := range deltas {
		if partial, ok := acc.Apply(d); ok {
			emitted = append(emitted, partial)
		}
	}

	if len(emitted) != 3 {
		t.Fatalf("Expected 3 emissions, got %d", len(emitted))
	}
	for i := 1; i < len(emitted); i++ {
		if !strings.HasPrefix(emitted[i].Content, emitted[i-1].Content) {
			t.Errorf("Emission %d (%q) does not extend %q", i, emitted[i].Content, emitted[i-1].Content)
		}
	}
	last := emitted[len(emitted)-1]
	if last.Content != "Hello, world" {
		t.Errorf("Expected final content 'Hello, world', got %q", last.Content)
	}
	if last.Model != "gpt-4o-2024" {
		t.Errorf("Expected model to be kept from events, got %q", last.Model)
	}
	if last.Client != "gpt" || !last.StartTime.Equal(start) {
		t.Errorf("Expected client and start time to be carried, got %+v", last)
	}
}

func TestAccumulator_FinishReasonAndUsage(t *testing.T) {
	acc := NewAccumulator("gpt", ChatPrompt(), time.Now())
	acc.Apply(StreamDelta{Content: "done"})

	partial, ok := acc.Apply(StreamDelta{FinishReason: "stop"})
	if !ok {
		t.Fatal("Expected finish reason to be emitted")
	}
	if !partial.Metadata.IsComplete || partial.Metadata.FinishReason != "stop" {
		t.Errorf("Unexpected metadata: %+v", partial.Metadata)
	}
	if partial.Content != "done" {
		t.Errorf("Expected content unchanged, got %q", partial.Content)
	}

	partial, ok = acc.Apply(StreamDelta{Usage: &Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4}})
	if !ok {
		t.Fatal("Expected usage to be emitted")
	}
	if partial.Metadata.TotalTokens == nil || *partial.Metadata.TotalTokens != 4 {
		t.Errorf("Expected total tokens 4, got %v", partial.Metadata.TotalTokens)
	}
}

func TestAccumulator_LengthIsIncomplete(t *testing.T) {
	acc := NewAccumulator("gpt", ChatPrompt(), time.Now())
	partial, _ := acc.Apply(StreamDelta{Content: "trunc", FinishReason: "length"})
	if partial.Metadata.IsComplete {
		t.Error("Expected length finish reason to be incomplete")
	}
}

func TestAccumulator_SnapshotIsIndependent(t *testing.T) {
	acc := NewAccumulator("gpt", ChatPrompt(), time.Now())
	first, _ := acc.Apply(StreamDelta{Content: "a", Usage: &Usage{TotalTokens: 1}})
	acc.Apply(StreamDelta{Content: "b", Usage: &Usage{TotalTokens: 2}})

	if first.Content != "a" || *first.Metadata.TotalTokens != 1 {
		t.Errorf("Earlier emission was mutated: %+v", first)
	}
}
