package openai

import (
	"encoding/json"

	"github.com/aschepis/backscratcher/llmcore/llm"
	openai "github.com/sashabaranov/go-openai"
)

// chatCompletionResponse is the non-streaming success payload. It is decoded
// with pointers so that a null content or absent usage stays distinguishable.
type chatCompletionResponse struct {
	ID                string                 `json:"id"`
	Object            string                 `json:"object"`
	Created           int64                  `json:"created"`
	Model             string                 `json:"model"`
	SystemFingerprint *string                `json:"system_fingerprint"`
	Choices           []chatCompletionChoice `json:"choices"`
	Usage             *completionUsage       `json:"usage"`
}

type chatCompletionChoice struct {
	Index        int                  `json:"index"`
	Message      responseMessage      `json:"message"`
	FinishReason *openai.FinishReason `json:"finish_reason"`
	Logprobs     json.RawMessage      `json:"logprobs"`
}

type responseMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type completionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *completionUsage) toUsage() *llm.Usage {
	if u == nil {
		return nil
	}
	return &llm.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// streamChunk is one server-sent event payload. Some providers report
// failures mid-stream as an error envelope instead of a chunk.
type streamChunk struct {
	openai.ChatCompletionStreamResponse
	Error *openai.APIError `json:"error,omitempty"`
}

// delta normalizes the chunk. Only the first choice is accumulated; ok is
// false for a chunk that carries neither a choice nor usage.
func (c *streamChunk) delta() (llm.StreamDelta, bool) {
	d := llm.StreamDelta{Model: c.Model}
	if c.Usage != nil {
		d.Usage = &llm.Usage{
			PromptTokens:     c.Usage.PromptTokens,
			CompletionTokens: c.Usage.CompletionTokens,
			TotalTokens:      c.Usage.TotalTokens,
		}
	}
	if len(c.Choices) == 0 {
		return d, d.Usage != nil
	}
	choice := c.Choices[0]
	d.Index = choice.Index
	d.FinishReason = string(choice.FinishReason)
	d.Role = choice.Delta.Role
	d.Content = choice.Delta.Content
	return d, true
}
