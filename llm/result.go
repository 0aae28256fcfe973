package llm

import (
	"time"
)

// Result is the outcome of a single-shot call. Exactly one of Success and
// Failure is non-nil.
type Result struct {
	Success *CompleteResponse
	Failure *ErrorResponse
}

// Succeeded wraps a complete response as a Result.
func Succeeded(resp *CompleteResponse) Result {
	return Result{Success: resp}
}

// Failed wraps an error response as a Result.
func Failed(resp *ErrorResponse) Result {
	return Result{Failure: resp}
}

// IsSuccess reports whether the call produced content.
func (r Result) IsSuccess() bool {
	return r.Success != nil
}

// Client returns the name of the client that produced the result.
func (r Result) Client() string {
	if r.Success != nil {
		return r.Success.Client
	}
	if r.Failure != nil {
		return r.Failure.Client
	}
	return ""
}

// Content returns the response text, or a *FailureError for a failed call.
func (r Result) Content() (string, error) {
	if r.Failure != nil {
		return "", &FailureError{Response: r.Failure}
	}
	if r.Success == nil {
		return "", &Error{Code: ErrorCode{Kind: ErrorKindDecode}, Message: "empty result"}
	}
	return r.Success.Content, nil
}

// CompleteResponse is a successful (or, while streaming, partial) response.
type CompleteResponse struct {
	Client    string         `json:"client"`
	Prompt    RenderedPrompt `json:"prompt"`
	Content   string         `json:"content"`
	Model     string         `json:"model"`
	StartTime time.Time      `json:"start_time"`
	Latency   time.Duration  `json:"latency"`
	Metadata  Metadata       `json:"metadata"`
}

// Metadata carries completion state and token usage when the provider reports it.
// IsComplete serializes as "is_complete". A single-shot response is complete
// when the finish reason is absent or "stop"; a streamed partial only once
// "stop" arrives.
type Metadata struct {
	IsComplete   bool   `json:"is_complete"`
	FinishReason string `json:"finish_reason,omitempty"`
	PromptTokens *int   `json:"prompt_tokens"`
	OutputTokens *int   `json:"output_tokens"`
	TotalTokens  *int   `json:"total_tokens"`
}

// SetUsage copies token counts into the metadata.
func (m *Metadata) SetUsage(u *Usage) {
	if u == nil {
		return
	}
	prompt, output, total := u.PromptTokens, u.CompletionTokens, u.TotalTokens
	m.PromptTokens = &prompt
	m.OutputTokens = &output
	m.TotalTokens = &total
}

// ErrorResponse describes an LLM-reported failure.
type ErrorResponse struct {
	Client    string         `json:"client"`
	Prompt    RenderedPrompt `json:"prompt"`
	Model     string         `json:"model,omitempty"`
	StartTime time.Time      `json:"start_time"`
	Latency   time.Duration  `json:"latency"`
	Message   string         `json:"message"`
	Code      ErrorCode      `json:"code"`
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// IsCompleteFinishReason reports whether a finish reason means the model
// stopped on its own. An absent reason counts as complete.
func IsCompleteFinishReason(reason string) bool {
	return reason == "" || reason == "stop"
}
