package calllog

import (
	"errors"
	"time"

	"github.com/aschepis/backscratcher/llmcore/llm"
)

// Status is the outcome class of a recorded call.
type Status string

const (
	StatusSuccess Status = "success" // the provider produced content
	StatusFailure Status = "failure" // the provider reported an error
	StatusError   Status = "error"   // the call never produced a provider answer
)

// Entry is one recorded logical call.
type Entry struct {
	ID           string
	Client       string
	Provider     string
	Operation    llm.Capability
	Model        string
	Prompt       llm.RenderedPrompt
	Status       Status
	Content      string
	ErrorCode    string
	ErrorMessage string
	FinishReason string
	IsComplete   bool
	PromptTokens *int
	OutputTokens *int
	TotalTokens  *int
	Latency      time.Duration
	StartedAt    time.Time
	CreatedAt    time.Time
}

// Call describes a logical call before its outcome is known.
type Call struct {
	Client    string
	Provider  string
	Operation llm.Capability
	Prompt    llm.RenderedPrompt
	StartedAt time.Time
}

// Outcome builds the entry for the call's result. A *llm.FailureError is
// recorded as a failure; any other error as an error.
func (c Call) Outcome(result llm.Result, err error) Entry {
	e := Entry{
		Client:    c.Client,
		Provider:  c.Provider,
		Operation: c.Operation,
		Prompt:    c.Prompt,
		StartedAt: c.StartedAt,
	}

	var failureErr *llm.FailureError
	if err != nil && errors.As(err, &failureErr) {
		result, err = llm.Failed(failureErr.Response), nil
	}

	switch {
	case err != nil:
		e.Status = StatusError
		e.ErrorMessage = err.Error()
		if code, ok := llm.CodeOf(err); ok {
			e.ErrorCode = code.String()
		}
		e.Latency = time.Since(c.StartedAt)
	case result.Failure != nil:
		f := result.Failure
		e.Status = StatusFailure
		e.Model = f.Model
		e.ErrorCode = f.Code.String()
		e.ErrorMessage = f.Message
		e.Latency = f.Latency
	case result.Success != nil:
		s := result.Success
		e.Status = StatusSuccess
		e.Model = s.Model
		e.Content = s.Content
		e.FinishReason = s.Metadata.FinishReason
		e.IsComplete = s.Metadata.IsComplete
		e.PromptTokens = s.Metadata.PromptTokens
		e.OutputTokens = s.Metadata.OutputTokens
		e.TotalTokens = s.Metadata.TotalTokens
		e.Latency = s.Latency
	}
	return e
}
