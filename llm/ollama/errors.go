package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/ollama/ollama/api"
)

// classifyError sorts an error returned by the api.Client. Server-reported
// errors become failures; connection and decoding faults stay hard errors.
func (c *Client) classifyError(err error, prompt llm.RenderedPrompt, model string, start time.Time) (*llm.ErrorResponse, error) {
	failure := func(message string, code llm.ErrorCode) *llm.ErrorResponse {
		return &llm.ErrorResponse{
			Client:    c.name,
			Prompt:    prompt,
			Model:     model,
			StartTime: start,
			Latency:   time.Since(start),
			Message:   fmt.Sprintf("API Error (ollama): %s", message),
			Code:      code,
		}
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		message := statusErr.ErrorMessage
		if message == "" {
			message = statusErr.Status
		}
		return failure(message, llm.ErrorCodeFromStatus(statusErr.StatusCode)), nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, llm.NewFetchError(c.name, "request interrupted", err)
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return nil, llm.NewFetchError(c.name, "failed to make request", err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return nil, llm.NewDecodeError(c.name, "failed to parse event", err)
	}

	return failure(err.Error(), llm.ErrorCodeOther(0)), nil
}

// asError converts a classification into a single error return.
func asError(failure *llm.ErrorResponse, err error) error {
	if err != nil {
		return err
	}
	return &llm.FailureError{Response: failure}
}
