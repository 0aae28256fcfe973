package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/llmcore/llm"
)

// errorEnvelope is the body of an Anthropic error response:
// {"type":"error","error":{"type":"...","message":"..."}}.
type errorEnvelope struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// classifyError sorts an error returned by the SDK. API errors become
// failures, unless their body is not an Anthropic error envelope; connection
// and decoding faults stay hard errors.
func (c *Client) classifyError(err error, prompt llm.RenderedPrompt, start time.Time) (*llm.ErrorResponse, error) {
	failure := func(message string, code llm.ErrorCode) *llm.ErrorResponse {
		return &llm.ErrorResponse{
			Client:    c.name,
			Prompt:    prompt,
			StartTime: start,
			Latency:   time.Since(start),
			Message:   message,
			Code:      code,
		}
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		raw := apiErr.RawJSON()
		var envelope errorEnvelope
		if jsonErr := json.Unmarshal([]byte(raw), &envelope); jsonErr != nil || envelope.Error == nil {
			if jsonErr == nil {
				jsonErr = errors.New("missing error object")
			}
			return nil, llm.NewConfigError(c.name,
				fmt.Sprintf("HTTP %d response does not conform to expected provider error shape: %s", apiErr.StatusCode, truncate(raw)),
				jsonErr)
		}
		return failure(
			fmt.Sprintf("API Error (%s): %s", envelope.Error.Type, envelope.Error.Message),
			llm.ErrorCodeFromStatus(apiErr.StatusCode),
		), nil
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

	// An error event inside an open stream.
	return failure(fmt.Sprintf("API Error (anthropic): %s", streamErrorMessage(err)), llm.ErrorCodeOther(200)), nil
}

// streamErrorMessage extracts the message of an in-stream error event when
// the SDK reports its payload, falling back to the error text.
func streamErrorMessage(err error) string {
	text := err.Error()
	if i := strings.Index(text, "{"); i >= 0 {
		var envelope errorEnvelope
		if json.Unmarshal([]byte(text[i:]), &envelope) == nil && envelope.Error != nil {
			return envelope.Error.Message
		}
	}
	return text
}

// asError converts a classification into a single error return.
func asError(failure *llm.ErrorResponse, err error) error {
	if err != nil {
		return err
	}
	return &llm.FailureError{Response: failure}
}

const maxBodyInError = 512

func truncate(body string) string {
	if len(body) <= maxBodyInError {
		return body
	}
	return body[:maxBodyInError] + "..."
}
