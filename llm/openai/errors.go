package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aschepis/backscratcher/llmcore/llm"
	openai "github.com/sashabaranov/go-openai"
)

var errNotErrorShape = errors.New("missing error object")

// decodeErrorPayload decodes the provider error envelope {error:{message, type, code}}.
func decodeErrorPayload(body []byte) (*openai.APIError, error) {
	var envelope openai.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if envelope.Error == nil {
		return nil, errNotErrorShape
	}
	return envelope.Error, nil
}

// errorMessage renders a provider error the way it is surfaced to callers.
func errorMessage(apiErr *openai.APIError) string {
	return fmt.Sprintf("API Error (%s): %s", apiErr.Type, apiErr.Message)
}

// classifyStatusError turns a non-2xx response into an LLM-reported failure.
// A body that is not a provider error envelope is a hard error: the endpoint
// is not speaking the expected protocol.
func (c *Client) classifyStatusError(status int, body []byte, prompt llm.RenderedPrompt, start time.Time, latency time.Duration) (*llm.ErrorResponse, error) {
	apiErr, err := decodeErrorPayload(body)
	if err != nil {
		return nil, llm.NewConfigError(c.name,
			fmt.Sprintf("HTTP %d response does not conform to expected provider error shape: %s", status, truncate(body)),
			err)
	}
	return &llm.ErrorResponse{
		Client:    c.name,
		Prompt:    prompt,
		StartTime: start,
		Latency:   latency,
		Message:   errorMessage(apiErr),
		Code:      llm.ErrorCodeFromStatus(status),
	}, nil
}

const maxBodyInError = 512

func truncate(body []byte) string {
	if len(body) <= maxBodyInError {
		return string(body)
	}
	return string(body[:maxBodyInError]) + "..."
}
