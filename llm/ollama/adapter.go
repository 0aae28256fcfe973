package ollama

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/ollama/ollama/api"
)

// headerTransport injects the credential and custom headers into every
// request made by the api.Client.
type headerTransport struct {
	base    http.RoundTripper
	apiKey  string
	headers map[string]string
}

// RoundTrip implements http.RoundTripper.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// buildGenerateRequest decodes the pass-through properties into a generate
// request and sets the prompt. Model parameters belong under "options".
func buildGenerateRequest(props *llm.ResolvedProperties, prompt string, stream bool) (*api.GenerateRequest, error) {
	raw, err := json.Marshal(props.CloneProperties())
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties: %w", err)
	}
	var req api.GenerateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("properties do not form a generate request: %w", err)
	}
	req.Prompt = prompt
	req.Stream = &stream
	return &req, nil
}

// toDelta normalizes one generate response. A done response with no reason
// is treated as a natural stop.
func toDelta(resp api.GenerateResponse) llm.StreamDelta {
	d := llm.StreamDelta{
		Content: resp.Response,
		Model:   resp.Model,
	}
	if resp.Done {
		d.FinishReason = resp.DoneReason
		if d.FinishReason == "" {
			d.FinishReason = "stop"
		}
		d.Usage = &llm.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		}
	}
	return d
}
