package llm

import (
	"time"
)

// StreamDelta is one decoded streaming event, normalized across providers.
type StreamDelta struct {
	Index        int
	FinishReason string
	Role         string
	Content      string
	Model        string
	Usage        *Usage
}

// Accumulator folds stream deltas into a growing response. It is owned by a
// single stream's drive loop and is not safe for concurrent use.
type Accumulator struct {
	current CompleteResponse
	now     func() time.Time
}

// NewAccumulator starts a fold for a call dispatched at start.
func NewAccumulator(client string, prompt RenderedPrompt, start time.Time) *Accumulator {
	return &Accumulator{
		current: CompleteResponse{
			Client:    client,
			Prompt:    prompt,
			StartTime: start,
		},
		now: time.Now,
	}
}

// Apply folds one delta in. It returns a copy of the accumulated response and
// whether the delta changed it: content was appended, or a finish reason or
// usage arrived. Deltas that change nothing (role-only, keep-alive) are not
// meant to be emitted.
func (a *Accumulator) Apply(d StreamDelta) (CompleteResponse, bool) {
	changed := false
	if d.Content != "" {
		a.current.Content += d.Content
		if d.Model != "" {
			a.current.Model = d.Model
		}
		changed = true
	}
	if d.FinishReason != "" && d.FinishReason != a.current.Metadata.FinishReason {
		a.current.Metadata.FinishReason = d.FinishReason
		a.current.Metadata.IsComplete = d.FinishReason == "stop"
		changed = true
	}
	if d.Usage != nil {
		a.current.Metadata.SetUsage(d.Usage)
		changed = true
	}
	if changed {
		a.current.Latency = a.now().Sub(a.current.StartTime)
	}
	return a.Snapshot(), changed
}

// Snapshot returns a copy of the accumulated response.
func (a *Accumulator) Snapshot() CompleteResponse {
	out := a.current
	out.Metadata.PromptTokens = copyInt(a.current.Metadata.PromptTokens)
	out.Metadata.OutputTokens = copyInt(a.current.Metadata.OutputTokens)
	out.Metadata.TotalTokens = copyInt(a.current.Metadata.TotalTokens)
	return out
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
