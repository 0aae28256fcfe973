package anthropic

import (
	"sync"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/rs/zerolog"
)

// chatStream implements llm.ResponseStream over the SDK's Messages event
// stream, folding text deltas into a growing response.
type chatStream struct {
	client *Client
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	prompt llm.RenderedPrompt
	start  time.Time
	acc    *llm.Accumulator
	logger zerolog.Logger

	mu          sync.Mutex
	model       string
	inputTokens int64
	current     *llm.CompleteResponse
	err         error
	done        bool
	closed      bool
}

func newChatStream(c *Client, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], prompt llm.RenderedPrompt, start time.Time) *chatStream {
	return &chatStream{
		client: c,
		stream: stream,
		prompt: prompt,
		start:  start,
		acc:    llm.NewAccumulator(c.name, prompt, start),
		logger: c.logger,
	}
}

// Next advances to the next partial response.
func (s *chatStream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done || s.err != nil {
		return false
	}

	for s.stream.Next() {
		delta, stop := s.toDelta(s.stream.Current())
		if stop {
			s.finish()
			return false
		}
		if resp, changed := s.acc.Apply(delta); changed {
			s.current = &resp
			return true
		}
	}

	if err := s.stream.Err(); err != nil {
		s.err = asError(s.client.classifyError(err, s.prompt, s.start))
	}
	s.finish()
	return false
}

// toDelta normalizes one event. stop reports the end of the message.
func (s *chatStream) toDelta(event anthropic.MessageStreamEventUnion) (llm.StreamDelta, bool) {
	switch evt := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		s.model = string(evt.Message.Model)
		s.inputTokens = evt.Message.Usage.InputTokens

	case anthropic.ContentBlockDeltaEvent:
		if text, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok {
			return llm.StreamDelta{Index: int(evt.Index), Content: text.Text, Model: s.model}, false
		}

	case anthropic.MessageDeltaEvent:
		// Usage on message_delta is cumulative for output tokens.
		input := s.inputTokens
		if evt.Usage.InputTokens > 0 {
			input = evt.Usage.InputTokens
		}
		return llm.StreamDelta{
			FinishReason: finishReason(evt.Delta.StopReason),
			Model:        s.model,
			Usage:        usage(input, evt.Usage.OutputTokens),
		}, false

	case anthropic.MessageStopEvent:
		return llm.StreamDelta{}, true
	}
	return llm.StreamDelta{}, false
}

// Current returns the latest partial response.
func (s *chatStream) Current() *llm.CompleteResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Err returns the error that ended the stream, if any.
func (s *chatStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the connection. It is safe to call more than once.
func (s *chatStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	return s.closeStream()
}

func (s *chatStream) finish() {
	s.done = true
	if err := s.closeStream(); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to close event stream")
	}
}

func (s *chatStream) closeStream() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stream.Close()
}

var _ llm.ResponseStream = (*chatStream)(nil)
