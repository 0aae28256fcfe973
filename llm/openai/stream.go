package openai

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/rs/zerolog"
)

var doneMarker = []byte("[DONE]")

// chatStream implements llm.ResponseStream over a server-sent event body.
// Every emitted response is the accumulation of all events so far.
type chatStream struct {
	client  string
	decoder ssestream.Decoder
	acc     *llm.Accumulator
	logger  zerolog.Logger

	mu      sync.Mutex
	current *llm.CompleteResponse
	err     error
	done    bool
	closed  bool
}

func newChatStream(client string, prompt llm.RenderedPrompt, start time.Time, resp *http.Response, logger zerolog.Logger) *chatStream {
	return &chatStream{
		client:  client,
		decoder: ssestream.NewDecoder(resp),
		acc:     llm.NewAccumulator(client, prompt, start),
		logger:  logger,
	}
}

// Next reads events until one changes the accumulated response. It returns
// false at [DONE], at the end of the body, or after the first error.
func (s *chatStream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done || s.err != nil {
		return false
	}

	for s.decoder.Next() {
		data := bytes.TrimSpace(s.decoder.Event().Data)
		if len(data) == 0 {
			continue
		}
		if bytes.Equal(data, doneMarker) {
			s.finish()
			return false
		}

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			s.err = llm.NewDecodeError(s.client, "failed to parse event", err)
			s.finish()
			return false
		}
		if chunk.Error != nil {
			snapshot := s.acc.Snapshot()
			s.err = &llm.FailureError{Response: &llm.ErrorResponse{
				Client:    s.client,
				Prompt:    snapshot.Prompt,
				Model:     snapshot.Model,
				StartTime: snapshot.StartTime,
				Latency:   time.Since(snapshot.StartTime),
				Message:   errorMessage(chunk.Error),
				Code:      llm.ErrorCodeOther(http.StatusOK),
			}}
			s.finish()
			return false
		}

		delta, ok := chunk.delta()
		if !ok {
			continue
		}
		resp, changed := s.acc.Apply(delta)
		if !changed {
			continue
		}
		s.current = &resp
		return true
	}

	if err := s.decoder.Err(); err != nil {
		s.err = llm.NewFetchError(s.client, "failed to read event stream", err)
	}
	s.finish()
	return false
}

// Current returns the response accumulated up to the last successful Next.
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

// Close releases the response body. It is safe to call more than once.
func (s *chatStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	return s.closeDecoder()
}

func (s *chatStream) finish() {
	s.done = true
	if err := s.closeDecoder(); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to close event stream")
	}
}

func (s *chatStream) closeDecoder() error {
	if s.closed || s.decoder == nil {
		return nil
	}
	s.closed = true
	return s.decoder.Close()
}

var _ llm.ResponseStream = (*chatStream)(nil)
