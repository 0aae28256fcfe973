package ollama

import (
	"context"
	"sync"
	"time"

	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/ollama/ollama/api"
)

// completionStream implements llm.ResponseStream over the callback-driven
// api.Client.Generate. A goroutine feeds responses through a channel; Next
// pulls them and folds them into the accumulator.
type completionStream struct {
	client *Client
	req    *api.GenerateRequest
	prompt llm.RenderedPrompt
	start  time.Time
	acc    *llm.Accumulator

	ctx    context.Context
	cancel context.CancelFunc
	events chan api.GenerateResponse
	errc   chan error

	mu      sync.Mutex
	pending *api.GenerateResponse
	current *llm.CompleteResponse
	err     error
	done    bool
}

func newCompletionStream(ctx context.Context, c *Client, req *api.GenerateRequest, prompt llm.RenderedPrompt, start time.Time) *completionStream {
	ctx, cancel := context.WithCancel(ctx)
	return &completionStream{
		client: c,
		req:    req,
		prompt: prompt,
		start:  start,
		acc:    llm.NewAccumulator(c.name, prompt, start),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan api.GenerateResponse),
		errc:   make(chan error, 1),
	}
}

// open starts the request and waits for the first response or the error
// that ended the request.
func (s *completionStream) open() error {
	go s.run()

	first, ok := <-s.events
	if !ok {
		s.cancel()
		err := <-s.errc
		if err == nil {
			s.done = true
			return nil
		}
		return asError(s.client.classifyError(err, s.prompt, s.req.Model, s.start))
	}
	s.pending = &first
	return nil
}

func (s *completionStream) run() {
	err := s.client.api.Generate(s.ctx, s.req, func(resp api.GenerateResponse) error {
		select {
		case s.events <- resp:
			return nil
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	})
	s.errc <- err
	close(s.events)
}

// Next blocks until a response changes the accumulated result, the server
// finishes, or an error ends the stream.
func (s *completionStream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done || s.err != nil {
		return false
	}

	for {
		var resp api.GenerateResponse
		if s.pending != nil {
			resp, s.pending = *s.pending, nil
		} else {
			var ok bool
			resp, ok = <-s.events
			if !ok {
				s.finish(<-s.errc)
				return false
			}
		}

		partial, changed := s.acc.Apply(toDelta(resp))
		if changed {
			s.current = &partial
			return true
		}
	}
}

func (s *completionStream) finish(err error) {
	s.done = true
	s.cancel()
	if err == nil {
		return
	}
	s.err = asError(s.client.classifyError(err, s.prompt, s.req.Model, s.start))
}

// Current returns the response accumulated up to the last successful Next.
func (s *completionStream) Current() *llm.CompleteResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Err returns the error that ended the stream, if any.
func (s *completionStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the request. It is safe to call more than once.
func (s *completionStream) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	return nil
}

var _ llm.ResponseStream = (*completionStream)(nil)
