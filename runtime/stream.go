package runtime

import (
	"sync"

	"github.com/aschepis/backscratcher/llmcore/calllog"
	"github.com/aschepis/backscratcher/llmcore/llm"
)

// recordingStream wraps a ResponseStream and records its outcome once, when
// the stream is exhausted, fails, or is closed.
type recordingStream struct {
	stream llm.ResponseStream
	call   calllog.Call
	record func(calllog.Entry)

	once sync.Once

	mu   sync.Mutex
	last *llm.CompleteResponse
}

// Next implements llm.ResponseStream.Next.
func (s *recordingStream) Next() bool {
	if !s.stream.Next() {
		s.finish()
		return false
	}
	current := s.stream.Current()
	s.mu.Lock()
	s.last = current
	s.mu.Unlock()
	return true
}

// Current implements llm.ResponseStream.Current.
func (s *recordingStream) Current() *llm.CompleteResponse {
	return s.stream.Current()
}

// Err implements llm.ResponseStream.Err.
func (s *recordingStream) Err() error {
	return s.stream.Err()
}

// Close implements llm.ResponseStream.Close.
func (s *recordingStream) Close() error {
	err := s.stream.Close()
	s.finish()
	return err
}

func (s *recordingStream) finish() {
	s.once.Do(func() {
		if err := s.stream.Err(); err != nil {
			s.record(s.call.Outcome(llm.Result{}, err))
			return
		}
		s.mu.Lock()
		last := s.last
		s.mu.Unlock()
		if last == nil {
			last = &llm.CompleteResponse{Client: s.call.Client, Prompt: s.call.Prompt, StartTime: s.call.StartedAt}
		}
		s.record(s.call.Outcome(llm.Succeeded(last), nil))
	})
}

// Ensure recordingStream implements llm.ResponseStream
var _ llm.ResponseStream = (*recordingStream)(nil)
