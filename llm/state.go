package llm

import (
	"errors"
	"sync"
)

var errNilState = errors.New("client state is not initialized")

// ClientState holds diagnostics shared by every call on one client instance.
// It is created with the client and never reset. It is read for observability
// only; nothing branches on it.
type ClientState struct {
	mu        sync.Mutex
	callCount uint64
}

// NewClientState creates an empty state.
func NewClientState() *ClientState {
	return &ClientState{}
}

// IncrementCallCount records the start of a call. Callers log a returned
// error and carry on.
func (s *ClientState) IncrementCallCount() error {
	if s == nil {
		return errNilState
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callCount++
	return nil
}

// CallCount returns the number of calls started so far.
func (s *ClientState) CallCount() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}
