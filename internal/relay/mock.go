package relay

import (
	"context"
	"sync"
)

// MockProvider hands out a pre-built scripted session; used by tests and
// local development without AI backend credentials.
type MockProvider struct {
	mu       sync.Mutex
	session  *MockSession
	startErr error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{session: NewMockSession()}
}

func (p *MockProvider) FailStart(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startErr = err
}

func (p *MockProvider) Session() *MockSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

func (p *MockProvider) StartSession(_ context.Context, _ string) (RealtimeSession, <-chan any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return nil, nil, p.startErr
	}
	return p.session, p.session.events, nil
}

// MockSession records outbound messages and lets the caller script inbound
// events.
type MockSession struct {
	mu        sync.Mutex
	sent      []any
	closed    bool
	closeOnce sync.Once
	events    chan any
}

func NewMockSession() *MockSession {
	return &MockSession{events: make(chan any, 256)}
}

func (s *MockSession) Send(_ context.Context, msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

// Emit delivers one scripted inbound event to the relay.
func (s *MockSession) Emit(evt any) {
	s.events <- evt
}

func (s *MockSession) Sent() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MockSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.events)
	})
	return nil
}
