package callstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	calls     map[string]*CallRecord
	turns     map[string][]ConversationTurn
	agents    map[string]AgentConfig
	contacts  map[string]Contact
	campaigns map[string]Campaign
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		calls:     make(map[string]*CallRecord),
		turns:     make(map[string][]ConversationTurn),
		agents:    make(map[string]AgentConfig),
		contacts:  make(map[string]Contact),
		campaigns: make(map[string]Campaign),
	}
}

func (s *InMemoryStore) CreateCall(_ context.Context, rec CallRecord) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = StatusInitiated
	}
	c := rec
	s.calls[rec.ID] = &c
	return rec, nil
}

func (s *InMemoryStore) GetCall(_ context.Context, id string) (CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.calls[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return *rec, nil
}

func (s *InMemoryStore) GetCallBySID(_ context.Context, callSID string) (CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.calls {
		if rec.CallSID == callSID && callSID != "" {
			return *rec, nil
		}
	}
	return CallRecord{}, ErrNotFound
}

func (s *InMemoryStore) UpdateCallStatus(_ context.Context, id string, status Status, startedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	if startedAt != nil {
		t := *startedAt
		rec.StartTime = &t
	}
	return nil
}

func (s *InMemoryStore) SetCallSID(_ context.Context, id, callSID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	rec.CallSID = callSID
	return nil
}

func (s *InMemoryStore) MarkCallFailed(_ context.Context, id, failureReason, errorMessage string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = StatusFailed
	rec.FailureReason = failureReason
	rec.ErrorMessage = errorMessage
	rec.LastErrorAt = &at
	rec.NextRetryAt = nil
	return nil
}

func (s *InMemoryStore) ScheduleCallRetry(_ context.Context, id string, retryCount int, nextRetryAt time.Time, failureReason, errorMessage string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = StatusRetryScheduled
	if retryCount > rec.RetryCount {
		rec.RetryCount = retryCount
	}
	rec.NextRetryAt = &nextRetryAt
	rec.FailureReason = failureReason
	rec.ErrorMessage = errorMessage
	rec.LastErrorAt = &at
	return nil
}

func (s *InMemoryStore) ListRetryScheduled(_ context.Context, before time.Time, limit int) ([]CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var out []CallRecord
	for _, rec := range s.calls {
		if rec.Status != StatusRetryScheduled || rec.NextRetryAt == nil {
			continue
		}
		if rec.NextRetryAt.After(before) {
			continue
		}
		out = append(out, *rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) AppendTurn(_ context.Context, turn ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns[turn.CallID] = append(s.turns[turn.CallID], turn)
	return nil
}

func (s *InMemoryStore) TurnsForCall(_ context.Context, callID string) ([]ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[callID]
	out := make([]ConversationTurn, len(arr))
	copy(out, arr)
	return out, nil
}

// PutAgent seeds an agent configuration; used by tests and local setups.
func (s *InMemoryStore) PutAgent(a AgentConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
}

func (s *InMemoryStore) PutContact(c Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
}

func (s *InMemoryStore) PutCampaign(c Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
}

func (s *InMemoryStore) GetAgent(_ context.Context, id string) (AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return AgentConfig{}, ErrNotFound
	}
	return a, nil
}

func (s *InMemoryStore) GetContact(_ context.Context, id string) (Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemoryStore) GetCampaign(_ context.Context, id string) (Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemoryStore) Close() error { return nil }
