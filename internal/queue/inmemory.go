package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryQueue is an in-process queue for local/dev use and tests.
type InMemoryQueue struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{entries: make(map[string]*Entry)}
}

func (q *InMemoryQueue) Upsert(_ context.Context, e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := e
	q.entries[memberID(e.CampaignID, e.ContactID)] = &c
	return nil
}

func (q *InMemoryQueue) Get(_ context.Context, campaignID, contactID string) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[memberID(campaignID, contactID)]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return *e, nil
}

func (q *InMemoryQueue) ClaimDue(_ context.Context, now time.Time, limit int) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}

	var due []*Entry
	for _, e := range q.entries {
		if e.Status == StatusPending && !e.ScheduledAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]Entry, 0, len(due))
	for _, e := range due {
		e.Status = StatusProcessing
		out = append(out, *e)
	}
	return out, nil
}

func (q *InMemoryQueue) Complete(_ context.Context, campaignID, contactID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, memberID(campaignID, contactID))
	return nil
}

func (q *InMemoryQueue) MarkFailed(_ context.Context, campaignID, contactID, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[memberID(campaignID, contactID)]
	if !ok {
		return ErrNotFound
	}
	e.Status = StatusFailed
	e.LastError = errMsg
	return nil
}

// Len reports the number of stored entries, live or failed. Test helper.
func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *InMemoryQueue) Close() error { return nil }
