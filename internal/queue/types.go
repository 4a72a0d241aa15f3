package queue

import (
	"context"
	"errors"
	"time"
)

// Status is the dispatch state of a queue entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
)

var ErrNotFound = errors.New("queue entry not found")

// Entry is one pending or retrying dispatch request. Entries are keyed by
// (campaignID, contactID): a new retry for the same pair upserts, it never
// duplicates.
type Entry struct {
	CampaignID   string    `json:"campaign_id"`
	ContactID    string    `json:"contact_id"`
	CallRecordID string    `json:"call_record_id"`
	AgentID      string    `json:"agent_id"`
	PhoneNumber  string    `json:"phone_number"`
	Priority     int       `json:"priority"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Status       Status    `json:"status"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"max_attempts"`
	LastError    string    `json:"last_error,omitempty"`
}

// Queue stores dispatch requests for the call dispatcher.
type Queue interface {
	// Upsert replaces any live entry for the same (campaign, contact) pair.
	Upsert(ctx context.Context, e Entry) error
	Get(ctx context.Context, campaignID, contactID string) (Entry, error)
	// ClaimDue atomically moves up to limit due pending entries to processing
	// and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	// Complete removes an entry after a successful dispatch.
	Complete(ctx context.Context, campaignID, contactID string) error
	MarkFailed(ctx context.Context, campaignID, contactID, errMsg string) error
	Close() error
}
