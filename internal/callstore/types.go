package callstore

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of one call attempt.
type Status string

const (
	StatusInitiated      Status = "initiated"
	StatusRinging        Status = "ringing"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusRetryScheduled Status = "retry_scheduled"
)

const (
	SpeakerCustomer = "customer"
	SpeakerAgent    = "agent"
)

var ErrNotFound = errors.New("record not found")

// CallRecord is the durable record of one outbound or inbound call attempt.
// NextRetryAt is set if and only if Status is retry_scheduled.
type CallRecord struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	CampaignID  string     `json:"campaign_id,omitempty"`
	ContactID   string     `json:"contact_id,omitempty"`
	AgentID     string     `json:"agent_id,omitempty"`
	PhoneNumber string     `json:"phone_number"`
	CallSID     string     `json:"call_sid,omitempty"`
	Status      Status     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
}

// ConversationTurn is one logged utterance. Append-only.
type ConversationTurn struct {
	ID        string    `json:"id"`
	CallID    string    `json:"call_id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentConfig is the static conversational configuration. Owned and mutated
// by the dashboard; read-only here.
type AgentConfig struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	VoiceID        string `json:"voice_id"`
	OpeningMessage string `json:"opening_message"`
	Personality    string `json:"personality"`
	KnowledgeBase  string `json:"knowledge_base"`
	SystemPrompt   string `json:"system_prompt"`
}

type Contact struct {
	ID          string `json:"id"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Company     string `json:"company"`
	PhoneNumber string `json:"phone_number"`
}

type Campaign struct {
	ID              string `json:"id"`
	Owner           string `json:"owner"`
	Name            string `json:"name"`
	CustomScript    string `json:"custom_script"`
	CustomKnowledge string `json:"custom_knowledge"`
}

// Store persists call records, transcripts and the read-only configuration
// entities the relay needs at session start.
type Store interface {
	CreateCall(ctx context.Context, rec CallRecord) (CallRecord, error)
	GetCall(ctx context.Context, id string) (CallRecord, error)
	GetCallBySID(ctx context.Context, callSID string) (CallRecord, error)
	UpdateCallStatus(ctx context.Context, id string, status Status, startedAt *time.Time) error
	SetCallSID(ctx context.Context, id, callSID string) error
	MarkCallFailed(ctx context.Context, id, failureReason, errorMessage string, at time.Time) error
	ScheduleCallRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, failureReason, errorMessage string, at time.Time) error
	ListRetryScheduled(ctx context.Context, before time.Time, limit int) ([]CallRecord, error)

	AppendTurn(ctx context.Context, turn ConversationTurn) error
	TurnsForCall(ctx context.Context, callID string) ([]ConversationTurn, error)

	GetAgent(ctx context.Context, id string) (AgentConfig, error)
	GetContact(ctx context.Context, id string) (Contact, error)
	GetCampaign(ctx context.Context, id string) (Campaign, error)

	Close() error
}
