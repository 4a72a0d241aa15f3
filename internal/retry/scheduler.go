package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dialbridge/internal/callstore"
	"dialbridge/internal/observability"
	"dialbridge/internal/queue"
)

// Outcome reports what the scheduler did with a failed call.
type Outcome string

const (
	OutcomeMarkedFailed   Outcome = "marked_failed"
	OutcomeRetryScheduled Outcome = "retry_scheduled"
)

// Result is returned to the caller of HandleFailure.
type Result struct {
	Action      Outcome    `json:"action"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	RetryCount  int        `json:"retry_count,omitempty"`
}

// Scheduler is the sole authority on retry decisions. Callers (the relay, the
// status webhook) only report terminal failures with a reason.
type Scheduler struct {
	store   callstore.Store
	queue   queue.Queue
	policy  Policy
	metrics *observability.Metrics
	log     *slog.Logger
	now     func() time.Time
}

func NewScheduler(store callstore.Store, q queue.Queue, policy Policy, metrics *observability.Metrics, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:   store,
		queue:   q,
		policy:  policy,
		metrics: metrics,
		log:     log.With("component", "retry_scheduler"),
		now:     time.Now,
	}
}

// WithClock overrides the scheduler's clock; tests use a fixed time.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// HandleFailure evaluates the retry policy for callRecordID and either marks
// the record failed or schedules the next attempt. The record update is
// authoritative; the queue upsert is best-effort and a failure there is
// logged, never rolled back.
func (s *Scheduler) HandleFailure(ctx context.Context, callRecordID, failureReason, errorMessage string) (Result, error) {
	rec, err := s.store.GetCall(ctx, callRecordID)
	if err != nil {
		return Result{}, fmt.Errorf("load call record %s: %w", callRecordID, err)
	}

	now := s.now().UTC()
	decision := s.policy.Decide(failureReason, errorMessage, rec.RetryCount)

	if !decision.Retry {
		if err := s.store.MarkCallFailed(ctx, rec.ID, failureReason, errorMessage, now); err != nil {
			return Result{}, fmt.Errorf("mark call failed: %w", err)
		}
		s.failQueueEntry(ctx, rec, errorMessage)
		s.countOutcome(OutcomeMarkedFailed)
		s.log.Info("call marked failed",
			"call_id", rec.ID, "reason", failureReason, "retry_count", rec.RetryCount)
		return Result{Action: OutcomeMarkedFailed, RetryCount: rec.RetryCount}, nil
	}

	newCount := rec.RetryCount + 1
	nextRetryAt := now.Add(decision.Delay)
	if err := s.store.ScheduleCallRetry(ctx, rec.ID, newCount, nextRetryAt, failureReason, errorMessage, now); err != nil {
		return Result{}, fmt.Errorf("schedule call retry: %w", err)
	}

	s.upsertQueueEntry(ctx, rec, newCount, nextRetryAt)
	s.countOutcome(OutcomeRetryScheduled)
	s.log.Info("call retry scheduled",
		"call_id", rec.ID, "reason", failureReason, "retry_count", newCount, "next_retry_at", nextRetryAt)
	return Result{Action: OutcomeRetryScheduled, NextRetryAt: &nextRetryAt, RetryCount: newCount}, nil
}

func (s *Scheduler) upsertQueueEntry(ctx context.Context, rec callstore.CallRecord, attempts int, scheduledAt time.Time) {
	if rec.ContactID == "" || rec.CampaignID == "" {
		// Ad-hoc calls have no (contact, campaign) key and are never
		// re-dispatched through the queue.
		return
	}
	err := s.queue.Upsert(ctx, queue.Entry{
		CampaignID:   rec.CampaignID,
		ContactID:    rec.ContactID,
		CallRecordID: rec.ID,
		AgentID:      rec.AgentID,
		PhoneNumber:  rec.PhoneNumber,
		Priority:     PriorityForRetry(attempts),
		ScheduledAt:  scheduledAt,
		Status:       queue.StatusPending,
		Attempts:     attempts,
		MaxAttempts:  s.policy.MaxRetries,
	})
	if err != nil {
		// The record already says retry_scheduled; the reconciliation sweep
		// picks the call up if the queue write was lost.
		s.log.Error("queue upsert failed", "call_id", rec.ID, "error", err)
		if s.metrics != nil {
			s.metrics.QueueErrors.WithLabelValues("upsert").Inc()
		}
	}
}

func (s *Scheduler) failQueueEntry(ctx context.Context, rec callstore.CallRecord, errMsg string) {
	if rec.ContactID == "" || rec.CampaignID == "" {
		return
	}
	err := s.queue.MarkFailed(ctx, rec.CampaignID, rec.ContactID, errMsg)
	if err != nil && err != queue.ErrNotFound {
		s.log.Error("queue mark failed errored", "call_id", rec.ID, "error", err)
		if s.metrics != nil {
			s.metrics.QueueErrors.WithLabelValues("mark_failed").Inc()
		}
	}
}

func (s *Scheduler) countOutcome(o Outcome) {
	if s.metrics != nil {
		s.metrics.RetryOutcomes.WithLabelValues(string(o)).Inc()
	}
}
