package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dialbridge/internal/callstore"
	"dialbridge/internal/observability"
	"dialbridge/internal/queue"
	"dialbridge/internal/retry"
)

const defaultBatchSize = 20

// FailureHandler decides what happens to a call after a failed dispatch.
// Satisfied by retry.Scheduler.
type FailureHandler interface {
	HandleFailure(ctx context.Context, callRecordID, failureReason, errorMessage string) (retry.Result, error)
}

// Worker polls the queue for due entries and dispatches them. It also sweeps
// the store for retry_scheduled records that lost their queue entry, so a
// queue outage delays retries instead of losing them.
type Worker struct {
	queue    queue.Queue
	store    callstore.Store
	disp     *Dispatcher
	failures FailureHandler
	interval time.Duration
	batch    int
	metrics  *observability.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewWorker(q queue.Queue, store callstore.Store, disp *Dispatcher, failures FailureHandler, interval time.Duration, metrics *observability.Metrics, log *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		queue:    q,
		store:    store,
		disp:     disp,
		failures: failures,
		interval: interval,
		batch:    defaultBatchSize,
		metrics:  metrics,
		log:      log.With("component", "dispatch_worker"),
		now:      time.Now,
	}
}

// Run blocks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("dispatch worker started", "interval", w.interval.String())
	for {
		select {
		case <-ctx.Done():
			w.log.Info("dispatch worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle. Exported so the serve path can trigger an
// immediate cycle after scheduling work.
func (w *Worker) Tick(ctx context.Context) {
	now := w.now().UTC()
	w.reconcile(ctx, now)

	entries, err := w.queue.ClaimDue(ctx, now, w.batch)
	if err != nil {
		w.log.Error("queue claim failed", "error", err)
		w.countQueueErr("claim")
		return
	}
	for _, e := range entries {
		w.dispatchEntry(ctx, e)
	}
}

func (w *Worker) dispatchEntry(ctx context.Context, e queue.Entry) {
	log := w.log.With("campaign_id", e.CampaignID, "contact_id", e.ContactID, "call_id", e.CallRecordID)

	var res Result
	var err error
	if e.CallRecordID != "" {
		res, err = w.disp.Redispatch(ctx, e.CallRecordID)
	} else {
		res, err = w.disp.Dispatch(ctx, Request{
			CampaignID:  e.CampaignID,
			ContactID:   e.ContactID,
			AgentID:     e.AgentID,
			PhoneNumber: e.PhoneNumber,
		})
	}
	if err != nil {
		log.Error("dispatch failed", "error", err)
		if qerr := w.queue.MarkFailed(ctx, e.CampaignID, e.ContactID, err.Error()); qerr != nil && !errors.Is(qerr, queue.ErrNotFound) {
			w.countQueueErr("mark_failed")
		}
		if res.CallRecordID != "" && w.failures != nil {
			// Dial rejections are provider-side faults; the scheduler
			// decides whether the call gets another attempt.
			if _, herr := w.failures.HandleFailure(ctx, res.CallRecordID, "network_error", err.Error()); herr != nil {
				log.Error("failure handling failed", "error", herr)
			}
		}
		return
	}

	if err := w.queue.Complete(ctx, e.CampaignID, e.ContactID); err != nil && !errors.Is(err, queue.ErrNotFound) {
		w.countQueueErr("complete")
	}
	log.Info("queued call dispatched", "call_sid", res.CallSID)
}

// reconcile re-creates queue entries for due retry_scheduled records that
// have none, and directly redials due records that cannot live in the queue
// for lack of a (campaign, contact) pair.
func (w *Worker) reconcile(ctx context.Context, now time.Time) {
	records, err := w.store.ListRetryScheduled(ctx, now, w.batch)
	if err != nil {
		w.log.Error("retry sweep failed", "error", err)
		return
	}
	for _, rec := range records {
		if rec.CampaignID == "" || rec.ContactID == "" {
			if _, err := w.disp.Redispatch(ctx, rec.ID); err != nil {
				w.log.Error("retry redispatch failed", "call_id", rec.ID, "error", err)
				if w.failures != nil {
					if _, herr := w.failures.HandleFailure(ctx, rec.ID, "network_error", err.Error()); herr != nil {
						w.log.Error("failure handling failed", "call_id", rec.ID, "error", herr)
					}
				}
			}
			continue
		}

		if _, err := w.queue.Get(ctx, rec.CampaignID, rec.ContactID); err == nil {
			continue
		} else if !errors.Is(err, queue.ErrNotFound) {
			w.countQueueErr("get")
			continue
		}

		scheduledAt := now
		if rec.NextRetryAt != nil {
			scheduledAt = *rec.NextRetryAt
		}
		entry := queue.Entry{
			CampaignID:   rec.CampaignID,
			ContactID:    rec.ContactID,
			CallRecordID: rec.ID,
			AgentID:      rec.AgentID,
			PhoneNumber:  rec.PhoneNumber,
			Priority:     retry.PriorityForRetry(rec.RetryCount),
			ScheduledAt:  scheduledAt,
			Status:       queue.StatusPending,
			Attempts:     rec.RetryCount,
		}
		if err := w.queue.Upsert(ctx, entry); err != nil {
			w.log.Error("retry entry restore failed", "call_id", rec.ID, "error", err)
			w.countQueueErr("upsert")
			continue
		}
		w.log.Info("retry entry restored", "call_id", rec.ID, "campaign_id", rec.CampaignID, "contact_id", rec.ContactID)
	}
}

func (w *Worker) countQueueErr(op string) {
	if w.metrics != nil {
		w.metrics.QueueErrors.WithLabelValues(op).Inc()
	}
}

// Ensure the scheduler satisfies the handler contract.
var _ FailureHandler = (*retry.Scheduler)(nil)
