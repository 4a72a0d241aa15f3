package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"dialbridge/internal/callstore"
	"dialbridge/internal/observability"
	"dialbridge/internal/telephony"
)

// Request asks for one outbound call. PhoneNumber may be left empty when
// ContactID is set; the contact's number is used then.
type Request struct {
	Owner       string `json:"owner,omitempty"`
	CampaignID  string `json:"campaignId,omitempty"`
	ContactID   string `json:"contactId,omitempty"`
	AgentID     string `json:"agentId"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type Result struct {
	CallRecordID string           `json:"callRecordId"`
	CallSID      string           `json:"callSid"`
	Status       callstore.Status `json:"status"`
}

// Dispatcher creates call records and starts the provider leg for them. It
// does not decide retries; failures bubble up to the caller.
type Dispatcher struct {
	store   callstore.Store
	dialer  telephony.Dialer
	baseURL string
	metrics *observability.Metrics
	log     *slog.Logger
}

func NewDispatcher(store callstore.Store, dialer telephony.Dialer, publicBaseURL string, metrics *observability.Metrics, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		dialer:  dialer,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		metrics: metrics,
		log:     log.With("component", "dispatcher"),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	if req.AgentID == "" {
		return Result{}, errors.New("dispatch: agent id required")
	}
	if _, err := d.store.GetAgent(ctx, req.AgentID); err != nil {
		return Result{}, fmt.Errorf("dispatch: agent %s: %w", req.AgentID, err)
	}

	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" && req.ContactID != "" {
		contact, err := d.store.GetContact(ctx, req.ContactID)
		if err != nil {
			return Result{}, fmt.Errorf("dispatch: contact %s: %w", req.ContactID, err)
		}
		phone = strings.TrimSpace(contact.PhoneNumber)
	}
	if phone == "" {
		return Result{}, errors.New("dispatch: no phone number for call")
	}

	rec, err := d.store.CreateCall(ctx, callstore.CallRecord{
		Owner:       req.Owner,
		CampaignID:  req.CampaignID,
		ContactID:   req.ContactID,
		AgentID:     req.AgentID,
		PhoneNumber: phone,
		Status:      callstore.StatusInitiated,
	})
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: create call record: %w", err)
	}
	return d.dial(ctx, rec)
}

// Redispatch dials an existing record again, typically one in
// retry_scheduled. The record keeps its retry count.
func (d *Dispatcher) Redispatch(ctx context.Context, callRecordID string) (Result, error) {
	rec, err := d.store.GetCall(ctx, callRecordID)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: load call record %s: %w", callRecordID, err)
	}
	if rec.PhoneNumber == "" {
		return Result{}, fmt.Errorf("dispatch: record %s has no phone number", callRecordID)
	}
	if err := d.store.UpdateCallStatus(ctx, rec.ID, callstore.StatusInitiated, nil); err != nil {
		return Result{}, fmt.Errorf("dispatch: reset record %s: %w", callRecordID, err)
	}
	return d.dial(ctx, rec)
}

func (d *Dispatcher) dial(ctx context.Context, rec callstore.CallRecord) (Result, error) {
	res, err := d.dialer.Dial(ctx, telephony.DialRequest{
		To:                rec.PhoneNumber,
		VoiceURL:          d.baseURL + "/twilio/voice?call_record_id=" + url.QueryEscape(rec.ID),
		StatusCallbackURL: d.baseURL + "/twilio/status",
	})
	if err != nil {
		d.countDispatch("dial_error")
		return Result{CallRecordID: rec.ID}, fmt.Errorf("dispatch: dial %s: %w", rec.ID, err)
	}
	if err := d.store.SetCallSID(ctx, rec.ID, res.CallSID); err != nil {
		d.log.Warn("call sid not persisted", "call_id", rec.ID, "call_sid", res.CallSID, "error", err)
	}
	d.countDispatch("ok")
	d.log.Info("call dispatched", "call_id", rec.ID, "call_sid", res.CallSID)
	return Result{CallRecordID: rec.ID, CallSID: res.CallSID, Status: callstore.StatusInitiated}, nil
}

func (d *Dispatcher) countDispatch(result string) {
	if d.metrics != nil {
		d.metrics.DispatchTotal.WithLabelValues(result).Inc()
	}
}
