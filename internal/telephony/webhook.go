package telephony

import (
	"net/http"
	"strings"
)

// VoiceWebhook captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
type VoiceWebhook struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
}

func ParseVoiceWebhook(r *http.Request) (VoiceWebhook, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceWebhook{}, err
	}
	return VoiceWebhook{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       strings.TrimSpace(r.PostFormValue("From")),
		To:         strings.TrimSpace(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
	}, nil
}

// StatusCallback is the terminal-status callback for a call leg.
type StatusCallback struct {
	CallSid      string
	CallStatus   string
	CallDuration string
	From         string
	To           string
	ErrorCode    string
}

func ParseStatusCallback(r *http.Request) (StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, err
	}
	return StatusCallback{
		CallSid:      r.PostFormValue("CallSid"),
		CallStatus:   r.PostFormValue("CallStatus"),
		CallDuration: r.PostFormValue("CallDuration"),
		From:         strings.TrimSpace(r.PostFormValue("From")),
		To:           strings.TrimSpace(r.PostFormValue("To")),
		ErrorCode:    r.PostFormValue("ErrorCode"),
	}, nil
}

// IsTerminalFailure reports whether a callback status means the leg ended
// without ever reaching a conversation.
func (s StatusCallback) IsTerminalFailure() bool {
	switch s.CallStatus {
	case "busy", "no-answer", "failed", "canceled":
		return true
	}
	return false
}

// FailureReason normalizes the provider status into the vocabulary the
// retry policy understands.
func (s StatusCallback) FailureReason() string {
	switch s.CallStatus {
	case "busy":
		return "busy"
	case "no-answer":
		return "no-answer"
	case "canceled":
		return "failed"
	default:
		return "failed"
	}
}
