package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTwilioClientDial(t *testing.T) {
	var gotPath, gotUser, gotPass string
	var gotForm map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostFormValue(k)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid": "CA999", "status": "queued"}`))
	}))
	defer srv.Close()

	client := NewTwilioClient("AC123", "secret", "+15550009999", WithTwilioBaseURL(srv.URL))
	res, err := client.Dial(context.Background(), DialRequest{
		To:                "+15550001111",
		VoiceURL:          "https://example.com/twilio/voice",
		StatusCallbackURL: "https://example.com/twilio/status",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.CallSID != "CA999" || res.Status != "queued" {
		t.Fatalf("result = %+v", res)
	}
	if want := "/2010-04-01/Accounts/AC123/Calls.json"; gotPath != want {
		t.Fatalf("path = %q, want %q", gotPath, want)
	}
	if gotUser != "AC123" || gotPass != "secret" {
		t.Fatalf("basic auth = %q/%q", gotUser, gotPass)
	}
	if gotForm["To"] != "+15550001111" || gotForm["From"] != "+15550009999" {
		t.Fatalf("form = %v", gotForm)
	}
	if gotForm["Url"] != "https://example.com/twilio/voice" {
		t.Fatalf("form = %v", gotForm)
	}
	if gotForm["StatusCallback"] != "https://example.com/twilio/status" {
		t.Fatalf("form = %v", gotForm)
	}
}

func TestTwilioClientDialAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": 21211, "message": "Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	client := NewTwilioClient("AC123", "secret", "+15550009999", WithTwilioBaseURL(srv.URL))
	_, err := client.Dial(context.Background(), DialRequest{To: "+1555", VoiceURL: "https://example.com/v"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "21211") {
		t.Fatalf("error = %v, want twilio error code", err)
	}
}

func TestTwilioClientDialRequiresTarget(t *testing.T) {
	client := NewTwilioClient("AC123", "secret", "+15550009999")
	if _, err := client.Dial(context.Background(), DialRequest{}); err == nil {
		t.Fatalf("expected error")
	}
}
