package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseMediaEventStart(t *testing.T) {
	raw := []byte(`{
		"event": "start",
		"streamSid": "MZ123",
		"start": {
			"accountSid": "AC1",
			"callSid": "CA1",
			"streamSid": "MZ123",
			"tracks": ["inbound"],
			"customParameters": {"call_record_id": "rec-1"},
			"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1}
		}
	}`)
	parsed, err := ParseMediaEvent(raw)
	if err != nil {
		t.Fatalf("ParseMediaEvent: %v", err)
	}
	start, ok := parsed.(MediaStart)
	if !ok {
		t.Fatalf("parsed type = %T, want MediaStart", parsed)
	}
	if start.Start.CallSID != "CA1" {
		t.Fatalf("CallSID = %q, want CA1", start.Start.CallSID)
	}
	if start.Start.CustomParameters["call_record_id"] != "rec-1" {
		t.Fatalf("customParameters = %v", start.Start.CustomParameters)
	}
	if start.Start.MediaFormat.SampleRate != 8000 {
		t.Fatalf("sampleRate = %d, want 8000", start.Start.MediaFormat.SampleRate)
	}
}

func TestParseMediaEventMedia(t *testing.T) {
	raw := []byte(`{"event":"media","streamSid":"MZ123","media":{"track":"inbound","chunk":"2","payload":"c29tZQ=="}}`)
	parsed, err := ParseMediaEvent(raw)
	if err != nil {
		t.Fatalf("ParseMediaEvent: %v", err)
	}
	frame, ok := parsed.(MediaFrame)
	if !ok {
		t.Fatalf("parsed type = %T, want MediaFrame", parsed)
	}
	if frame.Media.Payload != "c29tZQ==" {
		t.Fatalf("payload = %q", frame.Media.Payload)
	}
}

func TestParseMediaEventRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"unknown event", `{"event":"mark"}`},
		{"start missing callSid", `{"event":"start","start":{}}`},
		{"media empty payload", `{"event":"media","media":{}}`},
	}
	for _, tc := range cases {
		if _, err := ParseMediaEvent([]byte(tc.raw)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestParseMediaEventUnknownIsUnsupported(t *testing.T) {
	_, err := ParseMediaEvent([]byte(`{"event":"dtmf"}`))
	if !errors.Is(err, ErrUnsupportedMediaEvent) {
		t.Fatalf("err = %v, want ErrUnsupportedMediaEvent", err)
	}
}

func TestOutboundMediaFrameShape(t *testing.T) {
	frame := NewOutboundMediaFrame("MZ9", "cGF5bG9hZA==")
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["event"] != "media" || m["streamSid"] != "MZ9" {
		t.Fatalf("frame = %s", raw)
	}
	media, _ := m["media"].(map[string]any)
	if media["payload"] != "cGF5bG9hZA==" {
		t.Fatalf("media = %v", media)
	}
}
