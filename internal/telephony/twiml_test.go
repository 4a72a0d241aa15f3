package telephony

import (
	"strings"
	"testing"
)

func TestStreamTwiML(t *testing.T) {
	doc, err := StreamTwiML("wss://example.com/twilio/media", "rec-123")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		"<Connect>",
		`<Stream url="wss://example.com/twilio/media">`,
		`<Parameter name="call_record_id" value="rec-123">`,
	} {
		if !strings.Contains(doc, want) {
			t.Fatalf("expected %q in twiml: %s", want, doc)
		}
	}
}

func TestStreamTwiMLRequiresURL(t *testing.T) {
	if _, err := StreamTwiML("  ", "rec-123"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStreamTwiMLWithoutRecordID(t *testing.T) {
	doc, err := StreamTwiML("wss://example.com/twilio/media", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Contains(doc, "<Parameter") {
		t.Fatalf("expected no parameters in twiml: %s", doc)
	}
}

func TestApologyTwiMLAlwaysRenders(t *testing.T) {
	doc := ApologyTwiML("")
	if !strings.Contains(doc, "<Say>") || !strings.Contains(doc, "<Hangup>") {
		t.Fatalf("degraded twiml missing verbs: %s", doc)
	}

	doc = ApologyTwiML(`We can't reach "support" <now> & later`)
	if !strings.Contains(doc, "&amp;") {
		t.Fatalf("expected escaped text: %s", doc)
	}
}
