package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Minimal TwiML builder. It intentionally avoids any provider SDK
// dependency; only the verbs used at the adapter boundary are modeled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	XMLName    xml.Name         `xml:"Stream"`
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

// StreamTwiML answers a voice webhook by attaching the call to the media
// stream endpoint. The call record id rides along as a stream parameter so
// the relay can find its context without a lookup by call SID.
func StreamTwiML(streamURL, callRecordID string) (string, error) {
	if strings.TrimSpace(streamURL) == "" {
		return "", errors.New("telephony: stream url required")
	}
	stream := twimlStream{URL: streamURL}
	if callRecordID != "" {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: "call_record_id", Value: callRecordID})
	}
	return renderTwiML(twimlResponse{Verbs: []any{twimlConnect{Stream: stream}}})
}

// ApologyTwiML is the degraded-mode answer when no session context is
// available. It must always render; a webhook that errors out leaves the
// caller in dead air.
func ApologyTwiML(message string) string {
	if strings.TrimSpace(message) == "" {
		message = "We are sorry, this call cannot be completed right now. Goodbye."
	}
	doc, err := renderTwiML(twimlResponse{Verbs: []any{twimlSay{Text: message}, twimlHangup{}}})
	if err != nil {
		return xml.Header + "<Response><Hangup/></Response>"
	}
	return doc
}

func renderTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
