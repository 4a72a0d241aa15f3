package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MediaEventType identifies telephony media stream payload variants.
type MediaEventType string

const (
	MediaEventConnected MediaEventType = "connected"
	MediaEventStart     MediaEventType = "start"
	MediaEventMedia     MediaEventType = "media"
	MediaEventStop      MediaEventType = "stop"
)

var ErrUnsupportedMediaEvent = errors.New("unsupported media event")

type mediaEnvelope struct {
	Event MediaEventType `json:"event"`
}

// MediaConnected is the first frame on a freshly opened media stream socket.
type MediaConnected struct {
	Event    MediaEventType `json:"event"`
	Protocol string         `json:"protocol,omitempty"`
	Version  string         `json:"version,omitempty"`
}

// MediaStart announces the stream identity and the call it belongs to.
type MediaStart struct {
	Event     MediaEventType `json:"event"`
	StreamSID string         `json:"streamSid"`
	Start     MediaStartInfo `json:"start"`
}

type MediaStartInfo struct {
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaFrame carries one base64 audio payload in either direction.
type MediaFrame struct {
	Event     MediaEventType `json:"event"`
	StreamSID string         `json:"streamSid"`
	Media     MediaPayload   `json:"media"`
}

type MediaPayload struct {
	Track   string `json:"track,omitempty"`
	Chunk   string `json:"chunk,omitempty"`
	Payload string `json:"payload"`
}

type MediaStop struct {
	Event     MediaEventType `json:"event"`
	StreamSID string         `json:"streamSid"`
}

// NewOutboundMediaFrame frames AI audio for the telephony leg.
func NewOutboundMediaFrame(streamSID, payloadBase64 string) MediaFrame {
	return MediaFrame{
		Event:     MediaEventMedia,
		StreamSID: streamSID,
		Media:     MediaPayload{Payload: payloadBase64},
	}
}

// ParseMediaEvent dispatches one inbound telephony frame on its event tag.
func ParseMediaEvent(raw []byte) (any, error) {
	var env mediaEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid media envelope: %w", err)
	}

	switch env.Event {
	case MediaEventConnected:
		var msg MediaConnected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case MediaEventStart:
		var msg MediaStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Start.CallSID == "" {
			return nil, errors.New("invalid start event: missing callSid")
		}
		return msg, nil
	case MediaEventMedia:
		var msg MediaFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Media.Payload == "" {
			return nil, errors.New("invalid media event: empty payload")
		}
		return msg, nil
	case MediaEventStop:
		var msg MediaStop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedMediaEvent
	}
}
