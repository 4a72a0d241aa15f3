package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Realtime event type tags on the AI backend socket.
const (
	TypeSessionCreated           = "session.created"
	TypeSessionUpdate            = "session.update"
	TypeInputAudioAppend         = "input_audio_buffer.append"
	TypeResponseAudioDelta       = "response.audio.delta"
	TypeInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	TypeResponseTranscriptDelta  = "response.audio_transcript.delta"
	TypeResponseDone             = "response.done"
	TypeResponseCreate           = "response.create"
	TypeRealtimeError            = "error"
)

var ErrUnsupportedRealtimeEvent = errors.New("unsupported realtime event")

type realtimeEnvelope struct {
	Type string `json:"type"`
}

type SessionCreated struct {
	Type    string `json:"type"`
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

type ResponseAudioDelta struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

type InputTranscriptCompleted struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

type ResponseTranscriptDelta struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

type ResponseDone struct {
	Type string `json:"type"`
}

type RealtimeError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SessionUpdate is the single outbound configuration message sent after
// session.created.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type SessionConfig struct {
	Modalities              []string            `json:"modalities"`
	Instructions            string              `json:"instructions"`
	Voice                   string              `json:"voice"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *AudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection      `json:"turn_detection,omitempty"`
	Temperature             float64             `json:"temperature"`
	MaxResponseOutputTokens int                 `json:"max_response_output_tokens"`
}

type AudioTranscription struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice activity endpointing.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

// InputAudioAppend forwards one telephony audio frame to the AI backend.
type InputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// ResponseCreate asks the backend to speak; used to trigger the opening line.
type ResponseCreate struct {
	Type     string          `json:"type"`
	Response *ResponseParams `json:"response,omitempty"`
}

type ResponseParams struct {
	Instructions string `json:"instructions,omitempty"`
}

// ParseRealtimeEvent dispatches one inbound AI event on its type tag.
func ParseRealtimeEvent(raw []byte) (any, error) {
	var env realtimeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid realtime envelope: %w", err)
	}

	switch env.Type {
	case TypeSessionCreated:
		var msg SessionCreated
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeResponseAudioDelta:
		var msg ResponseAudioDelta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeInputTranscriptCompleted:
		var msg InputTranscriptCompleted
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeResponseTranscriptDelta:
		var msg ResponseTranscriptDelta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeResponseDone:
		var msg ResponseDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeRealtimeError:
		var msg RealtimeError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedRealtimeEvent
	}
}
