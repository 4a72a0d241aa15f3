package relay

import "context"

// RealtimeSession is one live connection to the AI backend. Send marshals a
// protocol message onto the wire; Events delivers parsed inbound events.
type RealtimeSession interface {
	Send(ctx context.Context, msg any) error
	Close() error
}

// RealtimeProvider opens realtime sessions to the AI backend.
type RealtimeProvider interface {
	StartSession(ctx context.Context, callID string) (RealtimeSession, <-chan any, error)
}

// UnknownEvent is an inbound AI event with a well-formed envelope but a type
// this service does not model. It still counts as session activity.
type UnknownEvent struct {
	EventType string
}
