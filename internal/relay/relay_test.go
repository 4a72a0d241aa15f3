package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"dialbridge/internal/callstore"
	"dialbridge/internal/protocol"
	"dialbridge/internal/session"
)

type relayHarness struct {
	relay    *Relay
	store    *callstore.InMemoryStore
	provider *MockProvider
	rec      callstore.CallRecord
	inbound  chan any
	outbound chan any
	outcome  chan Outcome
}

func newHarness(t *testing.T) *relayHarness {
	t.Helper()
	store := callstore.NewInMemoryStore()
	store.PutAgent(callstore.AgentConfig{
		ID:             "agent-1",
		VoiceID:        "alloy",
		OpeningMessage: "Hi, this is Ava.",
		SystemPrompt:   "You are a helpful outbound agent.",
	})
	rec, err := store.CreateCall(context.Background(), callstore.CallRecord{
		AgentID:     "agent-1",
		PhoneNumber: "+15550001111",
		CallSID:     "CA1",
	})
	if err != nil {
		t.Fatalf("seed call: %v", err)
	}

	h := &relayHarness{
		store:    store,
		provider: NewMockProvider(),
		rec:      rec,
		inbound:  make(chan any),
		outbound: make(chan any, 32),
		outcome:  make(chan Outcome, 1),
	}
	h.relay = New(
		Config{AckTimeout: 300 * time.Millisecond},
		session.NewInitializer(store),
		h.provider,
		store,
		nil,
		nil,
	)
	return h
}

func (h *relayHarness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	go func() {
		h.outcome <- h.relay.Run(ctx, h.inbound, h.outbound)
	}()
}

func (h *relayHarness) start(t *testing.T) {
	t.Helper()
	h.inbound <- protocol.MediaStart{
		Event:     protocol.MediaEventStart,
		StreamSID: "MZ1",
		Start: protocol.MediaStartInfo{
			CallSID:          "CA1",
			StreamSID:        "MZ1",
			CustomParameters: map[string]string{"call_record_id": h.rec.ID},
			MediaFormat:      protocol.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
		},
	}
}

func (h *relayHarness) waitOutcome(t *testing.T) Outcome {
	t.Helper()
	select {
	case out := <-h.outcome:
		return out
	case <-time.After(3 * time.Second):
		t.Fatalf("relay did not finish")
		return Outcome{}
	}
}

func frame(payload string) protocol.MediaFrame {
	return protocol.MediaFrame{
		Event:     protocol.MediaEventMedia,
		StreamSID: "MZ1",
		Media:     protocol.MediaPayload{Payload: payload},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sentAudioPayloads(p *MockProvider) []string {
	var out []string
	for _, msg := range p.Session().Sent() {
		if a, ok := msg.(protocol.InputAudioAppend); ok {
			out = append(out, a.Audio)
		}
	}
	return out
}

func TestRelayDropsFramesBeforeSessionCreated(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.start(t)

	// Delivered while still awaiting_ai_session: must be dropped, not queued.
	h.inbound <- frame("early")

	h.provider.Session().Emit(protocol.SessionCreated{Type: protocol.TypeSessionCreated})
	waitFor(t, "session.update", func() bool {
		for _, msg := range h.provider.Session().Sent() {
			if _, ok := msg.(protocol.SessionUpdate); ok {
				return true
			}
		}
		return false
	})

	h.inbound <- frame("late")
	waitFor(t, "forwarded frame", func() bool { return len(sentAudioPayloads(h.provider)) > 0 })

	payloads := sentAudioPayloads(h.provider)
	if len(payloads) != 1 || payloads[0] != "late" {
		t.Fatalf("forwarded payloads = %v, want only [late]", payloads)
	}

	h.inbound <- protocol.MediaStop{Event: protocol.MediaEventStop, StreamSID: "MZ1"}
	h.waitOutcome(t)
}

func TestRelayStopClosesAISession(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.start(t)
	h.provider.Session().Emit(protocol.SessionCreated{Type: protocol.TypeSessionCreated})

	h.inbound <- protocol.MediaStop{Event: protocol.MediaEventStop, StreamSID: "MZ1"}
	out := h.waitOutcome(t)

	if !out.Completed {
		t.Fatalf("outcome = %+v, want Completed", out)
	}
	if !h.provider.Session().Closed() {
		t.Fatalf("AI session left open after telephony stop")
	}
	if got := h.relay.Phase(); got != PhaseClosed {
		t.Fatalf("phase = %q, want closed", got)
	}
}

func TestRelaySessionConfiguration(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.start(t)
	h.provider.Session().Emit(protocol.SessionCreated{Type: protocol.TypeSessionCreated})

	var upd protocol.SessionUpdate
	waitFor(t, "session.update", func() bool {
		for _, msg := range h.provider.Session().Sent() {
			if u, ok := msg.(protocol.SessionUpdate); ok {
				upd = u
				return true
			}
		}
		return false
	})

	if upd.Session.Voice != "alloy" {
		t.Fatalf("voice = %q, want alloy", upd.Session.Voice)
	}
	if upd.Session.InputAudioFormat != "g711_ulaw" || upd.Session.OutputAudioFormat != "g711_ulaw" {
		t.Fatalf("audio formats = %q/%q, want g711_ulaw", upd.Session.InputAudioFormat, upd.Session.OutputAudioFormat)
	}
	if !strings.Contains(upd.Session.Instructions, "You are a helpful outbound agent.") {
		t.Fatalf("instructions missing system prompt: %q", upd.Session.Instructions)
	}
	if upd.Session.TurnDetection == nil || upd.Session.TurnDetection.Type != "server_vad" {
		t.Fatalf("turn detection = %+v, want server_vad", upd.Session.TurnDetection)
	}

	// The opening line is requested right after configuration.
	waitFor(t, "response.create", func() bool {
		for _, msg := range h.provider.Session().Sent() {
			if rc, ok := msg.(protocol.ResponseCreate); ok {
				return rc.Response != nil && strings.Contains(rc.Response.Instructions, "Hi, this is Ava.")
			}
		}
		return false
	})

	h.inbound <- protocol.MediaStop{Event: protocol.MediaEventStop, StreamSID: "MZ1"}
	h.waitOutcome(t)
}

func TestRelayForwardsAudioDeltas(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.start(t)
	h.provider.Session().Emit(protocol.SessionCreated{Type: protocol.TypeSessionCreated})
	h.provider.Session().Emit(protocol.ResponseAudioDelta{Type: protocol.TypeResponseAudioDelta, Delta: "YXVkaW8="})

	select {
	case msg := <-h.outbound:
		f, ok := msg.(protocol.MediaFrame)
		if !ok {
			t.Fatalf("outbound msg type = %T, want MediaFrame", msg)
		}
		if f.StreamSID != "MZ1" || f.Media.Payload != "YXVkaW8=" {
			t.Fatalf("frame = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no outbound frame")
	}

	if got := h.relay.Phase(); got != PhaseActive {
		t.Fatalf("phase after first post-config event = %q, want active", got)
	}

	h.inbound <- protocol.MediaStop{Event: protocol.MediaEventStop, StreamSID: "MZ1"}
	h.waitOutcome(t)
}

func TestRelayAppendsTranscriptTurns(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.start(t)
	sess := h.provider.Session()
	sess.Emit(protocol.SessionCreated{Type: protocol.TypeSessionCreated})
	sess.Emit(protocol.InputTranscriptCompleted{Type: protocol.TypeInputTranscriptCompleted, Transcript: "hello there"})
	sess.Emit(protocol.ResponseTranscriptDelta{Type: protocol.TypeResponseTranscriptDelta, Delta: "hi, "})
	sess.Emit(protocol.ResponseTranscriptDelta{Type: protocol.TypeResponseTranscriptDelta, Delta: "how can I help?"})
	sess.Emit(protocol.ResponseDone{Type: protocol.TypeResponseDone})

	waitFor(t, "persisted turns", func() bool {
		got, err := h.store.TurnsForCall(context.Background(), h.rec.ID)
		return err == nil && len(got) == 2
	})

	h.inbound <- protocol.MediaStop{Event: protocol.MediaEventStop, StreamSID: "MZ1"}
	h.waitOutcome(t)

	turns, err := h.store.TurnsForCall(context.Background(), h.rec.ID)
	if err != nil {
		t.Fatalf("turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Speaker != callstore.SpeakerCustomer || turns[0].Text != "hello there" {
		t.Fatalf("turn[0] = %+v", turns[0])
	}
	if turns[1].Speaker != callstore.SpeakerAgent || turns[1].Text != "hi, how can I help?" {
		t.Fatalf("turn[1] = %+v", turns[1])
	}
}

func TestRelayAckTimeout(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.start(t)
	// Never emit session.created.

	out := h.waitOutcome(t)
	if out.Completed {
		t.Fatalf("outcome = %+v, want failure", out)
	}
	if out.FailureReason != ReasonAIService {
		t.Fatalf("failure reason = %q, want %q", out.FailureReason, ReasonAIService)
	}
}

func TestRelayAISessionClosedIsFailure(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	h.start(t)
	h.provider.Session().Emit(protocol.SessionCreated{Type: protocol.TypeSessionCreated})
	h.provider.Session().Close()

	out := h.waitOutcome(t)
	if out.Completed || out.FailureReason != ReasonAIService {
		t.Fatalf("outcome = %+v, want ai_service_error failure", out)
	}
}

func TestRelayMissingAgentIsConfigurationError(t *testing.T) {
	h := newHarness(t)
	rec, err := h.store.CreateCall(context.Background(), callstore.CallRecord{CallSID: "CA2"})
	if err != nil {
		t.Fatalf("seed call: %v", err)
	}
	h.run(t)
	h.inbound <- protocol.MediaStart{
		Event:     protocol.MediaEventStart,
		StreamSID: "MZ2",
		Start: protocol.MediaStartInfo{
			CallSID:          "CA2",
			StreamSID:        "MZ2",
			CustomParameters: map[string]string{"call_record_id": rec.ID},
		},
	}

	out := h.waitOutcome(t)
	if out.FailureReason != ReasonConfiguration {
		t.Fatalf("failure reason = %q, want %q", out.FailureReason, ReasonConfiguration)
	}
}
