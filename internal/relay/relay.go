package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dialbridge/internal/callstore"
	"dialbridge/internal/observability"
	"dialbridge/internal/protocol"
	"dialbridge/internal/session"
)

// Phase is the relay lifecycle state. Transitions are driven only from the
// relay's own event loop.
type Phase string

const (
	PhaseConnectingTelephony Phase = "connecting_telephony"
	PhaseAwaitingAISession   Phase = "awaiting_ai_session"
	PhaseSessionConfiguring  Phase = "session_configuring"
	PhaseActive              Phase = "active"
	PhaseClosing             Phase = "closing"
	PhaseClosed              Phase = "closed"
)

// Failure reasons reported to the retry scheduler. The relay classifies, it
// never decides retryability.
const (
	ReasonAIService     = "ai_service_error"
	ReasonNetwork       = "network_error"
	ReasonConfiguration = "configuration_error"
)

const (
	transcriptBuffer      = 64
	transcriptSaveTimeout = 2 * time.Second
)

// Config tunes one relay session.
type Config struct {
	AckTimeout           time.Duration
	Temperature          float64
	MaxResponseTokens    int
	TranscriptionModel   string
	VADThreshold         float64
	VADPrefixPaddingMS   int
	VADSilenceDurationMS int
}

func (c Config) withDefaults() Config {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.8
	}
	if c.MaxResponseTokens <= 0 {
		c.MaxResponseTokens = 4096
	}
	if c.TranscriptionModel == "" {
		c.TranscriptionModel = "whisper-1"
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = 0.5
	}
	if c.VADPrefixPaddingMS <= 0 {
		c.VADPrefixPaddingMS = 300
	}
	if c.VADSilenceDurationMS <= 0 {
		c.VADSilenceDurationMS = 500
	}
	return c
}

// Outcome is the terminal result of one relay session.
type Outcome struct {
	CallID string
	// Completed is true only for a clean stop from the telephony side.
	Completed     bool
	FailureReason string
	ErrorMessage  string
}

// Relay bridges one telephony media stream to one AI realtime session. An
// instance serves exactly one call leg; reconnection is a new instance.
type Relay struct {
	cfg      Config
	init     *session.Initializer
	provider RealtimeProvider
	store    callstore.Store
	metrics  *observability.Metrics
	log      *slog.Logger

	mu    sync.Mutex
	phase Phase
}

func New(cfg Config, init *session.Initializer, provider RealtimeProvider, store callstore.Store, metrics *observability.Metrics, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		cfg:      cfg.withDefaults(),
		init:     init,
		provider: provider,
		store:    store,
		metrics:  metrics,
		log:      log.With("component", "relay"),
		phase:    PhaseConnectingTelephony,
	}
}

func (r *Relay) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Relay) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
	r.countEvent("phase_" + string(p))
}

// Run drives the relay for the life of one media stream connection. inbound
// carries parsed telephony events; outbound carries frames for the telephony
// socket writer and must never be blocked on. Frames are dropped when the far
// end is slow; realtime audio favors freshness over completeness.
func (r *Relay) Run(ctx context.Context, inbound <-chan any, outbound chan<- any) Outcome {
	started := time.Now()
	if r.metrics != nil {
		r.metrics.ActiveRelays.Inc()
	}
	defer func() {
		r.setPhase(PhaseClosed)
		if r.metrics != nil {
			r.metrics.ActiveRelays.Dec()
			r.metrics.ObserveCallDuration(time.Since(started))
		}
	}()

	start, out := r.awaitStart(ctx, inbound)
	if start == nil {
		return out
	}
	streamSID := start.StreamSID
	if streamSID == "" {
		streamSID = start.Start.StreamSID
	}

	callID := start.Start.CustomParameters["call_record_id"]
	if callID == "" {
		rec, err := r.store.GetCallBySID(ctx, start.Start.CallSID)
		if err != nil {
			r.log.Error("no call record for stream", "call_sid", start.Start.CallSID, "error", err)
			return Outcome{FailureReason: ReasonConfiguration, ErrorMessage: "no call record for media stream"}
		}
		callID = rec.ID
	}
	log := r.log.With("call_id", callID, "stream_sid", streamSID)

	sctx, err := r.init.Initialize(ctx, callID)
	if err != nil {
		log.Error("session context init failed", "error", err)
		return Outcome{CallID: callID, FailureReason: ReasonConfiguration, ErrorMessage: err.Error()}
	}

	aiSession, aiEvents, err := r.provider.StartSession(ctx, callID)
	if err != nil {
		log.Error("realtime session dial failed", "error", err)
		return Outcome{CallID: callID, FailureReason: ReasonAIService, ErrorMessage: err.Error()}
	}
	defer aiSession.Close()

	now := time.Now().UTC()
	if err := r.store.UpdateCallStatus(ctx, callID, callstore.StatusInProgress, &now); err != nil {
		log.Warn("status update failed", "error", err)
	}

	// Transcript appends run on a single worker so arrival order within a
	// speaker's stream is preserved; a full buffer drops the turn rather
	// than stalling the audio path.
	turns := make(chan callstore.ConversationTurn, transcriptBuffer)
	workerDone := make(chan struct{})
	go r.transcriptWorker(turns, workerDone, log)
	defer func() {
		close(turns)
		<-workerDone
	}()

	r.setPhase(PhaseAwaitingAISession)
	ackTimer := time.NewTimer(r.cfg.AckTimeout)
	defer ackTimer.Stop()
	ackC := ackTimer.C

	var agentText strings.Builder

	flushAgentTurn := func() {
		text := strings.TrimSpace(agentText.String())
		agentText.Reset()
		if text == "" {
			return
		}
		r.enqueueTurn(turns, callstore.ConversationTurn{
			CallID: callID, Speaker: callstore.SpeakerAgent, Text: text, CreatedAt: time.Now().UTC(),
		}, log)
	}

	for {
		select {
		case <-ctx.Done():
			r.setPhase(PhaseClosing)
			return Outcome{CallID: callID, FailureReason: ReasonNetwork, ErrorMessage: "relay canceled: " + ctx.Err().Error()}

		case <-ackC:
			if r.Phase() == PhaseAwaitingAISession {
				log.Error("session configuration timed out")
				r.setPhase(PhaseClosing)
				return Outcome{CallID: callID, FailureReason: ReasonAIService, ErrorMessage: "realtime session configuration timeout"}
			}
			ackC = nil

		case msg, ok := <-inbound:
			if !ok {
				r.setPhase(PhaseClosing)
				return Outcome{CallID: callID, FailureReason: ReasonNetwork, ErrorMessage: "telephony stream closed unexpectedly"}
			}
			switch m := msg.(type) {
			case protocol.MediaFrame:
				switch r.Phase() {
				case PhaseSessionConfiguring, PhaseActive:
					if err := aiSession.Send(ctx, protocol.InputAudioAppend{Type: protocol.TypeInputAudioAppend, Audio: m.Media.Payload}); err != nil {
						log.Error("audio forward failed", "error", err)
						r.setPhase(PhaseClosing)
						return Outcome{CallID: callID, FailureReason: ReasonAIService, ErrorMessage: "forward audio: " + err.Error()}
					}
				default:
					// No buffering before the session is configured; the
					// negotiation window is short and dropping bounds memory.
					r.dropFrame("telephony_to_ai", "not_ready")
				}
			case protocol.MediaStop:
				log.Info("telephony stream stopped")
				r.setPhase(PhaseClosing)
				flushAgentTurn()
				return Outcome{CallID: callID, Completed: true}
			case protocol.MediaConnected, protocol.MediaStart:
				// Duplicate handshake frames carry nothing new.
			default:
				log.Warn("unexpected telephony event skipped")
			}

		case evt, ok := <-aiEvents:
			if !ok {
				r.setPhase(PhaseClosing)
				return Outcome{CallID: callID, FailureReason: ReasonAIService, ErrorMessage: "realtime session closed"}
			}
			// There is no explicit configuration ack on the wire; any event
			// after session.update means the session is live.
			if r.Phase() == PhaseSessionConfiguring {
				if _, isCreated := evt.(protocol.SessionCreated); !isCreated {
					r.setPhase(PhaseActive)
				}
			}

			switch e := evt.(type) {
			case protocol.SessionCreated:
				if r.Phase() != PhaseAwaitingAISession {
					continue
				}
				if err := aiSession.Send(ctx, r.sessionUpdate(sctx)); err != nil {
					log.Error("session configure failed", "error", err)
					r.setPhase(PhaseClosing)
					return Outcome{CallID: callID, FailureReason: ReasonAIService, ErrorMessage: "configure session: " + err.Error()}
				}
				if opening := strings.TrimSpace(sctx.OpeningMessage); opening != "" {
					msg := protocol.ResponseCreate{
						Type:     protocol.TypeResponseCreate,
						Response: &protocol.ResponseParams{Instructions: "Open the call by saying: " + opening},
					}
					if err := aiSession.Send(ctx, msg); err != nil {
						log.Warn("opening prompt failed", "error", err)
					}
				}
				r.setPhase(PhaseSessionConfiguring)
				ackTimer.Stop()
				ackC = nil

			case protocol.ResponseAudioDelta:
				frame := protocol.NewOutboundMediaFrame(streamSID, e.Delta)
				select {
				case outbound <- frame:
				default:
					r.dropFrame("ai_to_telephony", "outbound_full")
				}

			case protocol.InputTranscriptCompleted:
				if text := strings.TrimSpace(e.Transcript); text != "" {
					r.enqueueTurn(turns, callstore.ConversationTurn{
						CallID: callID, Speaker: callstore.SpeakerCustomer, Text: text, CreatedAt: time.Now().UTC(),
					}, log)
				}

			case protocol.ResponseTranscriptDelta:
				agentText.WriteString(e.Delta)

			case protocol.ResponseDone:
				flushAgentTurn()

			case protocol.RealtimeError:
				// A backend error event is not a transport fault; a dropped
				// response is recoverable, a torn-down session ends the call.
				log.Warn("realtime error event", "code", e.Error.Code, "message", e.Error.Message)
				r.countEvent("ai_error")

			case UnknownEvent:
				// Session activity only.
			}
		}
	}
}

// awaitStart consumes handshake frames until the stream identifies itself.
func (r *Relay) awaitStart(ctx context.Context, inbound <-chan any) (*protocol.MediaStart, Outcome) {
	timer := time.NewTimer(r.cfg.AckTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, Outcome{FailureReason: ReasonNetwork, ErrorMessage: "relay canceled before stream start"}
		case <-timer.C:
			return nil, Outcome{FailureReason: ReasonNetwork, ErrorMessage: "media stream never started"}
		case msg, ok := <-inbound:
			if !ok {
				return nil, Outcome{FailureReason: ReasonNetwork, ErrorMessage: "telephony stream closed before start"}
			}
			switch m := msg.(type) {
			case protocol.MediaStart:
				return &m, Outcome{}
			case protocol.MediaConnected:
			case protocol.MediaFrame:
				r.dropFrame("telephony_to_ai", "not_ready")
			case protocol.MediaStop:
				return nil, Outcome{FailureReason: ReasonNetwork, ErrorMessage: "media stream stopped before start"}
			}
		}
	}
}

func (r *Relay) sessionUpdate(sctx session.Context) protocol.SessionUpdate {
	return protocol.SessionUpdate{
		Type: protocol.TypeSessionUpdate,
		Session: protocol.SessionConfig{
			Modalities:              []string{"text", "audio"},
			Instructions:            sctx.Instructions,
			Voice:                   sctx.VoiceID,
			InputAudioFormat:        "g711_ulaw",
			OutputAudioFormat:       "g711_ulaw",
			InputAudioTranscription: &protocol.AudioTranscription{Model: r.cfg.TranscriptionModel},
			TurnDetection: &protocol.TurnDetection{
				Type:              "server_vad",
				Threshold:         r.cfg.VADThreshold,
				PrefixPaddingMS:   r.cfg.VADPrefixPaddingMS,
				SilenceDurationMS: r.cfg.VADSilenceDurationMS,
			},
			Temperature:             r.cfg.Temperature,
			MaxResponseOutputTokens: r.cfg.MaxResponseTokens,
		},
	}
}

func (r *Relay) transcriptWorker(turns <-chan callstore.ConversationTurn, done chan<- struct{}, log *slog.Logger) {
	defer close(done)
	for t := range turns {
		saveCtx, cancel := context.WithTimeout(context.Background(), transcriptSaveTimeout)
		if err := r.store.AppendTurn(saveCtx, t); err != nil {
			log.Warn("transcript append failed", "speaker", t.Speaker, "error", err)
			if r.metrics != nil {
				r.metrics.TranscriptDrops.Inc()
			}
		}
		cancel()
	}
}

func (r *Relay) enqueueTurn(turns chan<- callstore.ConversationTurn, t callstore.ConversationTurn, log *slog.Logger) {
	select {
	case turns <- t:
	default:
		log.Warn("transcript buffer full, turn dropped", "speaker", t.Speaker)
		if r.metrics != nil {
			r.metrics.TranscriptDrops.Inc()
		}
	}
}

func (r *Relay) countEvent(name string) {
	if r.metrics != nil {
		r.metrics.RelayEvents.WithLabelValues(name).Inc()
	}
}

func (r *Relay) dropFrame(direction, reason string) {
	if r.metrics != nil {
		r.metrics.DroppedFrames.WithLabelValues(direction, reason).Inc()
	}
}
