package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"dialbridge/internal/callstore"
	"dialbridge/internal/config"
	"dialbridge/internal/dispatch"
	"dialbridge/internal/observability"
	"dialbridge/internal/protocol"
	"dialbridge/internal/relay"
	"dialbridge/internal/retry"
	"dialbridge/internal/session"
	"dialbridge/internal/telephony"
)

// Server exposes the call API and the telephony webhook surface.
type Server struct {
	cfg         config.Config
	store       callstore.Store
	dispatcher  *dispatch.Dispatcher
	scheduler   *retry.Scheduler
	provider    relay.RealtimeProvider
	initializer *session.Initializer
	metrics     *observability.Metrics
	log         *slog.Logger
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, store callstore.Store, dispatcher *dispatch.Dispatcher, scheduler *retry.Scheduler, provider relay.RealtimeProvider, initializer *session.Initializer, metrics *observability.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		store:       store,
		dispatcher:  dispatcher,
		scheduler:   scheduler,
		provider:    provider,
		initializer: initializer,
		metrics:     metrics,
		log:         log.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The media stream endpoint is hit by the telephony provider,
			// not by browsers; Origin checks do not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/calls", s.handleCreateCall)
	r.Post("/v1/calls/retry", s.handleRetryCall)
	r.Get("/v1/calls/{id}", s.handleGetCall)

	r.Post("/twilio/voice", s.handleVoiceWebhook)
	r.Post("/twilio/status", s.handleStatusCallback)
	r.Get("/twilio/media", s.handleMediaStream)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"dispatch_enabled": s.cfg.DispatchEnabled(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"dispatch_enabled": s.cfg.DispatchEnabled(),
	})
}

func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		respondError(w, http.StatusNotImplemented, "dispatch_disabled", "outbound dialing is not configured")
		return
	}
	var req dispatch.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		if errors.Is(err, callstore.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		if res.CallRecordID != "" {
			// The record exists; the provider leg failed. Let the retry
			// scheduler take it from here.
			if s.scheduler != nil {
				if _, herr := s.scheduler.HandleFailure(r.Context(), res.CallRecordID, "network_error", err.Error()); herr != nil {
					s.log.Error("failure handling failed", "call_id", res.CallRecordID, "error", herr)
				}
			}
			respondError(w, http.StatusBadGateway, "dial_failed", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

type retryRequest struct {
	CallRecordID  string `json:"callRecordId"`
	FailureReason string `json:"failureReason"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

func (s *Server) handleRetryCall(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.CallRecordID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "callRecordId is required")
		return
	}
	if strings.TrimSpace(req.FailureReason) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "failureReason is required")
		return
	}

	res, err := s.scheduler.HandleFailure(r.Context(), req.CallRecordID, req.FailureReason, req.ErrorMessage)
	if err != nil {
		if errors.Is(err, callstore.ErrNotFound) {
			respondError(w, http.StatusNotFound, "call_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "retry_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetCall(r.Context(), id)
	if err != nil {
		if errors.Is(err, callstore.ErrNotFound) {
			respondError(w, http.StatusNotFound, "call_not_found", "no call record with id "+id)
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	turns, err := s.store.TurnsForCall(r.Context(), id)
	if err != nil {
		s.log.Warn("transcript load failed", "call_id", id, "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"call":       rec,
		"transcript": turns,
	})
}

// handleVoiceWebhook answers the provider's "call answered" webhook. It must
// always return well-formed TwiML; an HTTP error leaves the callee in dead
// air.
func (s *Server) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	form, err := telephony.ParseVoiceWebhook(r)
	if err != nil {
		s.log.Warn("voice webhook parse failed", "error", err)
		respondTwiML(w, telephony.ApologyTwiML(""))
		return
	}

	callRecordID := strings.TrimSpace(r.URL.Query().Get("call_record_id"))
	if callRecordID == "" && form.CallSid != "" {
		if rec, err := s.store.GetCallBySID(r.Context(), form.CallSid); err == nil {
			callRecordID = rec.ID
		}
	}
	if callRecordID == "" {
		s.log.Warn("voice webhook without call record", "call_sid", form.CallSid)
		respondTwiML(w, telephony.ApologyTwiML(""))
		return
	}

	if _, err := s.store.GetCall(r.Context(), callRecordID); err != nil {
		s.log.Warn("voice webhook for unknown record", "call_id", callRecordID, "error", err)
		respondTwiML(w, telephony.ApologyTwiML(""))
		return
	}

	doc, err := telephony.StreamTwiML(s.mediaStreamURL(), callRecordID)
	if err != nil {
		s.log.Error("twiml render failed", "call_id", callRecordID, "error", err)
		respondTwiML(w, telephony.ApologyTwiML(""))
		return
	}

	now := time.Now().UTC()
	if err := s.store.UpdateCallStatus(r.Context(), callRecordID, callstore.StatusRinging, &now); err != nil {
		s.log.Warn("status update failed", "call_id", callRecordID, "error", err)
	}
	respondTwiML(w, doc)
}

func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	cb, err := telephony.ParseStatusCallback(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if cb.CallSid == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "CallSid is required")
		return
	}

	rec, err := s.store.GetCallBySID(r.Context(), cb.CallSid)
	if err != nil {
		// Status callbacks can outlive their records; acknowledge anyway so
		// the provider stops retrying the webhook.
		s.log.Warn("status callback for unknown call", "call_sid", cb.CallSid, "status", cb.CallStatus)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	log := s.log.With("call_id", rec.ID, "call_sid", cb.CallSid, "provider_status", cb.CallStatus)

	switch {
	case cb.IsTerminalFailure():
		msg := "provider reported " + cb.CallStatus
		if cb.ErrorCode != "" {
			msg += " (error " + cb.ErrorCode + ")"
		}
		if _, err := s.scheduler.HandleFailure(r.Context(), rec.ID, cb.FailureReason(), msg); err != nil {
			log.Error("failure handling failed", "error", err)
		}
	case cb.CallStatus == "completed":
		// The relay marks completion at stream end; this is the backstop
		// for legs that never reached the media stream.
		if rec.Status == callstore.StatusInitiated || rec.Status == callstore.StatusRinging || rec.Status == callstore.StatusInProgress {
			if err := s.store.UpdateCallStatus(r.Context(), rec.ID, callstore.StatusCompleted, nil); err != nil {
				log.Warn("status update failed", "error", err)
			}
		}
	default:
		log.Debug("status callback ignored")
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMediaStream owns the provider-facing websocket for one call leg. The
// reader feeds parsed events to the relay; a dedicated writer keeps socket
// writes single-threaded.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)

	rl := relay.New(
		relay.Config{AckTimeout: s.cfg.SessionAckTimeout},
		s.initializer,
		s.provider,
		s.store,
		s.metrics,
		s.log,
	)

	// Once the relay returns the socket has no further use. Cancelling the
	// context and closing the conn unblocks the reader below so a terminal
	// relay failure is reported without waiting for the far end to hang up.
	outcomeC := make(chan relay.Outcome, 1)
	go func() {
		outcomeC <- rl.Run(ctx, inbound, outbound)
		cancel()
		_ = conn.Close()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		evt, err := protocol.ParseMediaEvent(data)
		if err != nil {
			if !errors.Is(err, protocol.ErrUnsupportedMediaEvent) {
				s.log.Warn("media event parse failed", "error", err)
			}
			continue
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- evt:
		}
		if _, stopped := evt.(protocol.MediaStop); stopped {
			break
		}
	}

	close(inbound)
	outcome := <-outcomeC
	cancel()
	<-writerDone

	s.finishCall(outcome)
}

// finishCall records the terminal state once the relay is done. It runs with
// a fresh context; the request context is gone when the socket closes.
func (s *Server) finishCall(outcome relay.Outcome) {
	if outcome.CallID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log := s.log.With("call_id", outcome.CallID)
	if outcome.Completed {
		if err := s.store.UpdateCallStatus(ctx, outcome.CallID, callstore.StatusCompleted, nil); err != nil {
			log.Error("completion update failed", "error", err)
		}
		return
	}
	if s.scheduler == nil {
		log.Error("call failed with no scheduler", "reason", outcome.FailureReason)
		return
	}
	if _, err := s.scheduler.HandleFailure(ctx, outcome.CallID, outcome.FailureReason, outcome.ErrorMessage); err != nil {
		log.Error("failure handling failed", "error", err)
	}
}

// mediaStreamURL derives the websocket endpoint from the public base URL.
func (s *Server) mediaStreamURL() string {
	u, err := url.Parse(s.cfg.PublicBaseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/twilio/media"
	return u.String()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondTwiML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
