package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dialbridge/internal/protocol"
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIProvider opens realtime websocket sessions against the OpenAI
// realtime API.
type OpenAIProvider struct {
	cfg OpenAIConfig
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "wss://api.openai.com/v1/realtime"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-realtime-preview"
	}
	return &OpenAIProvider{cfg: cfg}
}

func (p *OpenAIProvider) StartSession(ctx context.Context, _ string) (RealtimeSession, <-chan any, error) {
	u, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	q.Set("model", p.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial realtime websocket: %w", err)
	}

	events := make(chan any, 256)
	s := &openAISession{conn: conn, events: events, done: make(chan struct{})}
	go s.readLoop()
	return s, events, nil
}

type openAISession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan any
	done      chan struct{}
}

func (s *openAISession) Send(_ context.Context, msg any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(msg)
}

// readLoop is the only goroutine that sends on or closes the events channel.
// Close never touches it; a closed done channel unblocks any in-flight send
// so the loop can exit even when the consumer stopped draining.
func (s *openAISession) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		parsed, err := protocol.ParseRealtimeEvent(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnsupportedRealtimeEvent) {
				var env struct {
					Type string `json:"type"`
				}
				_ = json.Unmarshal(data, &env)
				if !s.emit(UnknownEvent{EventType: env.Type}) {
					return
				}
			}
			// Malformed frames are skipped, not fatal.
			continue
		}
		if !s.emit(parsed) {
			return
		}
	}
}

func (s *openAISession) emit(evt any) bool {
	select {
	case s.events <- evt:
		return true
	case <-s.done:
		return false
	}
}

func (s *openAISession) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}
