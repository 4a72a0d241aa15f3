package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the call orchestration service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	// PublicBaseURL is the externally reachable base URL handed to the
	// telephony provider for webhooks and the media stream socket.
	PublicBaseURL string

	DatabaseURL string
	RedisAddr   string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	OpenAIAPIKey        string
	OpenAIRealtimeURL   string
	OpenAIRealtimeModel string
	OpenAIVoice         string

	// SessionAckTimeout bounds the wait for the AI backend to acknowledge
	// session configuration; there is no explicit ack on the wire.
	SessionAckTimeout    time.Duration
	DispatchPollInterval time.Duration
	MaxRetries           int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "dialbridge"),
		PublicBaseURL:        strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")),
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:            strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		TwilioAccountSID:     strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		TwilioAuthToken:      strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		TwilioFromNumber:     strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER")),
		OpenAIAPIKey:         strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIRealtimeURL:    envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIRealtimeModel:  envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		OpenAIVoice:          envOrDefault("OPENAI_REALTIME_VOICE", "alloy"),
		ShutdownTimeout:      15 * time.Second,
		SessionAckTimeout:    5 * time.Second,
		DispatchPollInterval: 10 * time.Second,
		MaxRetries:           5,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionAckTimeout, err = durationFromEnv("RELAY_SESSION_ACK_TIMEOUT", cfg.SessionAckTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DispatchPollInterval, err = durationFromEnv("DISPATCH_POLL_INTERVAL", cfg.DispatchPollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxRetries, err = intFromEnv("CALL_MAX_RETRIES", cfg.MaxRetries)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionAckTimeout < time.Second {
		return Config{}, fmt.Errorf("RELAY_SESSION_ACK_TIMEOUT must be at least 1s")
	}
	if cfg.DispatchPollInterval < time.Second {
		return Config{}, fmt.Errorf("DISPATCH_POLL_INTERVAL must be at least 1s")
	}
	if cfg.MaxRetries < 0 {
		return Config{}, fmt.Errorf("CALL_MAX_RETRIES must be >= 0")
	}
	if cfg.PublicBaseURL != "" {
		u, err := url.Parse(cfg.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Config{}, fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL")
		}
	}

	return cfg, nil
}

// DispatchEnabled reports whether outbound dialing is configured. The retry
// and relay surfaces still work without provider credentials (local/dev).
func (c Config) DispatchEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != "" && c.PublicBaseURL != ""
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
