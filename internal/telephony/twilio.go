package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// Dialer starts an outbound call leg with the telephony provider.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (DialResult, error)
}

type DialRequest struct {
	To string
	// VoiceURL is hit by the provider when the callee answers.
	VoiceURL string
	// StatusCallbackURL receives the terminal status for the leg.
	StatusCallbackURL string
}

type DialResult struct {
	CallSID string
	Status  string
}

// TwilioClient talks to the Twilio Calls REST API directly. The official
// SDK is deliberately not used; one endpoint does not justify the
// dependency surface.
type TwilioClient struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
}

type TwilioOption func(*TwilioClient)

func WithTwilioBaseURL(u string) TwilioOption {
	return func(c *TwilioClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTwilioHTTPClient(hc *http.Client) TwilioOption {
	return func(c *TwilioClient) { c.httpClient = hc }
}

func NewTwilioClient(accountSID, authToken, fromNumber string, opts ...TwilioOption) *TwilioClient {
	c := &TwilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    defaultTwilioBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type twilioCallResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *TwilioClient) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	if req.To == "" {
		return DialResult{}, fmt.Errorf("telephony: dial target required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", c.fromNumber)
	form.Set("Url", req.VoiceURL)
	form.Set("Method", "POST")
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", "POST")
		form.Set("StatusCallbackEvent", "completed")
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return DialResult{}, fmt.Errorf("telephony: build dial request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return DialResult{}, fmt.Errorf("telephony: dial: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return DialResult{}, fmt.Errorf("telephony: read dial response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr twilioErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return DialResult{}, fmt.Errorf("telephony: dial rejected (status %d, code %d): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return DialResult{}, fmt.Errorf("telephony: dial rejected (status %d)", resp.StatusCode)
	}

	var call twilioCallResponse
	if err := json.Unmarshal(body, &call); err != nil {
		return DialResult{}, fmt.Errorf("telephony: decode dial response: %w", err)
	}
	if call.SID == "" {
		return DialResult{}, fmt.Errorf("telephony: dial response missing call sid")
	}
	return DialResult{CallSID: call.SID, Status: call.Status}, nil
}
