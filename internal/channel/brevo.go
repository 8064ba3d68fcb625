// internal/channel/brevo.go
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/unclebandit/outreach-backend/internal/model"
)

// BrevoClient talks to the Brevo transactional API, which carries the
// sms, whatsapp and email channels.
type BrevoClient struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

func NewBrevoClient(apiKey, baseURL string, timeout time.Duration) *BrevoClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrevoClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// post sends a JSON request and classifies the response: 2xx ok, 4xx
// terminal (the provider rejected the request itself), anything else
// transient. Timeouts surface as transport errors, which stay retryable.
func (c *BrevoClient) post(ctx context.Context, path string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Terminal("invalid request payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, Terminal("invalid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brevo request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = map[string]any{}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return decoded, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return decoded, Terminal(fmt.Sprintf("brevo rejected request (%d)", resp.StatusCode), nil)
	default:
		return decoded, fmt.Errorf("brevo returned %d", resp.StatusCode)
	}
}

func externalID(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// SMSSender delivers via Brevo transactional SMS.
type SMSSender struct {
	Client *BrevoClient
	From   string
}

func (s *SMSSender) Channel() string     { return model.ChannelSMS }
func (s *SMSSender) Integration() string { return "brevo" }

func (s *SMSSender) Send(ctx context.Context, msg Message) (*Result, error) {
	if msg.Destination == "" {
		return nil, Terminal("missing destination phone number", nil)
	}
	raw, err := s.Client.post(ctx, "/transactionalSMS/sms", map[string]any{
		"sender":    s.From,
		"recipient": msg.Destination,
		"content":   msg.Body,
	})
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: externalID(raw, "messageId", "reference"), Raw: raw}, nil
}

// WhatsAppSender delivers via Brevo's WhatsApp API.
type WhatsAppSender struct {
	Client *BrevoClient
	From   string
}

func (s *WhatsAppSender) Channel() string     { return model.ChannelWhatsApp }
func (s *WhatsAppSender) Integration() string { return "brevo" }

func (s *WhatsAppSender) Send(ctx context.Context, msg Message) (*Result, error) {
	if msg.Destination == "" {
		return nil, Terminal("missing destination phone number", nil)
	}
	raw, err := s.Client.post(ctx, "/whatsapp/sendMessage", map[string]any{
		"senderNumber":   s.From,
		"contactNumbers": []string{msg.Destination},
		"text":           msg.Body,
	})
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: externalID(raw, "messageId"), Raw: raw}, nil
}

// EmailSender delivers via Brevo transactional email.
type EmailSender struct {
	Client    *BrevoClient
	FromEmail string
	FromName  string
}

func (s *EmailSender) Channel() string     { return model.ChannelEmail }
func (s *EmailSender) Integration() string { return "brevo" }

func (s *EmailSender) Send(ctx context.Context, msg Message) (*Result, error) {
	if msg.Destination == "" {
		return nil, Terminal("missing destination email", nil)
	}
	raw, err := s.Client.post(ctx, "/smtp/email", map[string]any{
		"sender":      map[string]string{"email": s.FromEmail, "name": s.FromName},
		"to":          []map[string]string{{"email": msg.Destination}},
		"subject":     msg.Subject,
		"htmlContent": msg.Body,
	})
	if err != nil {
		return nil, err
	}
	return &Result{ExternalID: externalID(raw, "messageId"), Raw: raw}, nil
}
