// internal/channel/vapi.go
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

// VoiceSender creates outbound calls through a VAPI-style API. Calls are
// fire-and-forget: the dispatch only initiates the call and the final
// outcome (busy, no_answer, voicemail, completed, failed) arrives on the
// call-status webhook.
type VoiceSender struct {
	APIKey      string
	BaseURL     string
	PhoneNumber string
	HTTPClient  *http.Client
}

func NewVoiceSender(apiKey, baseURL, phoneNumber string, timeout time.Duration) *VoiceSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &VoiceSender{
		APIKey:      apiKey,
		BaseURL:     baseURL,
		PhoneNumber: phoneNumber,
		HTTPClient:  &http.Client{Timeout: timeout},
	}
}

func (s *VoiceSender) Channel() string     { return model.ChannelVoice }
func (s *VoiceSender) Integration() string { return "vapi" }

func (s *VoiceSender) Send(ctx context.Context, msg Message) (*Result, error) {
	if msg.Destination == "" {
		return nil, Terminal("missing destination phone number", nil)
	}

	payload := map[string]any{
		"phoneNumberId": s.PhoneNumber,
		"customer":      map[string]string{"number": msg.Destination},
		"assistantId":   msg.Metadata["assistant_id"],
		"metadata":      map[string]string{"target_id": msg.TargetID},
	}
	if script := msg.Metadata["script"]; script != "" {
		payload["assistantOverrides"] = map[string]any{"firstMessage": script}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Terminal("invalid request payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return nil, Terminal("invalid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vapi request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = map[string]any{}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Result{ExternalID: externalID(decoded, "id"), Raw: decoded, Async: true}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, Terminal(fmt.Sprintf("vapi rejected call (%d)", resp.StatusCode), nil)
	default:
		return nil, fmt.Errorf("vapi returned %d", resp.StatusCode)
	}
}
