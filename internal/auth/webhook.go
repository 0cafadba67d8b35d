package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Lifecycle event types emitted by the identity provider.
const (
	EventUserCreated = "user.created"
	EventUserDeleted = "user.deleted"
)

// UserEvent is a parsed identity-provider lifecycle event.
type UserEvent struct {
	Type   string
	UserID string
	Email  string
	Name   string
}

// WebhookVerifier checks svix-style webhook signatures: HMAC-SHA256 over
// "id.timestamp.body" with the base64 portion of the shared secret.
type WebhookVerifier struct {
	secret []byte
}

func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	if secret == "" {
		return nil, errors.New("webhook secret not configured")
	}
	parts := strings.SplitN(secret, "_", 2)
	decoded, err := base64.StdEncoding.DecodeString(parts[len(parts)-1])
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	return &WebhookVerifier{secret: decoded}, nil
}

// Verify accepts the payload when any signature in the space-separated header
// list carries the "v1," scheme and matches.
func (v *WebhookVerifier) Verify(id, timestamp string, body []byte, signatureHeader string) bool {
	if id == "" || timestamp == "" || signatureHeader == "" {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s.%s.%s", id, timestamp, body)
	expected := mac.Sum(nil)

	for _, sig := range strings.Split(signatureHeader, " ") {
		if !strings.HasPrefix(sig, "v1,") {
			continue
		}
		provided, err := base64.StdEncoding.DecodeString(sig[3:])
		if err != nil {
			continue
		}
		if hmac.Equal(expected, provided) {
			return true
		}
	}
	return false
}

// ExtractUserEvent parses a lifecycle payload. Returns nil for event types we
// do not handle.
func ExtractUserEvent(body []byte) (*UserEvent, error) {
	var payload struct {
		Type string `json:"type"`
		Data struct {
			ID             string `json:"id"`
			FirstName      string `json:"first_name"`
			LastName       string `json:"last_name"`
			EmailAddresses []struct {
				EmailAddress string `json:"email_address"`
			} `json:"email_addresses"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	if payload.Type != EventUserCreated && payload.Type != EventUserDeleted {
		return nil, nil
	}
	if payload.Data.ID == "" {
		return nil, errors.New("webhook payload missing user id")
	}

	event := &UserEvent{Type: payload.Type, UserID: payload.Data.ID}
	if payload.Type == EventUserCreated {
		if len(payload.Data.EmailAddresses) > 0 {
			event.Email = payload.Data.EmailAddresses[0].EmailAddress
		}
		event.Name = strings.TrimSpace(payload.Data.FirstName + " " + payload.Data.LastName)
	}
	return event, nil
}
