package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// RoutePrefix is the path under which webhook ingress is served.
const RoutePrefix = "/api/v1/webhook/mqtt/"

// Signer derives per-device webhook tokens from a server secret.
//
// A token is the hex HMAC-SHA256 of the device ID and the owning user's
// ID, so rotating the secret invalidates every issued URL.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer. The secret must not be empty.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Token returns the token for a device.
func (s *Signer) Token(deviceID, userID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(deviceID))
	mac.Write([]byte{0})
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether token was issued for the device. The comparison
// runs in constant time.
func (s *Signer) Verify(deviceID, userID, token string) bool {
	if token == "" {
		return false
	}
	expected := s.Token(deviceID, userID)
	return hmac.Equal([]byte(expected), []byte(token))
}

// URL returns the full webhook URL for a device under baseURL.
func (s *Signer) URL(baseURL, deviceID, userID string) string {
	return strings.TrimRight(baseURL, "/") + RoutePrefix + url.PathEscape(deviceID) +
		"?token=" + url.QueryEscape(s.Token(deviceID, userID))
}

// Instructions describes how a device should call its webhook.
type Instructions struct {
	WebhookURL  string   `json:"webhook_url"`
	Method      string   `json:"method"`
	ContentType string   `json:"content_type"`
	Steps       []string `json:"instructions"`
	ExampleCurl string   `json:"example_curl"`
}

// InstructionsFor builds the integration instructions for a device.
func (s *Signer) InstructionsFor(baseURL, deviceID, userID string) Instructions {
	u := s.URL(baseURL, deviceID, userID)
	return Instructions{
		WebhookURL:  u,
		Method:      "POST",
		ContentType: "application/json",
		Steps: []string{
			"Send sensor data to the webhook URL using HTTP POST",
			"Include the Content-Type: application/json header",
			`Structured format: {"sensors": [{"type": "temperature", "value": 25.5}, {"type": "humidity", "value": 60}]}`,
			`Flat format: {"temperature": 25.5, "humidity": 60, "battery": 85}`,
			"Sensors are created on first reading",
		},
		ExampleCurl: "curl -X POST '" + u + `' -H 'Content-Type: application/json' -d '{"temperature": 25.5, "humidity": 60}'`,
	}
}
