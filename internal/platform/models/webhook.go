package models

import "encoding/json"

// WebhookConfiguration is one tenant-owned outbound delivery destination.
// Configuration timestamps are unix seconds.
type WebhookConfiguration struct {
	ID               string            `json:"id"`
	OrganizationID   string            `json:"organization_id"`
	CallbackURL      string            `json:"callback_url"`
	VerifyToken      string            `json:"verify_token,omitempty"`
	SecretKey        string            `json:"secret_key,omitempty"`
	SubscribedEvents []string          `json:"subscribed_events"` // JSON array in DB; empty means all events
	Platform         string            `json:"platform,omitempty"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
	MaxRetries       int               `json:"max_retries"`
	CustomHeaders    map[string]string `json:"custom_headers,omitempty"` // JSON object in DB
	IsVerified       bool              `json:"is_verified"`
	VerifiedAt       *int64            `json:"verified_at,omitempty"`
	IsActive         bool              `json:"is_active"`
	SuccessCount     int64             `json:"success_count"`
	FailureCount     int64             `json:"failure_count"`
	LastTriggeredAt  *int64            `json:"last_triggered_at,omitempty"`
	LastSuccessAt    *int64            `json:"last_success_at,omitempty"`
	LastFailureAt    *int64            `json:"last_failure_at,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	CreatedAt        int64             `json:"created_at"`
	UpdatedAt        int64             `json:"updated_at"`
}

// Deliverable reports whether deliveries may be attempted.
func (c *WebhookConfiguration) Deliverable() bool {
	return c.IsActive && c.IsVerified
}

func (c *WebhookConfiguration) Subscribes(eventType string) bool {
	if len(c.SubscribedEvents) == 0 {
		return true
	}
	for _, e := range c.SubscribedEvents {
		if e == eventType {
			return true
		}
	}
	return false
}

// Event is an "event occurred" notification emitted by a collaborator.
// Payload is kept verbatim so every attempt re-sends identical bytes.
// CreatedAt is unix milliseconds, like delivery logs.
type Event struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Type           string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      int64           `json:"created_at"`
}

// WebhookEvent is the JSON envelope POSTed to callback URLs.
type WebhookEvent struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"`
	OrgID     string          `json:"org_id"`
	Data      json.RawMessage `json:"data"`
}
