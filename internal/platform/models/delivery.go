package models

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySuccess   DeliveryStatus = "success"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryRetrying  DeliveryStatus = "retrying"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySuccess || s == DeliveryFailed || s == DeliveryCancelled
}

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliverySuccess, DeliveryFailed, DeliveryRetrying, DeliveryCancelled:
		return true
	}
	return false
}

// DeliveryLog records one logical delivery of an event to a configuration.
// Retries mutate the row in place; AttemptNumber counts attempts made so far.
// Timestamps are unix milliseconds.
type DeliveryLog struct {
	ID                 string         `json:"id"`
	ConfigurationID    string         `json:"configuration_id"`
	OrganizationID     string         `json:"organization_id"`
	EventID            string         `json:"event_id"`
	EventType          string         `json:"event_type"`
	Status             DeliveryStatus `json:"status"`
	AttemptNumber      int            `json:"attempt_number"`
	MaxAttempts        int            `json:"max_attempts"`
	RequestPayloadHash string         `json:"request_payload_hash,omitempty"`
	ResponseStatusCode *int           `json:"response_status_code,omitempty"`
	ResponseSnippet    string         `json:"response_snippet,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	DurationMs         int64          `json:"duration_ms"`
	ScheduledAt        int64          `json:"scheduled_at"`
	AttemptedAt        *int64         `json:"attempted_at,omitempty"`
	NextRetryAt        *int64         `json:"next_retry_at,omitempty"`
	ClaimToken         string         `json:"-"`
	ClaimedUntil       *int64         `json:"-"`
	CreatedAt          int64          `json:"created_at"`
	UpdatedAt          int64          `json:"updated_at"`
}

type DeliveryLogFilter struct {
	OrganizationID  string
	ConfigurationID string
	Status          DeliveryStatus
	Limit           int
	Offset          int
}

type DeliveryStats struct {
	ConfigurationID string `json:"configuration_id"`
	WindowStart     int64  `json:"window_start"`
	Total           int    `json:"total"`
	Success         int    `json:"success"`
	Failed          int    `json:"failed"`
	Retrying        int    `json:"retrying"`
	Pending         int    `json:"pending"`
	Cancelled       int    `json:"cancelled"`
}
