package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry records an operator action on a webhook resource: who did what to
// which configuration or delivery.
type Entry struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organization_id"`
	UserID         string                 `json:"user_id"`
	Action         string                 `json:"action"`
	ResourceType   string                 `json:"resource_type"`
	ResourceID     string                 `json:"resource_id"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	IPAddress      string                 `json:"ip_address"`
	UserAgent      string                 `json:"user_agent"`
	CreatedAt      int64                  `json:"created_at"`
}

// Logger writes audit entries as structured log lines tagged
// component=audit, so they can be routed separately by the log pipeline.
type Logger struct {
	out zerolog.Logger
	now func() time.Time
}

func NewLogger(out zerolog.Logger) *Logger {
	return &Logger{
		out: out.With().Str("component", "audit").Logger(),
		now: time.Now,
	}
}

// Log fills in the id and timestamp and writes e. A nil Logger drops it.
func (l *Logger) Log(e Entry) *Entry {
	if l == nil {
		return nil
	}

	e.ID = "audit_" + uuid.New().String()
	e.CreatedAt = l.now().Unix()

	ev := l.out.Info().
		Str("audit_id", e.ID).
		Str("org_id", e.OrganizationID).
		Str("user_id", e.UserID).
		Str("resource_type", e.ResourceType).
		Str("resource_id", e.ResourceID).
		Str("ip_address", e.IPAddress).
		Str("user_agent", e.UserAgent).
		Int64("created_at", e.CreatedAt)
	if len(e.Metadata) > 0 {
		ev = ev.Interface("metadata", e.Metadata)
	}
	ev.Msg(e.Action)

	return &e
}
