package webhooks

import (
	"context"
	"time"

	"hookline/internal/platform/models"
	"hookline/internal/platform/repositories"
)

// ConfigurationStore persists webhook configurations. Counter updates must
// be atomic increments in the store, never read-modify-write.
type ConfigurationStore interface {
	Create(ctx context.Context, c *models.WebhookConfiguration) error
	GetByID(ctx context.Context, id string) (*models.WebhookConfiguration, error)
	GetForOrg(ctx context.Context, orgID, id string) (*models.WebhookConfiguration, error)
	ListByOrg(ctx context.Context, orgID string) ([]*models.WebhookConfiguration, error)
	ListSubscribed(ctx context.Context, orgID, eventType string) ([]*models.WebhookConfiguration, error)
	Update(ctx context.Context, c *models.WebhookConfiguration) error
	Delete(ctx context.Context, orgID, id string) error
	MarkVerified(ctx context.Context, id string, verified bool, at int64) error
	SetActive(ctx context.Context, orgID, id string, active bool) error
	RotateVerifyToken(ctx context.Context, orgID, id, token string) error
	RotateSecretKey(ctx context.Context, orgID, id, secret string) error
	RecordSuccess(ctx context.Context, id string, at int64) error
	RecordFailure(ctx context.Context, id string, at int64, lastError string) error
}

// DeliveryLogStore persists events and delivery logs. SaveAttempt and
// ClaimDue are compare-and-swap operations on the row's claim token.
type DeliveryLogStore interface {
	CreateEvent(ctx context.Context, e *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	Create(ctx context.Context, l *models.DeliveryLog) error
	GetByID(ctx context.Context, id string) (*models.DeliveryLog, error)
	GetForOrg(ctx context.Context, orgID, id string) (*models.DeliveryLog, error)
	SaveAttempt(ctx context.Context, l *models.DeliveryLog) error
	RenewClaim(ctx context.Context, l *models.DeliveryLog, until int64) error
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.DeliveryLog, error)
	Requeue(ctx context.Context, orgID, id string, maxAttempts int) error
	List(ctx context.Context, f models.DeliveryLogFilter) ([]*models.DeliveryLog, int, error)
	Stats(ctx context.Context, configID string, since int64) (*models.DeliveryStats, error)
	PurgeOlderThan(ctx context.Context, before int64) (int64, error)
}

var (
	_ ConfigurationStore = (*repositories.WebhookRepository)(nil)
	_ DeliveryLogStore   = (*repositories.DeliveryLogRepository)(nil)
)
