package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"hookline/internal/platform/database"
	"hookline/internal/platform/models"
)

const configColumns = `id, organization_id, callback_url, verify_token, secret_key, subscribed_events, platform,
	timeout_seconds, max_retries, custom_headers, is_verified, verified_at, is_active,
	success_count, failure_count, last_triggered_at, last_success_at, last_failure_at, last_error,
	created_at, updated_at`

// WebhookRepository is the configuration store.
type WebhookRepository struct {
	db *database.DB
}

func NewWebhookRepository(db *database.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Create(ctx context.Context, c *models.WebhookConfiguration) error {
	if c.ID == "" {
		c.ID = "whc_" + uuid.New().String()
	}
	now := time.Now().Unix()
	c.CreatedAt = now
	c.UpdatedAt = now

	events, headers, err := encodeConfigJSON(c)
	if err != nil {
		return err
	}

	query := r.db.Rebind(`
		INSERT INTO webhook_configurations (id, organization_id, callback_url, verify_token, secret_key,
			subscribed_events, platform, timeout_seconds, max_retries, custom_headers, is_verified, verified_at,
			is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = r.db.ExecContext(ctx, query, c.ID, c.OrganizationID, c.CallbackURL, c.VerifyToken, c.SecretKey,
		events, c.Platform, c.TimeoutSeconds, c.MaxRetries, headers, c.IsVerified, nullInt64(c.VerifiedAt),
		c.IsActive, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetByID loads a configuration regardless of owner. Used by the delivery
// engine, which works from log rows rather than request scope.
func (r *WebhookRepository) GetByID(ctx context.Context, id string) (*models.WebhookConfiguration, error) {
	query := r.db.Rebind(`SELECT ` + configColumns + ` FROM webhook_configurations WHERE id = ?`)
	return scanConfig(r.db.QueryRowContext(ctx, query, id))
}

func (r *WebhookRepository) GetForOrg(ctx context.Context, orgID, id string) (*models.WebhookConfiguration, error) {
	query := r.db.Rebind(`SELECT ` + configColumns + ` FROM webhook_configurations WHERE id = ? AND organization_id = ?`)
	return scanConfig(r.db.QueryRowContext(ctx, query, id, orgID))
}

func (r *WebhookRepository) ListByOrg(ctx context.Context, orgID string) ([]*models.WebhookConfiguration, error) {
	query := r.db.Rebind(`SELECT ` + configColumns + ` FROM webhook_configurations WHERE organization_id = ? ORDER BY created_at DESC, id`)
	return r.list(ctx, query, orgID)
}

// ListSubscribed returns the active, verified configurations of an org that
// want eventType. Subscription sets are JSON, so filtering happens here.
func (r *WebhookRepository) ListSubscribed(ctx context.Context, orgID, eventType string) ([]*models.WebhookConfiguration, error) {
	query := r.db.Rebind(`SELECT ` + configColumns + ` FROM webhook_configurations
		WHERE organization_id = ? AND is_active = ? AND is_verified = ? ORDER BY created_at, id`)
	all, err := r.list(ctx, query, orgID, true, true)
	if err != nil {
		return nil, err
	}

	var matched []*models.WebhookConfiguration
	for _, c := range all {
		if c.Subscribes(eventType) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

func (r *WebhookRepository) list(ctx context.Context, query string, args ...any) ([]*models.WebhookConfiguration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*models.WebhookConfiguration
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// Update writes the mutable policy fields. Verification flags are never
// written from c: a changed callback_url clears them in the same statement,
// otherwise the stored values stand. On return c carries the stored flags.
func (r *WebhookRepository) Update(ctx context.Context, c *models.WebhookConfiguration) error {
	events, headers, err := encodeConfigJSON(c)
	if err != nil {
		return err
	}
	c.UpdatedAt = time.Now().Unix()

	// SET expressions see the row as it was before the update, so the CASEs
	// compare against the old callback_url.
	query := r.db.Rebind(`
		UPDATE webhook_configurations
		SET is_verified = CASE WHEN callback_url <> ? THEN ? ELSE is_verified END,
			is_active = CASE WHEN callback_url <> ? THEN ? ELSE is_active END,
			verified_at = CASE WHEN callback_url <> ? THEN NULL ELSE verified_at END,
			callback_url = ?, subscribed_events = ?, platform = ?, timeout_seconds = ?, max_retries = ?,
			custom_headers = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?
	`)
	res, err := r.db.ExecContext(ctx, query,
		c.CallbackURL, false, c.CallbackURL, false, c.CallbackURL,
		c.CallbackURL, events, c.Platform, c.TimeoutSeconds, c.MaxRetries, headers, c.UpdatedAt,
		c.ID, c.OrganizationID)
	if err != nil {
		return err
	}
	if err := affectedOrNotFound(res); err != nil {
		return err
	}

	stored, err := r.GetForOrg(ctx, c.OrganizationID, c.ID)
	if err != nil {
		return err
	}
	c.IsVerified = stored.IsVerified
	c.IsActive = stored.IsActive
	c.VerifiedAt = stored.VerifiedAt
	c.VerifyToken = stored.VerifyToken
	return nil
}

// Delete removes the configuration and its delivery logs in one transaction.
func (r *WebhookRepository) Delete(ctx context.Context, orgID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM webhook_delivery_logs WHERE configuration_id = ?`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM webhook_configurations WHERE id = ? AND organization_id = ?`), id, orgID)
	if err != nil {
		return err
	}
	if err := affectedOrNotFound(res); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkVerified records a handshake result. A failed handshake also clears
// is_active so an active row is never unverified.
func (r *WebhookRepository) MarkVerified(ctx context.Context, id string, verified bool, at int64) error {
	var (
		res sql.Result
		err error
	)
	if verified {
		res, err = r.db.ExecContext(ctx, r.db.Rebind(`
			UPDATE webhook_configurations SET is_verified = ?, verified_at = ?, updated_at = ? WHERE id = ?
		`), true, at, at, id)
	} else {
		res, err = r.db.ExecContext(ctx, r.db.Rebind(`
			UPDATE webhook_configurations SET is_verified = ?, is_active = ?, verified_at = NULL, updated_at = ? WHERE id = ?
		`), false, false, at, id)
	}
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// SetActive flips is_active. Activation only matches verified rows.
func (r *WebhookRepository) SetActive(ctx context.Context, orgID, id string, active bool) error {
	query := `UPDATE webhook_configurations SET is_active = ?, updated_at = ? WHERE id = ? AND organization_id = ?`
	args := []any{active, time.Now().Unix(), id, orgID}
	if active {
		query += ` AND is_verified = ?`
		args = append(args, true)
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// RotateVerifyToken replaces the handshake token and drops verification.
func (r *WebhookRepository) RotateVerifyToken(ctx context.Context, orgID, id, token string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE webhook_configurations
		SET verify_token = ?, is_verified = ?, is_active = ?, verified_at = NULL, updated_at = ?
		WHERE id = ? AND organization_id = ?
	`), token, false, false, time.Now().Unix(), id, orgID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r *WebhookRepository) RotateSecretKey(ctx context.Context, orgID, id, secret string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE webhook_configurations SET secret_key = ?, updated_at = ? WHERE id = ? AND organization_id = ?
	`), secret, time.Now().Unix(), id, orgID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r *WebhookRepository) RecordSuccess(ctx context.Context, id string, at int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE webhook_configurations
		SET success_count = success_count + 1, last_triggered_at = ?, last_success_at = ?
		WHERE id = ?
	`), at, at, id)
	return err
}

func (r *WebhookRepository) RecordFailure(ctx context.Context, id string, at int64, lastError string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE webhook_configurations
		SET failure_count = failure_count + 1, last_triggered_at = ?, last_failure_at = ?, last_error = ?
		WHERE id = ?
	`), at, at, lastError, id)
	return err
}

func encodeConfigJSON(c *models.WebhookConfiguration) (string, string, error) {
	events := c.SubscribedEvents
	if events == nil {
		events = []string{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return "", "", err
	}
	headers := c.CustomHeaders
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return "", "", err
	}
	return string(eventsJSON), string(headersJSON), nil
}

func scanConfig(row scanner) (*models.WebhookConfiguration, error) {
	var c models.WebhookConfiguration
	var eventsStr, headersStr string
	var verifiedAt, lastTriggeredAt, lastSuccessAt, lastFailureAt sql.NullInt64

	err := row.Scan(&c.ID, &c.OrganizationID, &c.CallbackURL, &c.VerifyToken, &c.SecretKey, &eventsStr, &c.Platform,
		&c.TimeoutSeconds, &c.MaxRetries, &headersStr, &c.IsVerified, &verifiedAt, &c.IsActive,
		&c.SuccessCount, &c.FailureCount, &lastTriggeredAt, &lastSuccessAt, &lastFailureAt, &c.LastError,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	c.VerifiedAt = int64Ptr(verifiedAt)
	c.LastTriggeredAt = int64Ptr(lastTriggeredAt)
	c.LastSuccessAt = int64Ptr(lastSuccessAt)
	c.LastFailureAt = int64Ptr(lastFailureAt)

	if err := json.Unmarshal([]byte(eventsStr), &c.SubscribedEvents); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headersStr), &c.CustomHeaders); err != nil {
		return nil, err
	}
	return &c, nil
}
