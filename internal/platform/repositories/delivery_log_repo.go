package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"hookline/internal/platform/database"
	"hookline/internal/platform/models"
)

const logColumns = `id, configuration_id, organization_id, event_id, event_type, status, attempt_number, max_attempts,
	request_payload_hash, response_status_code, response_snippet, error_message, duration_ms,
	scheduled_at, attempted_at, next_retry_at, claim_token, claimed_until, created_at, updated_at`

// DeliveryLogRepository stores emitted events and the delivery log rows
// that reference them.
type DeliveryLogRepository struct {
	db *database.DB
}

func NewDeliveryLogRepository(db *database.DB) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db}
}

func (r *DeliveryLogRepository) CreateEvent(ctx context.Context, e *models.Event) error {
	if e.ID == "" {
		e.ID = "evt_" + uuid.New().String()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO webhook_events (id, organization_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), e.ID, e.OrganizationID, e.Type, string(e.Payload), e.CreatedAt)
	return err
}

func (r *DeliveryLogRepository) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	var payload string
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, organization_id, event_type, payload, created_at FROM webhook_events WHERE id = ?
	`), id).Scan(&e.ID, &e.OrganizationID, &e.Type, &payload, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Payload = []byte(payload)
	return &e, nil
}

// Create inserts a new log row. The caller sets ClaimToken/ClaimedUntil when
// it intends to attempt the delivery itself.
func (r *DeliveryLogRepository) Create(ctx context.Context, l *models.DeliveryLog) error {
	if l.ID == "" {
		l.ID = "dlv_" + uuid.New().String()
	}
	now := time.Now().UnixMilli()
	if l.CreatedAt == 0 {
		l.CreatedAt = now
	}
	if l.ScheduledAt == 0 {
		l.ScheduledAt = l.CreatedAt
	}
	l.UpdatedAt = l.CreatedAt
	if l.Status == "" {
		l.Status = models.DeliveryPending
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO webhook_delivery_logs (id, configuration_id, organization_id, event_id, event_type, status,
			attempt_number, max_attempts, request_payload_hash, scheduled_at, next_retry_at, claim_token, claimed_until,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), l.ID, l.ConfigurationID, l.OrganizationID, l.EventID, l.EventType, string(l.Status),
		l.AttemptNumber, l.MaxAttempts, l.RequestPayloadHash, l.ScheduledAt, nullInt64(l.NextRetryAt),
		nullString(l.ClaimToken), nullInt64(l.ClaimedUntil), l.CreatedAt, l.UpdatedAt)
	return err
}

func (r *DeliveryLogRepository) GetByID(ctx context.Context, id string) (*models.DeliveryLog, error) {
	return scanLog(r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+logColumns+` FROM webhook_delivery_logs WHERE id = ?`), id))
}

func (r *DeliveryLogRepository) GetForOrg(ctx context.Context, orgID, id string) (*models.DeliveryLog, error) {
	return scanLog(r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+logColumns+` FROM webhook_delivery_logs WHERE id = ? AND organization_id = ?
	`), id, orgID))
}

// SaveAttempt persists the outcome of an attempt and releases the claim.
// It only succeeds while l.ClaimToken still owns the row.
func (r *DeliveryLogRepository) SaveAttempt(ctx context.Context, l *models.DeliveryLog) error {
	l.UpdatedAt = time.Now().UnixMilli()

	var code sql.NullInt64
	if l.ResponseStatusCode != nil {
		code = sql.NullInt64{Int64: int64(*l.ResponseStatusCode), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE webhook_delivery_logs
		SET status = ?, attempt_number = ?, request_payload_hash = ?, response_status_code = ?, response_snippet = ?,
			error_message = ?, duration_ms = ?, attempted_at = ?, next_retry_at = ?,
			claim_token = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND claim_token = ?
	`), string(l.Status), l.AttemptNumber, l.RequestPayloadHash, code, l.ResponseSnippet,
		l.ErrorMessage, l.DurationMs, nullInt64(l.AttemptedAt), nullInt64(l.NextRetryAt),
		l.UpdatedAt, l.ID, l.ClaimToken)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClaimLost
	}
	l.ClaimToken = ""
	l.ClaimedUntil = nil
	return nil
}

// RenewClaim extends the lease held under l.ClaimToken to until (unix ms).
// It fails with ErrClaimLost when the token no longer owns the row, e.g.
// after the scheduler re-leased it or the row reached a terminal status.
func (r *DeliveryLogRepository) RenewClaim(ctx context.Context, l *models.DeliveryLog, until int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE webhook_delivery_logs
		SET claimed_until = ?
		WHERE id = ? AND claim_token = ? AND status IN ('pending', 'retrying')
	`), until, l.ID, l.ClaimToken)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClaimLost
	}
	l.ClaimedUntil = &until
	return nil
}

// ClaimDue leases up to limit pending/retrying rows whose retry time has
// passed and whose previous lease, if any, has expired. Each row is taken
// with a conditional update so concurrent schedulers never share a row.
func (r *DeliveryLogRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.DeliveryLog, error) {
	nowMs := now.UnixMilli()
	until := now.Add(lease).UnixMilli()

	ids, err := r.dueIDs(ctx, nowMs, limit)
	if err != nil {
		return nil, err
	}

	claimQuery := r.db.Rebind(`
		UPDATE webhook_delivery_logs
		SET claim_token = ?, claimed_until = ?
		WHERE id = ? AND status IN ('pending', 'retrying')
			AND (next_retry_at IS NULL OR next_retry_at <= ?)
			AND (claimed_until IS NULL OR claimed_until <= ?)
	`)

	var claimed []*models.DeliveryLog
	for _, id := range ids {
		token := uuid.New().String()
		res, err := r.db.ExecContext(ctx, claimQuery, token, until, id, nowMs, nowMs)
		if err != nil {
			return claimed, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return claimed, err
		}
		if n == 0 {
			continue
		}

		l, err := r.GetByID(ctx, id)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, l)
	}
	return claimed, nil
}

// dueIDs reads candidates fully before any claim is attempted; sqlite runs
// with a single connection and an open cursor would block the updates.
func (r *DeliveryLogRepository) dueIDs(ctx context.Context, nowMs int64, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT id FROM webhook_delivery_logs
		WHERE status IN ('pending', 'retrying')
			AND (next_retry_at IS NULL OR next_retry_at <= ?)
			AND (claimed_until IS NULL OR claimed_until <= ?)
		ORDER BY COALESCE(next_retry_at, scheduled_at), id
		LIMIT ?
	`), nowMs, nowMs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Requeue resets a terminal failed or cancelled log so the next scheduler
// pass picks it up. The attempt counter starts over against maxAttempts.
func (r *DeliveryLogRepository) Requeue(ctx context.Context, orgID, id string, maxAttempts int) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE webhook_delivery_logs
		SET status = ?, attempt_number = 0, max_attempts = ?, next_retry_at = NULL, scheduled_at = ?,
			claim_token = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND organization_id = ? AND status IN ('failed', 'cancelled')
	`), string(models.DeliveryPending), maxAttempts, time.Now().UnixMilli(), time.Now().UnixMilli(), id, orgID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// List returns one page of logs, newest first, and the total matching count.
func (r *DeliveryLogRepository) List(ctx context.Context, f models.DeliveryLogFilter) ([]*models.DeliveryLog, int, error) {
	var where []string
	var args []any
	if f.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, f.OrganizationID)
	}
	if f.ConfigurationID != "" {
		where = append(where, "configuration_id = ?")
		args = append(args, f.ConfigurationID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM webhook_delivery_logs`+clause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := r.db.Rebind(`SELECT ` + logColumns + ` FROM webhook_delivery_logs` + clause + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`)
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var logs []*models.DeliveryLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, l)
	}
	return logs, total, rows.Err()
}

// Stats counts logs per status for a configuration created at or after since (unix ms).
func (r *DeliveryLogRepository) Stats(ctx context.Context, configID string, since int64) (*models.DeliveryStats, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT status, COUNT(*) FROM webhook_delivery_logs
		WHERE configuration_id = ? AND created_at >= ?
		GROUP BY status
	`), configID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.DeliveryStats{ConfigurationID: configID, WindowStart: since}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.Total += n
		switch models.DeliveryStatus(status) {
		case models.DeliverySuccess:
			stats.Success = n
		case models.DeliveryFailed:
			stats.Failed = n
		case models.DeliveryRetrying:
			stats.Retrying = n
		case models.DeliveryPending:
			stats.Pending = n
		case models.DeliveryCancelled:
			stats.Cancelled = n
		}
	}
	return stats, rows.Err()
}

// PurgeOlderThan deletes terminal logs created before the cutoff (unix ms),
// then events no log references any more.
func (r *DeliveryLogRepository) PurgeOlderThan(ctx context.Context, before int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM webhook_delivery_logs
		WHERE created_at < ? AND status IN ('success', 'failed', 'cancelled')
	`), before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM webhook_events
		WHERE created_at < ? AND NOT EXISTS (
			SELECT 1 FROM webhook_delivery_logs l WHERE l.event_id = webhook_events.id
		)
	`), before)
	return n, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func scanLog(row scanner) (*models.DeliveryLog, error) {
	var l models.DeliveryLog
	var status string
	var code sql.NullInt64
	var attemptedAt, nextRetryAt, claimedUntil sql.NullInt64
	var claimToken sql.NullString

	err := row.Scan(&l.ID, &l.ConfigurationID, &l.OrganizationID, &l.EventID, &l.EventType, &status,
		&l.AttemptNumber, &l.MaxAttempts, &l.RequestPayloadHash, &code, &l.ResponseSnippet, &l.ErrorMessage,
		&l.DurationMs, &l.ScheduledAt, &attemptedAt, &nextRetryAt, &claimToken, &claimedUntil,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	l.Status = models.DeliveryStatus(status)
	if code.Valid {
		c := int(code.Int64)
		l.ResponseStatusCode = &c
	}
	l.AttemptedAt = int64Ptr(attemptedAt)
	l.NextRetryAt = int64Ptr(nextRetryAt)
	l.ClaimedUntil = int64Ptr(claimedUntil)
	l.ClaimToken = claimToken.String
	return &l, nil
}
