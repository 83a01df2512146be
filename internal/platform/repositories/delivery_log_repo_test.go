package repositories

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookline/internal/platform/models"
)

func newTestLog(t *testing.T, logs *DeliveryLogRepository, c *models.WebhookConfiguration) *models.DeliveryLog {
	t.Helper()
	ctx := context.Background()

	e := &models.Event{OrganizationID: c.OrganizationID, Type: "post.published", Payload: json.RawMessage(`{"post_id":1}`)}
	require.NoError(t, logs.CreateEvent(ctx, e))

	l := &models.DeliveryLog{
		ConfigurationID: c.ID,
		OrganizationID:  c.OrganizationID,
		EventID:         e.ID,
		EventType:       e.Type,
		MaxAttempts:     c.MaxRetries + 1,
	}
	require.NoError(t, logs.Create(ctx, l))
	return l
}

func setupLogs(t *testing.T) (*DeliveryLogRepository, *models.WebhookConfiguration) {
	t.Helper()
	db := newTestDB(t)
	c := newTestConfig("org_1")
	require.NoError(t, NewWebhookRepository(db).Create(context.Background(), c))
	return NewDeliveryLogRepository(db), c
}

func TestDeliveryLogRepository_EventRoundTrip(t *testing.T) {
	logs, _ := setupLogs(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"b":2,"a":1}`)
	e := &models.Event{OrganizationID: "org_1", Type: "post.published", Payload: payload}
	require.NoError(t, logs.CreateEvent(ctx, e))

	got, err := logs.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, string(payload), string(got.Payload))

	_, err = logs.GetEvent(ctx, "evt_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeliveryLogRepository_ClaimDueIsExclusive(t *testing.T) {
	logs, c := setupLogs(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		newTestLog(t, logs, c)
	}

	now := time.Now()
	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := logs.ClaimDue(ctx, now, time.Minute, 10)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, l := range got {
				claimed[l.ID]++
				assert.NotEmpty(t, l.ClaimToken)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 10)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "log %s claimed more than once", id)
	}

	// Leased rows are invisible until the lease expires.
	got, err := logs.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = logs.ClaimDue(ctx, now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestDeliveryLogRepository_ClaimDueRespectsNextRetry(t *testing.T) {
	logs, c := setupLogs(t)
	ctx := context.Background()

	l := newTestLog(t, logs, c)
	claimed, err := logs.ClaimDue(ctx, time.Now(), time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	l = claimed[0]
	next := time.Now().Add(time.Hour).UnixMilli()
	l.Status = models.DeliveryRetrying
	l.AttemptNumber = 1
	l.NextRetryAt = &next
	require.NoError(t, logs.SaveAttempt(ctx, l))

	got, err := logs.ClaimDue(ctx, time.Now(), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = logs.ClaimDue(ctx, time.Now().Add(2*time.Hour), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].AttemptNumber)
}

func TestDeliveryLogRepository_SaveAttemptRequiresClaim(t *testing.T) {
	logs, c := setupLogs(t)
	ctx := context.Background()

	l := newTestLog(t, logs, c)
	l.Status = models.DeliverySuccess
	assert.ErrorIs(t, logs.SaveAttempt(ctx, l), ErrClaimLost)

	claimed, err := logs.ClaimDue(ctx, time.Now(), time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	stale := *claimed[0]
	stale.ClaimToken = "someone-else"
	stale.Status = models.DeliveryFailed
	assert.ErrorIs(t, logs.SaveAttempt(ctx, &stale), ErrClaimLost)

	owned := claimed[0]
	code := 200
	at := time.Now().UnixMilli()
	owned.Status = models.DeliverySuccess
	owned.AttemptNumber = 1
	owned.ResponseStatusCode = &code
	owned.ResponseSnippet = "ok"
	owned.AttemptedAt = &at
	require.NoError(t, logs.SaveAttempt(ctx, owned))
	assert.Empty(t, owned.ClaimToken)

	got, err := logs.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySuccess, got.Status)
	require.NotNil(t, got.ResponseStatusCode)
	assert.Equal(t, 200, *got.ResponseStatusCode)
	assert.Nil(t, got.ClaimedUntil)
}

func TestDeliveryLogRepository_Requeue(t *testing.T) {
	logs, c := setupLogs(t)
	ctx := context.Background()

	l := newTestLog(t, logs, c)
	assert.ErrorIs(t, logs.Requeue(ctx, "org_1", l.ID, 4), ErrNotFound, "pending logs are not requeued")

	claimed, err := logs.ClaimDue(ctx, time.Now(), time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	claimed[0].Status = models.DeliveryFailed
	claimed[0].AttemptNumber = 4
	claimed[0].ErrorMessage = "non_2xx:500"
	require.NoError(t, logs.SaveAttempt(ctx, claimed[0]))

	assert.ErrorIs(t, logs.Requeue(ctx, "org_2", l.ID, 2), ErrNotFound)
	require.NoError(t, logs.Requeue(ctx, "org_1", l.ID, 2))

	got, err := logs.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPending, got.Status)
	assert.Equal(t, 0, got.AttemptNumber)
	assert.Equal(t, 2, got.MaxAttempts)
	assert.Nil(t, got.NextRetryAt)

	due, err := logs.ClaimDue(ctx, time.Now(), time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestDeliveryLogRepository_ListAndStats(t *testing.T) {
	logs, c := setupLogs(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		newTestLog(t, logs, c)
	}
	claimed, err := logs.ClaimDue(ctx, time.Now(), time.Minute, 3)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for i, l := range claimed {
		l.AttemptNumber = 1
		if i == 0 {
			l.Status = models.DeliveryFailed
		} else {
			l.Status = models.DeliverySuccess
		}
		require.NoError(t, logs.SaveAttempt(ctx, l))
	}

	page, total, err := logs.List(ctx, models.DeliveryLogFilter{OrganizationID: "org_1", ConfigurationID: c.ID, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2)

	page, total, err = logs.List(ctx, models.DeliveryLogFilter{OrganizationID: "org_1", Status: models.DeliverySuccess})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, page, 2)

	stats, err := logs.Stats(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Success)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.Pending)

	stats, err = logs.Stats(ctx, c.ID, time.Now().Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestDeliveryLogRepository_PurgeOlderThan(t *testing.T) {
	logs, c := setupLogs(t)
	ctx := context.Background()

	done := newTestLog(t, logs, c)
	open := newTestLog(t, logs, c)

	claimed, err := logs.ClaimDue(ctx, time.Now(), time.Minute, 10)
	require.NoError(t, err)
	for _, l := range claimed {
		if l.ID == done.ID {
			l.Status = models.DeliverySuccess
			l.AttemptNumber = 1
			require.NoError(t, logs.SaveAttempt(ctx, l))
		}
	}

	n, err := logs.PurgeOlderThan(ctx, time.Now().Add(time.Minute).UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = logs.GetByID(ctx, done.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = logs.GetEvent(ctx, done.EventID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = logs.GetByID(ctx, open.ID)
	assert.NoError(t, err)
	_, err = logs.GetEvent(ctx, open.EventID)
	assert.NoError(t, err)
}

func TestDeliveryLogRepository_RenewClaim(t *testing.T) {
	logs, c := setupLogs(t)
	ctx := context.Background()

	newTestLog(t, logs, c)
	start := time.Now()
	claimed, err := logs.ClaimDue(ctx, start, time.Second, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	first := claimed[0]

	until := start.Add(time.Hour).UnixMilli()
	require.NoError(t, logs.RenewClaim(ctx, first, until))
	require.NotNil(t, first.ClaimedUntil)
	assert.Equal(t, until, *first.ClaimedUntil)

	// The original one second lease would have expired by now.
	got, err := logs.ClaimDue(ctx, start.Add(time.Minute), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = logs.ClaimDue(ctx, start.Add(2*time.Hour), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	second := got[0]
	assert.NotEqual(t, first.ClaimToken, second.ClaimToken)

	assert.ErrorIs(t, logs.RenewClaim(ctx, first, start.Add(3*time.Hour).UnixMilli()), ErrClaimLost)
	assert.NoError(t, logs.RenewClaim(ctx, second, start.Add(3*time.Hour).UnixMilli()))

	second.Status = models.DeliverySuccess
	second.AttemptNumber = 1
	require.NoError(t, logs.SaveAttempt(ctx, second))

	// Terminal rows cannot be leased again.
	second.ClaimToken = first.ClaimToken
	assert.ErrorIs(t, logs.RenewClaim(ctx, second, start.Add(4*time.Hour).UnixMilli()), ErrClaimLost)
}
