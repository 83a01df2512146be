package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookline/internal/platform/database"
)

func TestWebhookRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewWebhookRepository(newTestDB(t))

	c := newTestConfig("org_1")
	require.NoError(t, repo.Create(ctx, c))
	assert.NotEmpty(t, c.ID)

	got, err := repo.GetForOrg(ctx, "org_1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.CallbackURL, got.CallbackURL)
	assert.Equal(t, []string{"post.published"}, got.SubscribedEvents)
	assert.Equal(t, "growth", got.CustomHeaders["X-Team"])
	assert.False(t, got.IsVerified)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.VerifiedAt)

	_, err = repo.GetForOrg(ctx, "org_other", c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWebhookRepository_ActiveRequiresVerified(t *testing.T) {
	ctx := context.Background()
	repo := NewWebhookRepository(newTestDB(t))

	c := newTestConfig("org_1")
	require.NoError(t, repo.Create(ctx, c))

	assert.ErrorIs(t, repo.SetActive(ctx, "org_1", c.ID, true), ErrNotFound)

	require.NoError(t, repo.MarkVerified(ctx, c.ID, true, 100))
	require.NoError(t, repo.SetActive(ctx, "org_1", c.ID, true))

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	require.NotNil(t, got.VerifiedAt)
	assert.Equal(t, int64(100), *got.VerifiedAt)

	// A failed re-verification takes the configuration offline.
	require.NoError(t, repo.MarkVerified(ctx, c.ID, false, 200))
	got, err = repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.IsVerified)
	assert.False(t, got.IsActive)

	// The schema refuses an active, unverified row outright.
	_, err = repo.db.Exec(`UPDATE webhook_configurations SET is_active = 1 WHERE id = ?`, c.ID)
	assert.Error(t, err)
}

func TestWebhookRepository_ListSubscribed(t *testing.T) {
	ctx := context.Background()
	repo := NewWebhookRepository(newTestDB(t))

	published := newTestConfig("org_1")
	all := newTestConfig("org_1")
	all.SubscribedEvents = nil
	other := newTestConfig("org_1")
	other.SubscribedEvents = []string{"post.deleted"}
	unverified := newTestConfig("org_1")

	require.NoError(t, repo.Create(ctx, published))
	require.NoError(t, repo.Create(ctx, all))
	require.NoError(t, repo.Create(ctx, other))
	require.NoError(t, repo.Create(ctx, unverified))
	for _, id := range []string{published.ID, all.ID, other.ID} {
		require.NoError(t, repo.MarkVerified(ctx, id, true, 1))
		require.NoError(t, repo.SetActive(ctx, "org_1", id, true))
	}

	got, err := repo.ListSubscribed(ctx, "org_1", "post.published")
	require.NoError(t, err)

	var ids []string
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{published.ID, all.ID}, ids)

	got, err = repo.ListSubscribed(ctx, "org_2", "post.published")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWebhookRepository_RotateVerifyTokenDropsVerification(t *testing.T) {
	ctx := context.Background()
	repo := NewWebhookRepository(newTestDB(t))

	c := newTestConfig("org_1")
	require.NoError(t, repo.Create(ctx, c))
	require.NoError(t, repo.MarkVerified(ctx, c.ID, true, 1))
	require.NoError(t, repo.SetActive(ctx, "org_1", c.ID, true))

	require.NoError(t, repo.RotateVerifyToken(ctx, "org_1", c.ID, "vtok_new"))
	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "vtok_new", got.VerifyToken)
	assert.False(t, got.IsVerified)
	assert.False(t, got.IsActive)

	require.NoError(t, repo.RotateSecretKey(ctx, "org_1", c.ID, "whsec_new"))
	got, err = repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "whsec_new", got.SecretKey)

	assert.ErrorIs(t, repo.RotateSecretKey(ctx, "org_2", c.ID, "x"), ErrNotFound)
}

func TestWebhookRepository_UpdateKeepsStoredVerification(t *testing.T) {
	ctx := context.Background()
	repo := NewWebhookRepository(newTestDB(t))

	c := newTestConfig("org_1")
	require.NoError(t, repo.Create(ctx, c))
	require.NoError(t, repo.MarkVerified(ctx, c.ID, true, 1))
	require.NoError(t, repo.SetActive(ctx, "org_1", c.ID, true))

	// Read, then rotate behind the reader's back, then write the stale copy.
	stale, err := repo.GetForOrg(ctx, "org_1", c.ID)
	require.NoError(t, err)
	require.True(t, stale.IsVerified)
	require.NoError(t, repo.RotateVerifyToken(ctx, "org_1", c.ID, "vtok_new"))

	stale.MaxRetries = 7
	require.NoError(t, repo.Update(ctx, stale))
	assert.False(t, stale.IsVerified)
	assert.False(t, stale.IsActive)

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.MaxRetries)
	assert.Equal(t, "vtok_new", got.VerifyToken)
	assert.False(t, got.IsVerified)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.VerifiedAt)
}

func TestWebhookRepository_UpdateCallbackURLClearsVerification(t *testing.T) {
	ctx := context.Background()
	repo := NewWebhookRepository(newTestDB(t))

	c := newTestConfig("org_1")
	require.NoError(t, repo.Create(ctx, c))
	require.NoError(t, repo.MarkVerified(ctx, c.ID, true, 1))
	require.NoError(t, repo.SetActive(ctx, "org_1", c.ID, true))

	c.TimeoutSeconds = 20
	require.NoError(t, repo.Update(ctx, c))
	assert.True(t, c.IsVerified)
	assert.True(t, c.IsActive)

	c.CallbackURL = "https://example.com/moved"
	require.NoError(t, repo.Update(ctx, c))

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/moved", got.CallbackURL)
	assert.Equal(t, 20, got.TimeoutSeconds)
	assert.False(t, got.IsVerified)
	assert.False(t, got.IsActive)
	assert.Nil(t, got.VerifiedAt)

	c.OrganizationID = "org_2"
	assert.ErrorIs(t, repo.Update(ctx, c), ErrNotFound)
}

func TestWebhookRepository_CountersUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	repo := NewWebhookRepository(newTestDB(t))

	c := newTestConfig("org_1")
	require.NoError(t, repo.Create(ctx, c))

	const successes, failures = 40, 25
	var wg sync.WaitGroup
	for i := 0; i < successes; i++ {
		wg.Add(1)
		go func(at int64) {
			defer wg.Done()
			assert.NoError(t, repo.RecordSuccess(ctx, c.ID, at))
		}(int64(i))
	}
	for i := 0; i < failures; i++ {
		wg.Add(1)
		go func(at int64) {
			defer wg.Done()
			assert.NoError(t, repo.RecordFailure(ctx, c.ID, at, "timeout: deadline exceeded"))
		}(int64(i))
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(successes), got.SuccessCount)
	assert.Equal(t, int64(failures), got.FailureCount)
	assert.Equal(t, "timeout: deadline exceeded", got.LastError)
	assert.NotNil(t, got.LastTriggeredAt)
}

func TestWebhookRepository_RecordSuccessIsAtomicIncrement(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer sqlDB.Close()

	repo := NewWebhookRepository(&database.DB{DB: sqlDB, Driver: database.DriverPostgres})

	mock.ExpectExec(`UPDATE webhook_configurations\s+SET success_count = success_count \+ 1, last_triggered_at = \$1, last_success_at = \$2\s+WHERE id = \$3`).
		WithArgs(int64(50), int64(50), "whc_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RecordSuccess(context.Background(), "whc_1", 50); err != nil {
		t.Errorf("RecordSuccess() error = %v", err)
	}

	mock.ExpectExec(`UPDATE webhook_configurations\s+SET failure_count = failure_count \+ 1`).
		WithArgs(int64(60), int64(60), "non_2xx:500", "whc_1").
		WillReturnError(errors.New("connection reset"))

	if err := repo.RecordFailure(context.Background(), "whc_1", 60, "non_2xx:500"); err == nil {
		t.Error("Expected error from RecordFailure")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestWebhookRepository_DeleteCascadesLogs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewWebhookRepository(db)
	logs := NewDeliveryLogRepository(db)

	c := newTestConfig("org_1")
	require.NoError(t, repo.Create(ctx, c))
	l := newTestLog(t, logs, c)

	require.NoError(t, repo.Delete(ctx, "org_1", c.ID))

	_, err := repo.GetByID(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = logs.GetByID(ctx, l.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, "org_1", c.ID), ErrNotFound)
}
