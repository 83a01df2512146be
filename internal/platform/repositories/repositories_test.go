package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"hookline/internal/platform/config"
	"hookline/internal/platform/database"
	"hookline/internal/platform/models"
	"hookline/migrations"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: database.DriverSQLite, DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = database.Migrate(context.Background(), db, migrations.FS)
	require.NoError(t, err)
	return db
}

func newTestConfig(orgID string) *models.WebhookConfiguration {
	return &models.WebhookConfiguration{
		OrganizationID:   orgID,
		CallbackURL:      "https://example.com/hook",
		VerifyToken:      "vtok_test",
		SecretKey:        "whsec_test",
		SubscribedEvents: []string{"post.published"},
		TimeoutSeconds:   10,
		MaxRetries:       3,
		CustomHeaders:    map[string]string{"X-Team": "growth"},
	}
}
