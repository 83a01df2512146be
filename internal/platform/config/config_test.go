package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileValuesOverrideDefaults(t *testing.T) {
	path := writeConfig(t, `
jwt:
  secret: s3cret
webhooks:
  worker_count: 4
  backoff_initial: 1s
  backoff_max: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, 4, cfg.Webhooks.WorkerCount)
	assert.Equal(t, time.Second, cfg.Webhooks.BackoffInitial)
	assert.Equal(t, 30*time.Second, cfg.Webhooks.BackoffMax)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Webhooks.ClaimLease)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "jwt:\n  secret: from-file\n")
	t.Setenv("HOOKLINE_JWT_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOOKLINE_JWT_SECRET", "env-only")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing jwt secret", "server:\n  port: 8080\n"},
		{"unknown driver", "jwt:\n  secret: x\ndatabase:\n  driver: mysql\n"},
		{"backoff max below initial", "jwt:\n  secret: x\nwebhooks:\n  backoff_initial: 1m\n  backoff_max: 1s\n"},
		{"claim lease shorter than max timeout", "jwt:\n  secret: x\nwebhooks:\n  claim_lease: 30s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
