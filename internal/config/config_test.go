package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := Parse([]byte("database:\n  url: postgres://localhost/billing\n"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Billing.MaxRetries)
	assert.Equal(t, 3, cfg.Billing.GracePeriodDays)
	assert.Equal(t, []int{1, 3, 7}, cfg.Billing.RetryScheduleDays)
	assert.Equal(t, 15*time.Second, cfg.Billing.GatewayTimeout)
	assert.Equal(t, "USER", cfg.Billing.BaseRole)
	assert.Len(t, cfg.Billing.Plans, 3)
	assert.Equal(t, 12, cfg.Billing.Plans["YEARLY"].IntervalMonths)
	assert.Equal(t, "mock", cfg.Gateway.Provider)
	assert.Equal(t, "*/15 * * * *", cfg.Scheduler.DueCron)
	assert.Equal(t, "*/10 * * * *", cfg.Scheduler.ReconcileCron)
	assert.Equal(t, 10*time.Minute, cfg.Billing.ReconcileAfter)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/billing")
	t.Setenv("API_JWT_SECRET", "from-env")
	cfg, err := Parse([]byte("database:\n  url: postgres://file/billing\nhttp:\n  jwt_secret: from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/billing", cfg.Database.URL)
	assert.Equal(t, "from-env", cfg.HTTP.JWTSecret)
}

func TestParse_Validation(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	tests := []struct {
		name string
		yaml string
	}{
		{"missing database url", "log:\n  level: debug\n"},
		{"negative retries", "database:\n  url: x\nbilling:\n  max_retries: -1\n"},
		{"bad schedule", "database:\n  url: x\nbilling:\n  retry_schedule_days: [1, 0]\n"},
		{"plan without price", "database:\n  url: x\nbilling:\n  plans:\n    MONTHLY:\n      interval_months: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  url: postgres://localhost/billing\nbilling:\n  grace_period_days: 5\n"), 0o600))

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.True(t, cfg.Runtime.Dev)
	assert.Equal(t, 5, cfg.Billing.GracePeriodDays)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false)
	assert.Error(t, err)
}
