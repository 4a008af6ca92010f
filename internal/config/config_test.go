package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/rabbitreels")

	cfg, err := Load[QueueMonitorConfig]()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.MinWorkers)
	assert.Equal(t, 10, cfg.MaxWorkers)
	assert.Equal(t, 0.5, cfg.ScaleDownThreshold)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoad_OverridesDefaultsFromEnv(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/rabbitreels")
	t.Setenv("MIN_WORKERS", "3")
	t.Setenv("MAX_WORKERS", "15")
	t.Setenv("SCALE_DOWN_THRESHOLD", "0.25")

	cfg, err := Load[QueueMonitorConfig]()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MinWorkers)
	assert.Equal(t, 15, cfg.MaxWorkers)
	assert.Equal(t, 0.25, cfg.ScaleDownThreshold)
}

func TestLoad_MissingRequiredFieldErrors(t *testing.T) {
	t.Setenv("POSTGRES_URL", "")

	_, err := Load[QueueMonitorConfig]()
	assert.Error(t, err)
}

func TestLoad_GatewayConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/rabbitreels")
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := Load[GatewayConfig]()
	assert.Error(t, err)
}

func TestLoad_GatewayConfigWelcomeCreditsDefault(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/rabbitreels")
	t.Setenv("AUTH_JWT_SECRET", "a-secret-at-least-32-bytes-long!")

	cfg, err := Load[GatewayConfig]()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.WelcomeCredits)
}
