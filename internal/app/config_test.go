package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "X-Gateway-Profile", cfg.ProfileHeader)
	assert.Equal(t, 5, cfg.WebhookMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 2*time.Second, cfg.WebhookBackoffBase)
	assert.Equal(t, 10*time.Minute, cfg.WebhookBackoffMax)
	assert.Equal(t, "gateway.routes.reload", cfg.RoutesReloadChannel)
	assert.Greater(t, cfg.WebhookQueueRetries(), cfg.WebhookMaxAttempts)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidWebhookSettings(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "0")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "5")
	t.Setenv("WEBHOOK_BACKOFF_BASE", "1m")
	t.Setenv("WEBHOOK_BACKOFF_MAX", "1s")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	assert.Error(t, err)
}
