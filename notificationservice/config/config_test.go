// --- File: notificationservice/config/config_test.go ---
package config_test

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-contact-push-service/notificationservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ProjectID:          "base-project",
			ListenAddr:         ":8080",
			SubscriptionID:     "base-sub",
			NumPipelineWorkers: 2,
			Push: config.PushConfig{
				FirebaseProjectID: "base-firebase",
				RelayEnabled:      true,
				SkipResolved:      true,
			},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("SUBSCRIPTION_ID", "env-sub")

		t.Setenv("FIREBASE_PROJECT_ID", "env-firebase")
		t.Setenv("FIREBASE_CREDENTIALS", `{"type":"service_account"}`)
		t.Setenv("ENABLE_PUSH_RELAY_SERVER", "false")
		t.Setenv("PUSH_RELAY_URL", "https://hub.example.com")
		t.Setenv("INSTALLATION_IDENTIFIER", "install-1")
		t.Setenv("PUSH_SKIP_RESOLVED", "false")
		t.Setenv("PUSH_DISPATCH_TIMEOUT", "5s")
		t.Setenv("PUSH_MAX_ATTEMPTS", "4")
		t.Setenv("PUSH_INITIAL_BACKOFF", "250ms")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)

		assert.Equal(t, "env-firebase", finalCfg.Push.FirebaseProjectID)
		assert.Equal(t, `{"type":"service_account"}`, finalCfg.Push.FirebaseCredentials)
		assert.True(t, finalCfg.Push.DirectConfigured())
		assert.False(t, finalCfg.Push.RelayEnabled)
		assert.Equal(t, "https://hub.example.com", finalCfg.Push.RelayBaseURL)
		assert.Equal(t, "install-1", finalCfg.Push.InstallationID)
		assert.False(t, finalCfg.Push.SkipResolved)
		assert.Equal(t, 5*time.Second, finalCfg.Push.DispatchTimeout)
		assert.Equal(t, 4, finalCfg.Push.MaxAttempts)
		assert.Equal(t, 250*time.Millisecond, finalCfg.Push.InitialBackoff)
	})

	t.Run("Success - Defaults preserved", func(t *testing.T) {
		cfg := baseConfig()
		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "base-project", finalCfg.ProjectID)
		assert.Equal(t, "base-firebase", finalCfg.Push.FirebaseProjectID)
		assert.False(t, finalCfg.Push.DirectConfigured())
		assert.True(t, finalCfg.Push.RelayEnabled)
		assert.Equal(t, config.DefaultRelayBaseURL, finalCfg.Push.RelayBaseURL)
		assert.Equal(t, config.DefaultDispatchTimeout, finalCfg.Push.DispatchTimeout)
		assert.Equal(t, config.DefaultMaxAttempts, finalCfg.Push.MaxAttempts)
		assert.Equal(t, config.DefaultReceiptTTL, finalCfg.Redis.ReceiptTTL)
		assert.NotNil(t, finalCfg.PubsubConsumerConfig)
	})

	t.Run("Validation Failure - Bad relay flag", func(t *testing.T) {
		cfg := baseConfig()
		t.Setenv("ENABLE_PUSH_RELAY_SERVER", "sometimes")
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Missing ProjectID", func(t *testing.T) {
		cfg := &config.Config{SubscriptionID: "sub"}
		os.Unsetenv("PROJECT_ID")
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})
}
