// --- File: notificationservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	DefaultRelayBaseURL    = "https://hub.2.chatwoot.com"
	DefaultDispatchTimeout = 10 * time.Second
	DefaultMaxAttempts     = 3
	DefaultInitialBackoff  = 2 * time.Second
	DefaultReceiptTTL      = 7 * 24 * time.Hour
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// ReceiptTTL bounds how long "already notified" markers live in Redis.
	ReceiptTTL time.Duration
}

// PushConfig is everything the dispatch path reads. It is built once at
// startup and shared by pointer; channel selection reads it on every job.
type PushConfig struct {
	FirebaseProjectID   string
	FirebaseCredentials string

	RelayEnabled   bool
	RelayBaseURL   string
	InstallationID string

	// SkipResolved suppresses pushes for messages in resolved conversations.
	SkipResolved bool

	DispatchTimeout time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
}

// DirectConfigured reports whether both firebase settings are present.
func (p *PushConfig) DirectConfigured() bool {
	return strings.TrimSpace(p.FirebaseProjectID) != "" && strings.TrimSpace(p.FirebaseCredentials) != ""
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Push       PushConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Push Overrides
	if val := os.Getenv("FIREBASE_PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "FIREBASE_PROJECT_ID", "source", "env")
		cfg.Push.FirebaseProjectID = val
	}
	if val := os.Getenv("FIREBASE_CREDENTIALS"); val != "" {
		logger.Debug("Overriding config value", "key", "FIREBASE_CREDENTIALS", "source", "env")
		cfg.Push.FirebaseCredentials = val
	}
	if val := os.Getenv("ENABLE_PUSH_RELAY_SERVER"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("ENABLE_PUSH_RELAY_SERVER must be a boolean: %w", err)
		}
		cfg.Push.RelayEnabled = enabled
	}
	if val := os.Getenv("PUSH_RELAY_URL"); val != "" {
		cfg.Push.RelayBaseURL = val
	}
	if val := os.Getenv("INSTALLATION_IDENTIFIER"); val != "" {
		cfg.Push.InstallationID = val
	}
	if val := os.Getenv("PUSH_SKIP_RESOLVED"); val != "" {
		skip, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("PUSH_SKIP_RESOLVED must be a boolean: %w", err)
		}
		cfg.Push.SkipResolved = skip
	}
	if val := os.Getenv("PUSH_DISPATCH_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("PUSH_DISPATCH_TIMEOUT: %w", err)
		}
		cfg.Push.DispatchTimeout = d
	}
	if val := os.Getenv("PUSH_MAX_ATTEMPTS"); val != "" {
		if attempts, err := strconv.Atoi(val); err == nil && attempts > 0 {
			cfg.Push.MaxAttempts = attempts
		}
	}
	if val := os.Getenv("PUSH_INITIAL_BACKOFF"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("PUSH_INITIAL_BACKOFF: %w", err)
		}
		cfg.Push.InitialBackoff = d
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Redis.ReceiptTTL <= 0 {
		cfg.Redis.ReceiptTTL = DefaultReceiptTTL
	}
	if cfg.Push.RelayBaseURL == "" {
		cfg.Push.RelayBaseURL = DefaultRelayBaseURL
	}
	if cfg.Push.DispatchTimeout <= 0 {
		cfg.Push.DispatchTimeout = DefaultDispatchTimeout
	}
	if cfg.Push.MaxAttempts <= 0 {
		cfg.Push.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Push.InitialBackoff <= 0 {
		cfg.Push.InitialBackoff = DefaultInitialBackoff
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully",
		"direct_provider", cfg.Push.DirectConfigured(),
		"relay_enabled", cfg.Push.RelayEnabled,
	)
	return cfg, nil
}
