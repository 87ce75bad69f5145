// --- File: notificationservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Enabled    bool   `yaml:"enabled"`
	ReceiptTTL string `yaml:"receipt_ttl"`
}

type YamlPushConfig struct {
	FirebaseProjectID   string `yaml:"firebase_project_id"`
	FirebaseCredentials string `yaml:"firebase_credentials"`
	// Pointers so that an absent key keeps the default of true.
	RelayEnabled    *bool  `yaml:"relay_enabled"`
	RelayBaseURL    string `yaml:"relay_base_url"`
	InstallationID  string `yaml:"installation_identifier"`
	SkipResolved    *bool  `yaml:"skip_resolved"`
	DispatchTimeout string `yaml:"dispatch_timeout"`
	MaxAttempts     int    `yaml:"max_attempts"`
	InitialBackoff  string `yaml:"initial_backoff"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string          `yaml:"project_id"`
	ListenAddr             string          `yaml:"listen_addr"`
	TopicID                string          `yaml:"topic_id"`
	SubscriptionID         string          `yaml:"subscription_id"`
	SubscriptionDLQTopicID string          `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig  `yaml:"cors"`
	RedisConfig            YamlRedisConfig `yaml:"redis"`
	PushConfig             YamlPushConfig  `yaml:"push"`
	NumPipelineWorkers     int             `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	receiptTTL, err := parseOptionalDuration("redis.receipt_ttl", baseCfg.RedisConfig.ReceiptTTL)
	if err != nil {
		return nil, err
	}
	dispatchTimeout, err := parseOptionalDuration("push.dispatch_timeout", baseCfg.PushConfig.DispatchTimeout)
	if err != nil {
		return nil, err
	}
	initialBackoff, err := parseOptionalDuration("push.initial_backoff", baseCfg.PushConfig.InitialBackoff)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:       baseCfg.RedisConfig.Addr,
			Password:   baseCfg.RedisConfig.Password,
			DB:         baseCfg.RedisConfig.DB,
			Enabled:    baseCfg.RedisConfig.Enabled,
			ReceiptTTL: receiptTTL,
		},
		Push: PushConfig{
			FirebaseProjectID:   baseCfg.PushConfig.FirebaseProjectID,
			FirebaseCredentials: baseCfg.PushConfig.FirebaseCredentials,
			RelayEnabled:        boolOrDefault(baseCfg.PushConfig.RelayEnabled, true),
			RelayBaseURL:        baseCfg.PushConfig.RelayBaseURL,
			InstallationID:      baseCfg.PushConfig.InstallationID,
			SkipResolved:        boolOrDefault(baseCfg.PushConfig.SkipResolved, true),
			DispatchTimeout:     dispatchTimeout,
			MaxAttempts:         baseCfg.PushConfig.MaxAttempts,
			InitialBackoff:      initialBackoff,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func parseOptionalDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
