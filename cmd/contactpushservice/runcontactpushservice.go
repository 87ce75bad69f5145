// --- File: cmd/contactpushservice/runcontactpushservice.go ---
package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-contact-push-service/internal/diagnostics"
	"github.com/tinywideclouds/go-contact-push-service/internal/jobs"
	"github.com/tinywideclouds/go-contact-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-contact-push-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-contact-push-service/internal/platform/relay"
	"github.com/tinywideclouds/go-contact-push-service/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-contact-push-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-contact-push-service/pkg/dispatch"

	"github.com/tinywideclouds/go-contact-push-service/notificationservice"
	"github.com/tinywideclouds/go-contact-push-service/notificationservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Embedded yaml config is invalid", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Stores ---
	store := fsStore.NewFirestoreStore(fsClient, logger)

	var receipts dispatch.ReceiptStore = store
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		receipts = cache.NewCachedReceiptStore(store, redisClient, cfg.Redis.ReceiptTTL, logger)
		logger.Info("ReceiptStore upgraded", "type", "redis_cached_firestore")
	}

	// --- Channels ---
	httpClient := &http.Client{Timeout: cfg.Push.DispatchTimeout}

	var tokens dispatch.TokenSource
	if cfg.Push.DirectConfigured() {
		credentialCache, err := fcm.NewCredentialCache(cfg.Push.FirebaseProjectID, cfg.Push.FirebaseCredentials, logger)
		if err != nil {
			// The relay hub can still deliver; the direct channel reports the error per job.
			logger.Error("Firebase credentials unusable, direct provider disabled", "err", err)
			tokens = fcm.UnavailableCredentials{Err: err}
		} else {
			tokens = credentialCache
			logger.Info("Direct provider enabled", "firebase_project_id", cfg.Push.FirebaseProjectID,
				"service_account", credentialCache.ServiceAccountEmail())
		}
	}
	directDispatcher := fcm.NewDispatcher(&cfg.Push, httpClient, logger)
	relayDispatcher := relay.NewDispatcher(&cfg.Push, httpClient, logger)

	channels := pipeline.SelectChannels(&cfg.Push)
	if len(channels) == 0 {
		logger.Warn("No push channel configured; every job will finish as no_channel_configured")
	} else {
		logger.Info("Push channels configured", "order", channels)
	}

	orchestrator := pipeline.NewOrchestrator(&cfg.Push, tokens, directDispatcher, relayDispatcher, store, logger)
	runner := jobs.NewRunner(&cfg.Push, store, orchestrator, logger, jobs.WithReceipts(receipts))
	reporter := diagnostics.NewReporter(&cfg.Push, store, logger)

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "identity_url", identityURL, "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("JWKS auth middleware failed", "err", err)
		os.Exit(1)
	}

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer creation failed", "err", err)
		os.Exit(1)
	}

	service, err := notificationservice.New(cfg, consumer, runner, reporter, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

// newLogger emits JSON by default and colourised text when LOG_FORMAT=text.
func newLogger() *slog.Logger {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "text" {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler).With("service", "go-contact-push-service")
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 60,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
