// --- File: notificationservice/service_integration_test.go ---
//go:build integration

package notificationservice_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-contact-push-service/internal/diagnostics"
	"github.com/tinywideclouds/go-contact-push-service/internal/jobs"
	"github.com/tinywideclouds/go-contact-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-contact-push-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-contact-push-service/internal/platform/relay"
	fsStore "github.com/tinywideclouds/go-contact-push-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-contact-push-service/notificationservice"
	"github.com/tinywideclouds/go-contact-push-service/notificationservice/config"
)

const validToken = "fcm-token-abcdefghijklmnopqrstuvwxyz"

// --- FAKE RELAY HUB ---

type fakeHub struct {
	mu       sync.Mutex
	requests []map[string]any
	server   *httptest.Server
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	hub := &fakeHub{}
	hub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(body, &decoded)

		hub.mu.Lock()
		hub.requests = append(hub.requests, decoded)
		hub.mu.Unlock()

		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(hub.server.Close)
	return hub
}

func (h *fakeHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.requests)
}

func (h *fakeHub) Last() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.requests) == 0 {
		return nil
	}
	return h.requests[len(h.requests)-1]
}

// newService wires the real components against the emulators and a fake hub.
func newService(t *testing.T, cfg *config.Config, psClient *pubsub.Client, fsClient *firestore.Client, logger *slog.Logger) *notificationservice.Wrapper {
	t.Helper()

	store := fsStore.NewFirestoreStore(fsClient, logger)
	httpClient := &http.Client{Timeout: cfg.Push.DispatchTimeout}

	orchestrator := pipeline.NewOrchestrator(
		&cfg.Push,
		nil,
		fcm.NewDispatcher(&cfg.Push, httpClient, logger),
		relay.NewDispatcher(&cfg.Push, httpClient, logger),
		store,
		logger,
	)
	runner := jobs.NewRunner(&cfg.Push, store, orchestrator, logger, jobs.WithReceipts(store))

	consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
	require.NoError(t, err)

	svc, err := notificationservice.New(
		cfg,
		consumer,
		runner,
		diagnostics.NewReporter(&cfg.Push, store, logger),
		func(h http.Handler) http.Handler { return h }, // No-op Auth
		logger,
	)
	require.NoError(t, err)
	return svc
}

// --- TEST ---

func TestContactPushService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsClient.Close() })

	// 2. Conversation graph
	seed := func(collection, id string, data map[string]any) {
		_, err := fsClient.Collection(collection).Doc(id).Set(ctx, data)
		require.NoError(t, err)
	}
	seed(fsStore.AccountsCollection, "acct-1", map[string]any{"name": "Acme"})
	seed(fsStore.ContactsCollection, "contact-1", map[string]any{"name": "Jane", "push_token": validToken})
	seed(fsStore.ConversationsCollection, "conv-1", map[string]any{"status": "open", "contact_id": "contact-1", "account_id": "acct-1"})
	seed(fsStore.MessagesCollection, "msg-1", map[string]any{
		"direction": "outgoing", "kind": "regular", "content": "Your order shipped", "conversation_id": "conv-1",
	})

	t.Run("Full Lifecycle: Publish -> Resolve -> Relay -> Mark", func(t *testing.T) {
		// Arrange
		hub := newFakeHub(t)
		topicID := "push-success-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		cfg := &config.Config{
			ProjectID:          projectID,
			ListenAddr:         ":0",
			SubscriptionID:     subID,
			NumPipelineWorkers: 2,
			Push: config.PushConfig{
				RelayEnabled:    true,
				RelayBaseURL:    hub.server.URL,
				InstallationID:  "inst-integ",
				SkipResolved:    true,
				DispatchTimeout: 5 * time.Second,
				MaxAttempts:     3,
				InitialBackoff:  100 * time.Millisecond,
			},
		}
		svc := newService(t, cfg, psClient, fsClient, logger)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { _ = svc.Start(svcCtx) }()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		// Act
		payload, _ := json.Marshal(pipeline.JobRequest{MessageID: "msg-1"})
		_, err := psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		// Assert: the hub saw exactly our contact's token
		require.Eventually(t, func() bool {
			return hub.Count() == 1
		}, 15*time.Second, 100*time.Millisecond)

		last := hub.Last()
		assert.Equal(t, "inst-integ", last["installation_identifier"])
		msg := last["message"].(map[string]any)
		assert.Equal(t, validToken, msg["token"])
		assert.Equal(t, "Acme", msg["notification"].(map[string]any)["title"])

		// The message is marked so a redelivery does not push again.
		require.Eventually(t, func() bool {
			snap, err := fsClient.Collection(fsStore.MessagesCollection).Doc("msg-1").Get(ctx)
			if err != nil {
				return false
			}
			_, err = snap.DataAt("push_notification_sent_at")
			return err == nil
		}, 10*time.Second, 100*time.Millisecond)

		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)
		time.Sleep(2 * time.Second)
		assert.Equal(t, 1, hub.Count(), "duplicate job must not push twice")
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
