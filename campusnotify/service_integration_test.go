//go:build integration

package campusnotify_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
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

	"github.com/tinywideclouds/go-campus-notify/campusnotify"
	"github.com/tinywideclouds/go-campus-notify/campusnotify/config"
	"github.com/tinywideclouds/go-campus-notify/internal/fanout"
	fsStore "github.com/tinywideclouds/go-campus-notify/internal/storage/firestore"
	"github.com/tinywideclouds/go-campus-notify/pkg/dispatch"
	"github.com/tinywideclouds/go-campus-notify/pkg/notify"
)

// --- Mocks ---

// mockGateway records delivery calls so the test can assert on the fan-out
// without talking to FCM.
type mockGateway struct {
	mu         sync.Mutex
	sendCount  int
	lastTokens []string
}

func (m *mockGateway) Send(_ context.Context, token string, _ dispatch.Content, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCount++
	m.lastTokens = []string{token}
	return nil
}

func (m *mockGateway) SendMulticast(_ context.Context, tokens []string, _ dispatch.Content, _ map[string]string) ([]dispatch.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCount++
	m.lastTokens = tokens
	results := make([]dispatch.SendResult, len(tokens))
	for i, tok := range tokens {
		results[i] = dispatch.SendResult{Token: tok}
	}
	return results, nil
}

func (m *mockGateway) GetSendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendCount
}

func (m *mockGateway) GetLastTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTokens
}

// --- Test ---

func TestCampusNotifyService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
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

	// 2. Real Firestore stores
	notificationStore := fsStore.NewNotificationStore(fsClient)
	tokenStore := fsStore.NewTokenStore(fsClient)

	t.Run("Full Lifecycle: Consume -> Dispatch -> Persist", func(t *testing.T) {
		topicID := "notify-success-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		gateway := &mockGateway{}

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		svc, err := campusnotify.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
			consumer,
			gateway,
			notificationStore,
			tokenStore,
			func(h http.Handler) http.Handler { return h }, // No-op auth
			logger,
		)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { _ = svc.Start(svcCtx) }()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		// Step A: register a device the way the registration service does.
		_, err = fsClient.Collection("users").Doc("integ-user").
			Collection("devices").Doc("phone").
			Set(ctx, map[string]interface{}{
				"token":      "android-token-999",
				"population": dispatch.PopulationStudents,
				"updated_at": time.Now().UTC(),
			})
		require.NoError(t, err)

		// Step B: publish a creation request. The service resolves the token
		// registered in Step A and dispatches through the gateway.
		req := fanout.CreateRequest{
			Title:         "Integration Hello",
			Message:       "Delivered end to end.",
			RecipientType: "individual",
			RecipientID:   "integ-user",
			CreatedBy:     "admin-1",
		}
		payload, err := json.Marshal(req)
		require.NoError(t, err)

		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return gateway.GetSendCount() == 1
		}, 10*time.Second, 100*time.Millisecond)
		assert.Equal(t, []string{"android-token-999"}, gateway.GetLastTokens())

		// Step C: the record is persisted with a terminal sent status.
		require.Eventually(t, func() bool {
			records, err := notificationStore.Find(ctx,
				notify.StatusIs{Status: notify.StatusSent}, notify.Page{})
			return err == nil && len(records) == 1
		}, 10*time.Second, 100*time.Millisecond)
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
