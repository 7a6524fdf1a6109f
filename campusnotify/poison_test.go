//go:build integration

package campusnotify_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-campus-notify/campusnotify"
	"github.com/tinywideclouds/go-campus-notify/campusnotify/config"
	"github.com/tinywideclouds/go-campus-notify/pkg/notify"
)

// --- Mocks ---

// mockNotifyStore satisfies the New() constructor; a poison pill fails in
// the transformer, so none of these should ever be called.
type mockNotifyStore struct {
	mock.Mock
}

func (m *mockNotifyStore) Create(ctx context.Context, n *notify.Notification) (string, error) {
	args := m.Called(ctx, n)
	return args.String(0), args.Error(1)
}
func (m *mockNotifyStore) FindByID(ctx context.Context, id string) (*notify.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notify.Notification), args.Error(1)
}
func (m *mockNotifyStore) UpdateStatus(ctx context.Context, id string, status notify.Status) error {
	return m.Called(ctx, id, status).Error(0)
}
func (m *mockNotifyStore) DeleteByID(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockNotifyStore) Find(ctx context.Context, filter notify.Clause, page notify.Page) ([]*notify.Notification, error) {
	args := m.Called(ctx, filter, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*notify.Notification), args.Error(1)
}
func (m *mockNotifyStore) Count(ctx context.Context, filter notify.Clause) (int, error) {
	args := m.Called(ctx, filter)
	return args.Int(0), args.Error(1)
}
func (m *mockNotifyStore) AppendReader(ctx context.Context, id, readerID string) error {
	return m.Called(ctx, id, readerID).Error(0)
}

type mockPoisonTokenStore struct {
	mock.Mock
}

func (m *mockPoisonTokenStore) TokensForPopulation(ctx context.Context, population string) ([]string, error) {
	args := m.Called(ctx, population)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
func (m *mockPoisonTokenStore) TokensForIndividual(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
func (m *mockPoisonTokenStore) PruneToken(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

// --- Test ---

func TestCampusNotifyService_PoisonPill(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-dlq"

	// 1. Setup Pub/Sub emulator
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	// 2. Arrange: main topic, DLQ topic, and subscriptions
	runID := uuid.NewString()
	mainTopicID := "notify-main-" + runID
	dlqTopicID := "notify-dlq-" + runID
	mainSubID := mainTopicID + "-sub"
	dlqSubID := dlqTopicID + "-sub" // To listen for the dead-lettered message

	// Create the DLQ topic and a subscription for it first
	createPubsubResources(t, ctx, psClient, projectID, dlqTopicID, dlqSubID)
	dlqTopicName := fmt.Sprintf("projects/%s/topics/%s", projectID, dlqTopicID)

	// Create the main topic and subscription WITH the DeadLetterPolicy
	mainTopicName := fmt.Sprintf("projects/%s/topics/%s", projectID, mainTopicID)
	_, err = psClient.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: mainTopicName})
	require.NoError(t, err)

	mainSubName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, mainSubID)
	mainSub := &pubsubpb.Subscription{
		Name:  mainSubName,
		Topic: mainTopicName,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlqTopicName,
			MaxDeliveryAttempts: 5, // Low number for fast test execution
		},
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1}, // Fast retries
		},
	}
	_, err = psClient.SubscriptionAdminClient.CreateSubscription(ctx, mainSub)
	require.NoError(t, err)

	// 3. Arrange: service with mock dependencies. None of them should see a
	// single call.
	gateway := &mockGateway{}
	store := new(mockNotifyStore)
	tokenStore := new(mockPoisonTokenStore)

	consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(mainSubID)
	consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
	require.NoError(t, err)

	cfg := &config.Config{
		ProjectID:          projectID,
		ListenAddr:         ":0",
		SubscriptionID:     mainSubID,
		NumPipelineWorkers: 2,
	}

	noopAuth := func(h http.Handler) http.Handler { return h }

	svc, err := campusnotify.New(cfg, consumer, gateway, store, tokenStore, noopAuth, logger)
	require.NoError(t, err)

	// 4. Act: start the service and publish a poison pill message
	serviceCtx, serviceCancel := context.WithCancel(ctx)
	defer serviceCancel()
	go func() {
		if err := svc.Start(serviceCtx); err != nil && !errors.Is(err, context.Canceled) {
			t.Logf("service.Start() returned an error: %v", err)
		}
	}()
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	// Malformed JSON fails in the transformer before any store or gateway call.
	poisonPayload := []byte(`{"this is not valid json"`)
	result := psClient.Publisher(mainTopicID).Publish(ctx, &pubsub.Message{Data: poisonPayload})
	_, err = result.Get(ctx)
	require.NoError(t, err)
	t.Log("Published poison pill message.")

	// 5. Assert: the message arrives on the DLQ subscription
	dlqSub := psClient.Subscriber(dlqSubID)
	var wg sync.WaitGroup
	wg.Add(1)
	var receivedMsg *pubsub.Message

	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		err = dlqSub.Receive(cctx, func(ctx context.Context, msg *pubsub.Message) {
			msg.Ack()
			receivedMsg = msg
			cancel() // Stop receiving after one message
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("DLQ Receive returned an unexpected error: %v", err)
		}
	}()

	wg.Wait()
	require.NotNil(t, receivedMsg, "Did not receive message on the DLQ subscription")
	assert.Equal(t, poisonPayload, receivedMsg.Data)

	// 6. Negative assertion: nothing downstream was touched
	assert.Equal(t, 0, gateway.GetSendCount(), "Gateway should not be called for a poison pill message")
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}
