package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-campus-notify/internal/platform/fcm"
	"github.com/tinywideclouds/go-campus-notify/pkg/dispatch"
)

// MockClient satisfies the MessagingClient interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGateway_Send(t *testing.T) {
	ctx := context.Background()
	content := dispatch.Content{Title: "Test", Body: "Body"}
	data := map[string]string{"notification_id": "n1"}

	t.Run("happy path carries content and token", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, newTestLogger())

		mockClient.On("Send", ctx, mock.MatchedBy(func(msg *messaging.Message) bool {
			return msg.Token == "token-1" &&
				msg.Notification.Title == "Test" &&
				msg.Data["notification_id"] == "n1"
		})).Return("msg-1", nil)

		err := gateway.Send(ctx, "token-1", content, data)

		require.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("transport failure maps to the retryable class", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, newTestLogger())

		mockClient.On("Send", ctx, mock.Anything).Return("", errors.New("network down"))

		err := gateway.Send(ctx, "token-1", content, data)

		require.Error(t, err)
		assert.ErrorIs(t, err, dispatch.ErrGatewayTransport)
		assert.NotErrorIs(t, err, dispatch.ErrInvalidToken)
	})
}

func TestGateway_SendMulticast(t *testing.T) {
	ctx := context.Background()
	content := dispatch.Content{Title: "Test", Body: "Body"}
	data := map[string]string{"notification_id": "n1"}

	t.Run("happy path - all success", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, newTestLogger())
		tokens := []string{"token-1", "token-2"}

		mockResponse := &messaging.BatchResponse{
			SuccessCount: 2,
			FailureCount: 0,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: true, MessageID: "msg-2"},
			},
		}
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(mockResponse, nil)

		results, err := gateway.SendMulticast(ctx, tokens, content, data)

		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "token-1", results[0].Token)
		assert.NoError(t, results[0].Err)
		assert.NoError(t, results[1].Err)
		mockClient.AssertExpectations(t)
	})

	t.Run("per-token failures stay positional", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, newTestLogger())
		tokens := []string{"token-1", "token-2", "token-3"}

		mockResponse := &messaging.BatchResponse{
			SuccessCount: 2,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: false, Error: errors.New("internal error")},
				{Success: true, MessageID: "msg-3"},
			},
		}
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(mockResponse, nil)

		results, err := gateway.SendMulticast(ctx, tokens, content, data)

		require.NoError(t, err, "per-token failures do not fail the batch call")
		require.Len(t, results, 3)
		assert.NoError(t, results[0].Err)
		assert.Error(t, results[1].Err)
		assert.Equal(t, "token-2", results[1].Token)
		assert.NoError(t, results[2].Err)
	})

	t.Run("transport failure returns no outcomes", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, newTestLogger())

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		results, err := gateway.SendMulticast(ctx, []string{"token-1"}, content, data)

		require.Error(t, err)
		assert.ErrorIs(t, err, dispatch.ErrGatewayTransport)
		assert.Nil(t, results)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, newTestLogger())

		results, err := gateway.SendMulticast(ctx, nil, content, data)

		require.NoError(t, err)
		assert.Nil(t, results)
		mockClient.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything)
	})

	t.Run("oversize batch is rejected before any call", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, newTestLogger())
		tokens := make([]string, dispatch.MaxMulticastTokens+1)

		_, err := gateway.SendMulticast(ctx, tokens, content, data)

		require.Error(t, err)
		mockClient.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything)
	})

	// Note: We rely on the integration test to verify the specific parsing of
	// IsRegistrationTokenNotRegistered errors, as mocking the internal error
	// types of the Firebase SDK is brittle.
}
