// Package fcm adapts Firebase Cloud Messaging to the dispatch.Gateway
// contract.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-campus-notify/pkg/dispatch"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
// Note: *messaging.Client automatically satisfies this interface.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Gateway struct {
	client MessagingClient
	logger *slog.Logger
}

func NewGateway(client MessagingClient, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.With("component", "FCMGateway"),
	}
}

// Send delivers one message to one token. The returned error matches
// dispatch.ErrInvalidToken when FCM reports the token as permanently dead,
// and dispatch.ErrGatewayTransport otherwise.
func (g *Gateway) Send(ctx context.Context, token string, content dispatch.Content, data map[string]string) error {
	msg := &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		},
	}

	if _, err := g.client.Send(ctx, msg); err != nil {
		if isDeadToken(err) {
			return fmt.Errorf("%w: %v", dispatch.ErrInvalidToken, err)
		}
		return fmt.Errorf("%w: %v", dispatch.ErrGatewayTransport, err)
	}
	return nil
}

// SendMulticast delivers one message to a batch of up to
// dispatch.MaxMulticastTokens tokens, returning per-token outcomes aligned
// positionally with the input. A transport-level failure returns no outcomes
// at all.
func (g *Gateway) SendMulticast(ctx context.Context, tokens []string, content dispatch.Content, data map[string]string) ([]dispatch.SendResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) > dispatch.MaxMulticastTokens {
		return nil, fmt.Errorf("multicast batch of %d exceeds the %d token ceiling", len(tokens), dispatch.MaxMulticastTokens)
	}

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Notification: &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		},
	}

	br, err := g.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dispatch.ErrGatewayTransport, err)
	}

	results := make([]dispatch.SendResult, len(tokens))
	for idx, resp := range br.Responses {
		results[idx] = dispatch.SendResult{Token: tokens[idx]}
		if resp.Success {
			continue
		}
		if isDeadToken(resp.Error) {
			results[idx].Err = fmt.Errorf("%w: %v", dispatch.ErrInvalidToken, resp.Error)
		} else {
			results[idx].Err = resp.Error
		}
	}

	if br.FailureCount > 0 {
		g.logger.Debug("Multicast completed with per-token failures",
			"success", br.SuccessCount, "failure", br.FailureCount)
	}
	return results, nil
}

// isDeadToken classifies the FATAL error classes: the token is garbage and
// should be pruned. Everything else is transient or unknown.
func isDeadToken(err error) bool {
	return messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsInvalidArgument(err)
}
