// Package dispatch contains the outward-facing delivery contracts: the push
// gateway and the device token store.
package dispatch

import (
	"context"
	"errors"
)

// MaxMulticastTokens is the gateway's multicast ceiling. SendMulticast
// callers must partition larger audiences into batches of at most this size.
const MaxMulticastTokens = 500

// Gateway error classes. Implementations wrap the underlying cause so that
// callers can match with errors.Is.
var (
	// ErrInvalidToken marks a device token the gateway reports as
	// permanently dead. The caller is expected to prune it.
	ErrInvalidToken = errors.New("device token no longer valid")

	// ErrGatewayTransport marks a gateway call that could not complete at
	// all (network or service failure). Per-token outcomes are unavailable.
	ErrGatewayTransport = errors.New("push gateway transport failure")
)

// Content is the user-visible payload of a push message.
type Content struct {
	Title string
	Body  string
}

// SendResult is the outcome for a single token within a multicast call.
// Err is nil on success; a permanently dead token carries an error matching
// ErrInvalidToken, anything else is transient or unknown.
type SendResult struct {
	Token string
	Err   error
}

// Gateway sends one message to one token, or one message to a bounded batch
// of tokens with per-token outcomes aligned positionally with the input.
type Gateway interface {
	Send(ctx context.Context, token string, content Content, data map[string]string) error
	SendMulticast(ctx context.Context, tokens []string, content Content, data map[string]string) ([]SendResult, error)
}

// Recipient populations known to the token store. Device registration (the
// write side of these sets) is owned by the registration flow; this service
// only reads and prunes.
const (
	PopulationStudents = "students"
	PopulationFaculty  = "faculty"
)

// TokenStore maps recipient populations and individual users to their
// currently registered device tokens.
type TokenStore interface {
	// TokensForPopulation returns the union of tokens held by every member
	// of the named population.
	TokensForPopulation(ctx context.Context, population string) ([]string, error)

	// TokensForIndividual returns the tokens registered by a single user.
	// A user with no devices yields an empty slice, not an error.
	TokensForIndividual(ctx context.Context, userID string) ([]string, error)

	// PruneToken removes a token from every holder that currently has it.
	// It is idempotent and never errors on a missing token.
	PruneToken(ctx context.Context, token string) error
}
