package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-campus-notify/pkg/dispatch"
	"github.com/tinywideclouds/go-campus-notify/pkg/notify"
)

// CreateRequest carries the caller's creation input. CreatedAt is optional;
// the dispatcher stamps the current time when it is zero.
type CreateRequest struct {
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	RecipientType string    `json:"recipient_type"`
	RecipientID   string    `json:"recipient_id,omitempty"`
	RecipientName string    `json:"recipient_name,omitempty"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// Dispatcher orchestrates notification creation: persist the record, resolve
// the audience, push in bounded batches, prune dead tokens and write the
// terminal status.
type Dispatcher struct {
	store     notify.Store
	gateway   dispatch.Gateway
	resolver  *Resolver
	tokens    dispatch.TokenStore
	batchSize int
	logger    *slog.Logger
}

func NewDispatcher(
	store notify.Store,
	gateway dispatch.Gateway,
	resolver *Resolver,
	tokens dispatch.TokenStore,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:     store,
		gateway:   gateway,
		resolver:  resolver,
		tokens:    tokens,
		batchSize: dispatch.MaxMulticastTokens,
		logger:    logger.With("component", "NotificationDispatcher"),
	}
}

// Create validates and persists a new notification, then attempts delivery.
// The record is written with status pending before any push attempt, so even
// a failed delivery leaves an auditable trace. On delivery failure the
// returned notification is non-nil (with status failed) alongside the error,
// letting callers distinguish "record exists but delivery failed" from
// "the record was never created". No retries are performed; re-invoking
// Create is the caller's retry.
func (d *Dispatcher) Create(ctx context.Context, req CreateRequest) (*notify.Notification, error) {
	rt, err := notify.ParseRecipientType(req.RecipientType)
	if err != nil {
		return nil, err
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	n := &notify.Notification{
		Title:         req.Title,
		Message:       req.Message,
		RecipientType: rt,
		RecipientID:   req.RecipientID,
		RecipientName: req.RecipientName,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     createdAt,
		Status:        notify.StatusPending,
		ReadBy:        []string{},
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}

	id, err := d.store.Create(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("persisting notification: %w", err)
	}
	n.ID = id

	sendLogger := d.logger.With("notification_id", n.ID, "recipient_type", rt)

	tokens, err := d.resolver.Resolve(ctx, rt, req.RecipientID)
	if err != nil {
		d.transition(ctx, n, notify.StatusFailed)
		return n, err
	}

	if rt == notify.RecipientIndividual {
		return n, d.sendIndividual(ctx, sendLogger, n, tokens)
	}
	return n, d.sendBroadcast(ctx, sendLogger, n, tokens)
}

// sendIndividual delivers through the gateway's single-send call, one
// request per registered device. An invalid-token outcome prunes that token;
// any send failure yields a failed record with the first error propagated.
func (d *Dispatcher) sendIndividual(ctx context.Context, logger *slog.Logger, n *notify.Notification, tokens []string) error {
	if len(tokens) == 0 {
		d.transition(ctx, n, notify.StatusFailed)
		return fmt.Errorf("%w: recipient %s has no registered devices", notify.ErrNoTargets, n.RecipientID)
	}

	content := contentFor(n)
	data := dataFor(n)

	var invalid []string
	var firstErr error
	for _, token := range tokens {
		err := d.gateway.Send(ctx, token, content, data)
		if err == nil {
			continue
		}
		if errors.Is(err, dispatch.ErrInvalidToken) {
			invalid = append(invalid, token)
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	d.pruneTokens(ctx, logger, invalid)

	if firstErr != nil {
		d.transition(ctx, n, notify.StatusFailed)
		return firstErr
	}
	if err := d.transition(ctx, n, notify.StatusSent); err != nil {
		return err
	}
	logger.Info("Notification delivered", "devices", len(tokens))
	return nil
}

// sendBroadcast partitions the audience into multicast batches and dispatches
// them in order. Delivery status is at the batch-call level: a record ends up
// sent when every batch call was accepted by the gateway, even if individual
// tokens within a batch failed. Invalid tokens are collected from each
// batch's outcome list and pruned before the next batch is sent, so that
// cancellation leaves no fire-and-forget cleanup behind.
func (d *Dispatcher) sendBroadcast(ctx context.Context, logger *slog.Logger, n *notify.Notification, tokens []string) error {
	content := contentFor(n)
	data := dataFor(n)

	batches := partition(tokens, d.batchSize)
	for i, batch := range batches {
		// Batches not yet sent are abandoned on cancellation. Effects of
		// batches already dispatched, including pruning, are not rolled back.
		if err := ctx.Err(); err != nil {
			d.transition(ctx, n, notify.StatusFailed)
			return fmt.Errorf("%w: dispatch cancelled before batch %d of %d: %v",
				dispatch.ErrGatewayTransport, i+1, len(batches), err)
		}

		results, err := d.gateway.SendMulticast(ctx, batch, content, data)
		if err != nil {
			d.transition(ctx, n, notify.StatusFailed)
			return fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)
		}

		var invalid []string
		for _, res := range results {
			if errors.Is(res.Err, dispatch.ErrInvalidToken) {
				invalid = append(invalid, res.Token)
			}
		}
		d.pruneTokens(ctx, logger, invalid)
	}

	if err := d.transition(ctx, n, notify.StatusSent); err != nil {
		return err
	}
	logger.Info("Broadcast dispatched", "devices", len(tokens), "batches", len(batches))
	return nil
}

// transition writes the terminal status as a best-effort single write,
// refusing moves the state machine does not allow.
func (d *Dispatcher) transition(ctx context.Context, n *notify.Notification, next notify.Status) error {
	if !n.Status.CanTransition(next) {
		d.logger.Warn("Refusing illegal status transition",
			"notification_id", n.ID, "from", n.Status, "to", next)
		return nil
	}
	if err := d.store.UpdateStatus(ctx, n.ID, next); err != nil {
		d.logger.Error("Failed to write notification status",
			"notification_id", n.ID, "status", next, "err", err)
		return fmt.Errorf("updating notification %s status: %w", n.ID, err)
	}
	n.Status = next
	return nil
}

// pruneTokens removes dead tokens from the store. Pruning failures are
// logged, never escalated: failure to prune must not fail an otherwise
// successful send.
func (d *Dispatcher) pruneTokens(ctx context.Context, logger *slog.Logger, tokens []string) {
	if len(tokens) == 0 {
		return
	}
	logger.Info("Pruning invalid device tokens", "count", len(tokens))
	for _, t := range tokens {
		if err := d.tokens.PruneToken(ctx, t); err != nil {
			logger.Warn("Failed to prune device token", "token", t, "err", err)
		}
	}
}

// partition splits tokens into consecutive batches of at most size elements.
func partition(tokens []string, size int) [][]string {
	if size <= 0 {
		size = dispatch.MaxMulticastTokens
	}
	var batches [][]string
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		batches = append(batches, tokens[start:end])
	}
	return batches
}

func contentFor(n *notify.Notification) dispatch.Content {
	return dispatch.Content{Title: n.Title, Body: n.Message}
}

func dataFor(n *notify.Notification) map[string]string {
	return map[string]string{"notification_id": n.ID}
}
