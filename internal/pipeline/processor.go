package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-campus-notify/internal/fanout"
	"github.com/tinywideclouds/go-campus-notify/pkg/dispatch"
	"github.com/tinywideclouds/go-campus-notify/pkg/notify"
)

// Creator is the slice of the dispatcher the processor needs.
type Creator interface {
	Create(ctx context.Context, req fanout.CreateRequest) (*notify.Notification, error)
}

// NewProcessor creates the logic that turns a consumed creation request into
// a dispatched notification.
//
// Error policy: invalid requests and terminal delivery failures are acked.
// The persisted failed record is the audit trail, and redelivering would
// only create duplicates. Transport failures are returned so the pipeline
// nacks and redelivery re-invokes Create, which is the subsystem's only
// retry mechanism.
func NewProcessor(creator Creator, logger *slog.Logger) messagepipeline.StreamProcessor[fanout.CreateRequest] {
	return func(ctx context.Context, original messagepipeline.Message, req *fanout.CreateRequest) error {
		procLogger := logger.With(
			"pubsub_msg_id", original.ID,
			"recipient_type", req.RecipientType,
		)

		n, err := creator.Create(ctx, *req)
		if err != nil {
			switch {
			case errors.Is(err, notify.ErrInvalidNotification):
				procLogger.Warn("Dropping invalid create request", "err", err)
				return nil
			case errors.Is(err, notify.ErrNoTargets), errors.Is(err, dispatch.ErrInvalidToken):
				procLogger.Info("Delivery failed terminally; record kept as failed",
					"notification_id", notificationID(n), "err", err)
				return nil
			default:
				procLogger.Error("Dispatch failed", "notification_id", notificationID(n), "err", err)
				return err
			}
		}

		procLogger.Info("Notification dispatched", "notification_id", n.ID)
		return nil
	}
}

func notificationID(n *notify.Notification) string {
	if n == nil {
		return ""
	}
	return n.ID
}
