// Package pipeline contains the message processing components that feed
// asynchronous creation requests into the dispatcher.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-campus-notify/internal/fanout"
)

// CreateRequestTransformer is a dataflow Transformer that unmarshals a raw
// message payload into a structured fanout.CreateRequest. Malformed payloads
// are skipped so the StreamingService can handle the Nack/DLQ logic; field
// validation is the dispatcher's job.
func CreateRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*fanout.CreateRequest, bool, error) {
	var req fanout.CreateRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal create request from message %s: %w", msg.ID, err)
	}
	return &req, false, nil
}
