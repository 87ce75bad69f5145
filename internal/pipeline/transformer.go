// --- File: internal/pipeline/transformer.go ---
// Package pipeline turns a message into a delivered push: channel selection,
// payload building and the per-message orchestration.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// JobRequest is the Pub/Sub job body. Only the id travels; the message is
// re-read from the store when the job runs.
type JobRequest struct {
	MessageID string `json:"message_id"`
}

// JobRequestTransformer is a dataflow Transformer. Malformed payloads are
// returned with skip=true so the StreamingService can Nack them to the DLQ.
func JobRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*JobRequest, bool, error) {
	var req JobRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal job request from message %s: %w", msg.ID, err)
	}

	req.MessageID = strings.TrimSpace(req.MessageID)
	if req.MessageID == "" {
		return nil, true, fmt.Errorf("job request in message %s has no message_id", msg.ID)
	}

	return &req, false, nil
}
