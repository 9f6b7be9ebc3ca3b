package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Topics published by the lifecycle controller. A notifier subscribes to the
// outbox after commit; the core never calls notification services directly.
const (
	TopicRequestAssigned       = "care_request.assigned"
	TopicRequestReopened       = "care_request.open"
	TopicRequestPaymentPending = "care_request.payment_pending"
	TopicRequestActive         = "care_request.active"
	TopicRequestCompleted      = "care_request.completed"
	TopicRequestCancelled      = "care_request.cancelled"
	TopicAgentTransferred      = "care_request.agent_transferred"
	TopicPaymentCaptured       = "care_request.payment_captured"
)

// Message represents a transactional outbox entry.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

// Writer is the production enqueue implementation.
type Writer struct{}

func (Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	return Enqueue(ctx, tx, topic, payload)
}

// Enqueue appends a message inside the caller's transaction so delivery is
// exactly as durable as the state change it announces. Delivery failures are
// a worker concern and never roll back the originating transition.
func Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}
