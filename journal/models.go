package journal

import "time"

// EventType labels a lifecycle journal entry.
type EventType string

const (
	EventStatusChanged     EventType = "status_changed"
	EventPaymentCaptured   EventType = "payment_captured"
	EventAgentTransferred  EventType = "agent_transferred"
	EventFinancialsCleared EventType = "financials_cleared"
	// EventBootstrapSnapshot is written once per pre-existing request that
	// predates the journal, so every request has at least one row.
	EventBootstrapSnapshot EventType = "bootstrap_snapshot"
)

// Event is one append-only audit row. PreviousStatus is nil only for
// bootstrap snapshots.
type Event struct {
	ID                    int64
	RequestID             string
	EventType             EventType
	PreviousStatus        *string
	NextStatus            string
	PreviousPaymentStatus *string
	NextPaymentStatus     string
	AssignedNurseID       *string
	Comment               *string
	ActorID               *string
	ActorRole             string
	Metadata              map[string]any
	CreatedAt             time.Time
}
