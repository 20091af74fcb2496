package audit

import "time"

// Event is an immutable, append-only audit log record of a broadcast lifecycle step.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id is required; every event belongs to one broadcast.
// - recording is best-effort; callers never fail a broadcast on audit errors.
type Event struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event, empty for the sweeper.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// DonorID is set for response events.
	DonorID string `json:"donor_id,omitempty" db:"donor_id"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallCreated   EventType = "call_created"
	EventTypeDonorAccepted EventType = "donor_accepted"
	EventTypeDonorRejected EventType = "donor_rejected"
	EventTypeCallEnded     EventType = "call_ended"
	EventTypeCallCancelled EventType = "call_cancelled"
	EventTypeRingsExpired  EventType = "rings_expired"
)
