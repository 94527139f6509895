package domain

import (
	"encoding/json"
	"time"
)

// TicketHistory is one entry of a ticket's audit trail on the backend. Change
// is the event type that produced it; Payload is that event's payload as JSON.
type TicketHistory struct {
	ID          string
	TicketID    string
	ChangedByID *string
	Change      string
	Payload     json.RawMessage
	CreatedAt   time.Time
}
