package events

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketClaimed         EventType = "ticket_claimed"
	EventTicketReassigned      EventType = "ticket_reassigned"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketRated           EventType = "ticket_rated"
	EventTicketWorkRecorded    EventType = "ticket_work_recorded"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
	EventTicketMessageAdded    EventType = "ticket_message_added"
	EventTicketRolledBack      EventType = "ticket_rolled_back"
	EventConnectivityChanged   EventType = "connectivity_changed"
)

// AllEventTypes lists every event the desk publishes.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketClaimed,
	EventTicketReassigned,
	EventTicketStatusChanged,
	EventTicketRated,
	EventTicketWorkRecorded,
	EventTicketPriorityChanged,
	EventTicketMessageAdded,
	EventTicketRolledBack,
	EventConnectivityChanged,
}

// Actor identifies who caused an event.
type Actor struct {
	UserID string      `json:"user_id,omitempty"`
	Role   domain.Role `json:"role,omitempty"`
}

// Event represents a domain event emitted by the store.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Number   string                `json:"number"`
	Priority domain.TicketPriority `json:"priority"`
	Title    string                `json:"title"`
	Category string                `json:"category,omitempty"`
}

// TicketAssignedPayload is used for claims and reassignments.
type TicketAssignedPayload struct {
	PreviousTechnicianID *string `json:"previous_technician_id,omitempty"`
	TechnicianID         string  `json:"technician_id"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketRatedPayload payload.
type TicketRatedPayload struct {
	Satisfaction int `json:"satisfaction"`
}

// TicketWorkRecordedPayload payload.
type TicketWorkRecordedPayload struct {
	TimeSpentMinutes *int `json:"time_spent_minutes,omitempty"`
	SolutionSet      bool `json:"solution_set"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	MessageID   string             `json:"message_id"`
	MessageKind domain.MessageKind `json:"message_kind"`
	BodyPreview string             `json:"body_preview"`
}

// TicketRolledBackPayload is published when the remote backend rejected a change
// that had already been applied locally.
type TicketRolledBackPayload struct {
	Operation string `json:"operation"`
	Version   int64  `json:"version"`
}

// ConnectivityChangedPayload payload.
type ConnectivityChangedPayload struct {
	From      domain.ConnectivityMode `json:"from"`
	To        domain.ConnectivityMode `json:"to"`
	LastError string                  `json:"last_error,omitempty"`
}
