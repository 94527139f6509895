package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk/internal/domain"
)

const bodyPreviewLen = 80

func newEvent(t EventType, ticketID string, actor domain.User, now time.Time, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		TicketID:  ticketID,
		Actor:     Actor{UserID: actor.ID, Role: actor.Role},
		Timestamp: now,
		Payload:   payload,
	}
}

// TicketCreated builds the event for a newly opened ticket.
func TicketCreated(actor domain.User, t domain.Ticket, now time.Time) Event {
	return newEvent(EventTicketCreated, t.ID, actor, now, TicketCreatedPayload{
		Number:   t.Number,
		Priority: t.Priority,
		Title:    t.Title,
		Category: t.Category,
	})
}

// MessageAdded builds the event for a thread append.
func MessageAdded(actor domain.User, msg domain.Message, now time.Time) Event {
	return newEvent(EventTicketMessageAdded, msg.TicketID, actor, now, TicketMessageAddedPayload{
		MessageID:   msg.ID,
		MessageKind: msg.Kind,
		BodyPreview: preview(msg.Body),
	})
}

// TicketChanged builds the event matching change.Kind from the ticket before
// and after the change.
func TicketChanged(actor domain.User, change domain.TicketChange, prev, next domain.Ticket, now time.Time) Event {
	switch change.Kind {
	case domain.ChangeClaim, domain.ChangeReassign:
		t := EventTicketClaimed
		if change.Kind == domain.ChangeReassign {
			t = EventTicketReassigned
		}
		return newEvent(t, next.ID, actor, now, TicketAssignedPayload{
			PreviousTechnicianID: prev.AssignedTechnicianID,
			TechnicianID:         change.TechnicianID,
		})
	case domain.ChangeAdvance:
		return newEvent(EventTicketStatusChanged, next.ID, actor, now, TicketStatusChangedPayload{OldStatus: prev.Status, NewStatus: next.Status})
	case domain.ChangeRate:
		return newEvent(EventTicketRated, next.ID, actor, now, TicketRatedPayload{Satisfaction: change.Satisfaction})
	case domain.ChangeRecordWork:
		return newEvent(EventTicketWorkRecorded, next.ID, actor, now, TicketWorkRecordedPayload{
			TimeSpentMinutes: next.TimeSpentMinutes,
			SolutionSet:      change.Solution != nil,
		})
	default:
		return newEvent(EventTicketPriorityChanged, next.ID, actor, now, TicketPriorityChangedPayload{OldPriority: prev.Priority, NewPriority: next.Priority})
	}
}

// RolledBack builds the event for an optimistic change the backend refused.
func RolledBack(actor domain.User, operation string, t domain.Ticket, now time.Time) Event {
	return newEvent(EventTicketRolledBack, t.ID, actor, now, TicketRolledBackPayload{Operation: operation, Version: t.Version})
}

func preview(body string) string {
	r := []rune(body)
	if len(r) <= bodyPreviewLen {
		return body
	}
	return string(r[:bodyPreviewLen]) + "..."
}
