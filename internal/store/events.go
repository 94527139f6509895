package store

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/syncengine"
)

func noticeEvent(n syncengine.Notice, now time.Time) events.Event {
	actor := n.Op.Actor
	if n.RolledBack {
		return events.RolledBack(actor, operationName(n.Op), n.Ticket, now)
	}
	switch n.Op.Kind {
	case syncengine.OpCreate:
		return events.TicketCreated(actor, n.Ticket, now)
	case syncengine.OpMessage:
		msg := domain.Message{TicketID: n.Ticket.ID}
		if n.Message != nil {
			msg = *n.Message
		}
		return events.MessageAdded(actor, msg, now)
	}
	var prev domain.Ticket
	if n.Previous != nil {
		prev = *n.Previous
	}
	return events.TicketChanged(actor, n.Op.Change, prev, n.Ticket, now)
}

func operationName(op syncengine.Operation) string {
	switch op.Kind {
	case syncengine.OpChange:
		return string(op.Change.Kind)
	case syncengine.OpMessage:
		return string(domain.ChangeAppendMessage)
	}
	return string(op.Kind)
}
