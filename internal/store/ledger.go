package store

import (
	"fmt"
	"sync"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// ledger is the store's ticket and message collection. All copies handed out are
// deep clones.
type ledger struct {
	mu       sync.RWMutex
	tickets  map[string]domain.Ticket
	order    []string
	messages map[string][]domain.Message
}

func newLedger() *ledger {
	return &ledger{
		tickets:  make(map[string]domain.Ticket),
		messages: make(map[string][]domain.Message),
	}
}

func (l *ledger) Ticket(id string) (domain.Ticket, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tickets[id]
	if !ok {
		return domain.Ticket{}, false
	}
	return t.Clone(), true
}

func (l *ledger) Tickets() []domain.Ticket {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Ticket, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.tickets[id].Clone())
	}
	return out
}

func (l *ledger) InsertTicket(t domain.Ticket) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tickets[t.ID]; ok {
		return fmt.Errorf("ticket %s already exists", t.ID)
	}
	for _, existing := range l.tickets {
		if existing.Number == t.Number {
			return fmt.Errorf("ticket number %s already in use", t.Number)
		}
	}
	l.tickets[t.ID] = t.Clone()
	l.order = append(l.order, t.ID)
	return nil
}

func (l *ledger) PutTicket(t domain.Ticket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tickets[t.ID]; !ok {
		l.order = append(l.order, t.ID)
	}
	l.tickets[t.ID] = t.Clone()
}

func (l *ledger) DeleteTicket(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleteLocked(id)
}

func (l *ledger) deleteLocked(id string) {
	if _, ok := l.tickets[id]; !ok {
		return
	}
	delete(l.tickets, id)
	delete(l.messages, id)
	for i, candidate := range l.order {
		if candidate == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// ReplaceTickets swaps the collection for tickets, except ids keep selects,
// which stay as they are locally.
func (l *ledger) ReplaceTickets(tickets []domain.Ticket, keep func(id string) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	incoming := make(map[string]bool, len(tickets))
	for _, t := range tickets {
		incoming[t.ID] = true
	}
	for _, id := range append([]string(nil), l.order...) {
		if !incoming[id] && !keep(id) {
			l.deleteLocked(id)
		}
	}
	for _, t := range tickets {
		if _, ok := l.tickets[t.ID]; ok && keep(t.ID) {
			continue
		}
		if _, ok := l.tickets[t.ID]; !ok {
			l.order = append(l.order, t.ID)
		}
		l.tickets[t.ID] = t.Clone()
	}
}

func (l *ledger) Messages(ticketID string) []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.Message(nil), l.messages[ticketID]...)
}

func (l *ledger) AppendMessage(msg domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages[msg.TicketID] = append(l.messages[msg.TicketID], msg)
}

func (l *ledger) RemoveMessage(ticketID, messageID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := l.messages[ticketID]
	for i, m := range msgs {
		if m.ID == messageID {
			l.messages[ticketID] = append(msgs[:i:i], msgs[i+1:]...)
			return
		}
	}
}

func (l *ledger) ReplaceMessages(ticketID string, msgs []domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages[ticketID] = append([]domain.Message(nil), msgs...)
}

// load resets the ledger to a dataset.
func (l *ledger) load(tickets []domain.Ticket, msgs []domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tickets = make(map[string]domain.Ticket, len(tickets))
	l.order = l.order[:0]
	l.messages = make(map[string][]domain.Message)
	for _, t := range tickets {
		l.tickets[t.ID] = t.Clone()
		l.order = append(l.order, t.ID)
	}
	for _, m := range msgs {
		l.messages[m.TicketID] = append(l.messages[m.TicketID], m)
	}
}
