package domain

import "time"

// MessageKind differentiates comments, solution write-ups and internal notes.
type MessageKind string

const (
	MessageKindComment  MessageKind = "COMMENT"
	MessageKindSolution MessageKind = "SOLUTION"
	MessageKindNote     MessageKind = "NOTE"
)

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindComment, MessageKindSolution, MessageKindNote:
		return true
	}
	return false
}

// Message is an append-only entry in a ticket thread.
type Message struct {
	ID        string
	TicketID  string
	AuthorID  string
	Body      string
	Kind      MessageKind
	CreatedAt time.Time
}
