package dto

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// CreateTicketRequest is the desk payload for opening a ticket.
type CreateTicketRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Category    string                `json:"category"`
	Priority    domain.TicketPriority `json:"priority"`
}

// TicketResponse is the wire shape of a ticket on both HTTP surfaces. The
// remote backend also accepts it as the body of POST /tickets.
type TicketResponse struct {
	ID                   string                `json:"id"`
	Number               string                `json:"number"`
	Title                string                `json:"title"`
	Description          string                `json:"description"`
	Category             string                `json:"category"`
	Priority             domain.TicketPriority `json:"priority"`
	Status               domain.TicketStatus   `json:"status"`
	RequesterID          string                `json:"requester_id"`
	AssignedTechnicianID *string               `json:"assigned_technician_id"`
	AppliedSolution      *string               `json:"applied_solution"`
	TimeSpentMinutes     *int                  `json:"time_spent_minutes"`
	Satisfaction         *int                  `json:"satisfaction"`
	Notes                string                `json:"notes"`
	Version              int64                 `json:"version"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
	ClosedAt             *time.Time            `json:"closed_at"`
}

// TicketFromDomain converts a ticket for the wire.
func TicketFromDomain(t domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:                   t.ID,
		Number:               t.Number,
		Title:                t.Title,
		Description:          t.Description,
		Category:             t.Category,
		Priority:             t.Priority,
		Status:               t.Status,
		RequesterID:          t.RequesterID,
		AssignedTechnicianID: t.AssignedTechnicianID,
		AppliedSolution:      t.AppliedSolution,
		TimeSpentMinutes:     t.TimeSpentMinutes,
		Satisfaction:         t.Satisfaction,
		Notes:                t.Notes,
		Version:              t.Version,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
		ClosedAt:             t.ClosedAt,
	}
}

// TicketsFromDomain converts a list.
func TicketsFromDomain(tickets []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, TicketFromDomain(t))
	}
	return out
}

// ToDomain converts back from the wire.
func (r TicketResponse) ToDomain() domain.Ticket {
	return domain.Ticket{
		ID:                   r.ID,
		Number:               r.Number,
		Title:                r.Title,
		Description:          r.Description,
		Category:             r.Category,
		Priority:             r.Priority,
		Status:               r.Status,
		RequesterID:          r.RequesterID,
		AssignedTechnicianID: r.AssignedTechnicianID,
		AppliedSolution:      r.AppliedSolution,
		TimeSpentMinutes:     r.TimeSpentMinutes,
		Satisfaction:         r.Satisfaction,
		Notes:                r.Notes,
		Version:              r.Version,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
		ClosedAt:             r.ClosedAt,
	}
}

// TicketChangeRequest is the body of PATCH /tickets/:id on the remote backend.
type TicketChangeRequest struct {
	Kind             domain.ChangeKind     `json:"kind"`
	TechnicianID     string                `json:"technician_id,omitempty"`
	Status           domain.TicketStatus   `json:"status,omitempty"`
	Solution         *string               `json:"solution,omitempty"`
	TimeSpentMinutes *int                  `json:"time_spent_minutes,omitempty"`
	Notes            *string               `json:"notes,omitempty"`
	Satisfaction     int                   `json:"satisfaction,omitempty"`
	Priority         domain.TicketPriority `json:"priority,omitempty"`
}

// ChangeFromDomain converts a change for the wire.
func ChangeFromDomain(c domain.TicketChange) TicketChangeRequest {
	return TicketChangeRequest{
		Kind:             c.Kind,
		TechnicianID:     c.TechnicianID,
		Status:           c.Status,
		Solution:         c.Solution,
		TimeSpentMinutes: c.TimeSpentMinutes,
		Notes:            c.Notes,
		Satisfaction:     c.Satisfaction,
		Priority:         c.Priority,
	}
}

// ToDomain converts back from the wire.
func (r TicketChangeRequest) ToDomain() domain.TicketChange {
	return domain.TicketChange{
		Kind:             r.Kind,
		TechnicianID:     r.TechnicianID,
		Status:           r.Status,
		Solution:         r.Solution,
		TimeSpentMinutes: r.TimeSpentMinutes,
		Notes:            r.Notes,
		Satisfaction:     r.Satisfaction,
		Priority:         r.Priority,
	}
}

// ClaimRequest lets the desk pass the version the user was looking at.
type ClaimRequest struct {
	SeenVersion int64 `json:"seen_version"`
}

// ReassignRequest payload.
type ReassignRequest struct {
	TechnicianID string `json:"technician_id"`
}

// AdvanceRequest payload.
type AdvanceRequest struct {
	Status           domain.TicketStatus `json:"status"`
	Solution         *string             `json:"solution"`
	TimeSpentMinutes *int                `json:"time_spent_minutes"`
}

// WorkRequest payload.
type WorkRequest struct {
	Solution         *string `json:"solution"`
	TimeSpentMinutes *int    `json:"time_spent_minutes"`
	Notes            *string `json:"notes"`
}

// PriorityRequest payload.
type PriorityRequest struct {
	Priority domain.TicketPriority `json:"priority"`
}

// RateRequest payload.
type RateRequest struct {
	Satisfaction int `json:"satisfaction"`
}

// CreateMessageRequest payload. The remote backend additionally receives the
// client-assigned id, author and timestamp.
type CreateMessageRequest struct {
	ID        string             `json:"id,omitempty"`
	AuthorID  string             `json:"author_id,omitempty"`
	Body      string             `json:"body"`
	Kind      domain.MessageKind `json:"kind"`
	CreatedAt *time.Time         `json:"created_at,omitempty"`
}

// ToDomain builds the message for ticketID. Missing id and timestamp stay zero.
func (r CreateMessageRequest) ToDomain(ticketID string) domain.Message {
	msg := domain.Message{
		ID:       r.ID,
		TicketID: ticketID,
		AuthorID: r.AuthorID,
		Body:     r.Body,
		Kind:     r.Kind,
	}
	if r.CreatedAt != nil {
		msg.CreatedAt = *r.CreatedAt
	}
	return msg
}

// MessageResponse represents a thread message.
type MessageResponse struct {
	ID        string             `json:"id"`
	TicketID  string             `json:"ticket_id"`
	AuthorID  string             `json:"author_id"`
	Body      string             `json:"body"`
	Kind      domain.MessageKind `json:"kind"`
	CreatedAt time.Time          `json:"created_at"`
}

// MessageFromDomain converts a message for the wire.
func MessageFromDomain(m domain.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		TicketID:  m.TicketID,
		AuthorID:  m.AuthorID,
		Body:      m.Body,
		Kind:      m.Kind,
		CreatedAt: m.CreatedAt,
	}
}

// MessagesFromDomain converts a list.
func MessagesFromDomain(msgs []domain.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageFromDomain(m))
	}
	return out
}

// ToDomain converts back from the wire.
func (r MessageResponse) ToDomain() domain.Message {
	return domain.Message{
		ID:        r.ID,
		TicketID:  r.TicketID,
		AuthorID:  r.AuthorID,
		Body:      r.Body,
		Kind:      r.Kind,
		CreatedAt: r.CreatedAt,
	}
}

// TicketHistoryResponse is one audit trail entry.
type TicketHistoryResponse struct {
	ID          string          `json:"id"`
	TicketID    string          `json:"ticket_id"`
	ChangedByID *string         `json:"changed_by,omitempty"`
	Change      string          `json:"change"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// HistoryFromDomain converts an audit trail.
func HistoryFromDomain(entries []domain.TicketHistory) []TicketHistoryResponse {
	out := make([]TicketHistoryResponse, 0, len(entries))
	for _, h := range entries {
		out = append(out, TicketHistoryResponse{
			ID:          h.ID,
			TicketID:    h.TicketID,
			ChangedByID: h.ChangedByID,
			Change:      h.Change,
			Payload:     h.Payload,
			CreatedAt:   h.CreatedAt,
		})
	}
	return out
}
