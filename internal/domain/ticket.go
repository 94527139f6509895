package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusPending    TicketStatus = "PENDING"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// AllStatuses lists statuses in lifecycle order.
var AllStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusInProgress,
	TicketStatusPending,
	TicketStatusResolved,
	TicketStatusClosed,
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	for _, candidate := range AllStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsFinished reports whether the ticket counts as resolved (closure timestamp set).
func (s TicketStatus) IsFinished() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// IsActive reports whether work on the ticket is still outstanding.
func (s TicketStatus) IsActive() bool {
	return s == TicketStatusOpen || s == TicketStatusInProgress || s == TicketStatusPending
}

// RequiresAssignee reports whether the status implies an owning technician.
func (s TicketStatus) RequiresAssignee() bool {
	return s != TicketStatusOpen
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// AllPriorities lists priorities from lowest to highest.
var AllPriorities = []TicketPriority{
	TicketPriorityLow,
	TicketPriorityMedium,
	TicketPriorityHigh,
	TicketPriorityUrgent,
}

// Rank gives the total order used for sorting and alerting; unknown values rank 0.
func (p TicketPriority) Rank() int {
	for i, candidate := range AllPriorities {
		if candidate == p {
			return i + 1
		}
	}
	return 0
}

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	return p.Rank() > 0
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID                   string
	Number               string
	Title                string
	Description          string
	Category             string
	Priority             TicketPriority
	Status               TicketStatus
	RequesterID          string
	AssignedTechnicianID *string
	AppliedSolution      *string
	TimeSpentMinutes     *int
	Satisfaction         *int
	Notes                string
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ClosedAt             *time.Time
}

// Clone returns a deep copy so callers never share pointer fields.
func (t Ticket) Clone() Ticket {
	out := t
	out.AssignedTechnicianID = clonePtr(t.AssignedTechnicianID)
	out.AppliedSolution = clonePtr(t.AppliedSolution)
	out.TimeSpentMinutes = clonePtr(t.TimeSpentMinutes)
	out.Satisfaction = clonePtr(t.Satisfaction)
	out.ClosedAt = clonePtr(t.ClosedAt)
	return out
}

// AssignedTo reports whether the ticket is owned by the given technician.
func (t Ticket) AssignedTo(userID string) bool {
	return t.AssignedTechnicianID != nil && *t.AssignedTechnicianID == userID
}

// Unassigned reports whether no technician owns the ticket.
func (t Ticket) Unassigned() bool {
	return t.AssignedTechnicianID == nil || *t.AssignedTechnicianID == ""
}

// ErrInvariant is wrapped by CheckInvariants failures.
var ErrInvariant = errors.New("ticket invariant violated")

// CheckInvariants verifies the closure and assignment invariants.
func (t Ticket) CheckInvariants() error {
	if t.Status.IsFinished() != (t.ClosedAt != nil) {
		return fmt.Errorf("%w: closed_at must be set exactly when status is resolved or closed (status %s)", ErrInvariant, t.Status)
	}
	if t.Status.RequiresAssignee() && t.Unassigned() {
		return fmt.Errorf("%w: status %s requires an assigned technician", ErrInvariant, t.Status)
	}
	if t.TimeSpentMinutes != nil && *t.TimeSpentMinutes < 0 {
		return fmt.Errorf("%w: negative time spent", ErrInvariant)
	}
	if t.Satisfaction != nil && (*t.Satisfaction < 1 || *t.Satisfaction > 5) {
		return fmt.Errorf("%w: satisfaction out of range", ErrInvariant)
	}
	return nil
}

// FormatTicketNumber renders the human-readable number, e.g. #2024001.
func FormatTicketNumber(year int, seq int64) string {
	return fmt.Sprintf("#%04d%03d", year, seq)
}

// ParseTicketNumber splits a number produced by FormatTicketNumber.
func ParseTicketNumber(number string) (year int, seq int64, ok bool) {
	digits := strings.TrimPrefix(number, "#")
	if len(digits) == len(number) || len(digits) < 5 {
		return 0, 0, false
	}
	y, err := strconv.Atoi(digits[:4])
	if err != nil {
		return 0, 0, false
	}
	s, err := strconv.ParseInt(digits[4:], 10, 64)
	if err != nil || s < 0 {
		return 0, 0, false
	}
	return y, s, true
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
