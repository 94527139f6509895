package domain

import "strings"

// TicketFilter narrows ticket reads against either backend.
type TicketFilter struct {
	RequesterID          *string
	AssignedTechnicianID *string
	Unassigned           bool
	Statuses             []TicketStatus
	Priorities           []TicketPriority
	SearchTerm           string
	Limit                int
	Offset               int
}

// Matches applies the filter to a single ticket; Limit and Offset are ignored.
func (f TicketFilter) Matches(t Ticket) bool {
	if f.RequesterID != nil && t.RequesterID != *f.RequesterID {
		return false
	}
	if f.AssignedTechnicianID != nil && !t.AssignedTo(*f.AssignedTechnicianID) {
		return false
	}
	if f.Unassigned && !t.Unassigned() {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !containsPriority(f.Priorities, t.Priority) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.SearchTerm)); term != "" {
		if !strings.Contains(strings.ToLower(t.Title), term) && !strings.Contains(strings.ToLower(t.Description), term) {
			return false
		}
	}
	return true
}

func containsStatus(list []TicketStatus, s TicketStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

func containsPriority(list []TicketPriority, p TicketPriority) bool {
	for _, candidate := range list {
		if candidate == p {
			return true
		}
	}
	return false
}
