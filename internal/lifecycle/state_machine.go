// Package lifecycle validates and applies ticket transitions. Every function works
// on a copy and writes back only on success, so a rejected change leaves the
// ticket untouched.
package lifecycle

import (
	"strings"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:       {domain.TicketStatusInProgress},
	domain.TicketStatusInProgress: {domain.TicketStatusPending, domain.TicketStatusResolved},
	domain.TicketStatusPending:    {domain.TicketStatusInProgress, domain.TicketStatusResolved},
	domain.TicketStatusResolved:   {domain.TicketStatusClosed},
	domain.TicketStatusClosed:     {},
}

// overrideTransitions are only reachable by an administrator.
var overrideTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:       {domain.TicketStatusClosed},
	domain.TicketStatusInProgress: {domain.TicketStatusClosed},
	domain.TicketStatusPending:    {domain.TicketStatusClosed},
	domain.TicketStatusResolved:   {domain.TicketStatusInProgress},
}

// CanTransition reports whether from -> to is an edge, optionally including
// administrator override edges.
func CanTransition(from, to domain.TicketStatus, override bool) bool {
	if contains(allowedTransitions[from], to) {
		return true
	}
	return override && contains(overrideTransitions[from], to)
}

// AdvanceOptions carries the optional fields that may accompany a status change.
type AdvanceOptions struct {
	Solution         *string
	TimeSpentMinutes *int
	Override         bool
	Now              time.Time
}

// Claim assigns an open, unassigned ticket to a technician and starts work on it.
func Claim(t *domain.Ticket, technicianID string, now time.Time) error {
	if strings.TrimSpace(technicianID) == "" {
		return apperrors.NewValidationError("technician id required", nil)
	}
	if t.Status != domain.TicketStatusOpen || !t.Unassigned() {
		return apperrors.NewInvalidTransition(string(t.Status), string(domain.TicketStatusInProgress)+" (claim)", string(t.Status))
	}
	next := t.Clone()
	next.AssignedTechnicianID = &technicianID
	next.Status = domain.TicketStatusInProgress
	return commit(t, next, now)
}

// Reassign changes the owning technician without touching the status.
func Reassign(t *domain.Ticket, technicianID string, now time.Time) error {
	if strings.TrimSpace(technicianID) == "" {
		return apperrors.NewValidationError("technician id required", nil)
	}
	if t.Status == domain.TicketStatusClosed {
		return apperrors.NewInvalidTransition(string(t.Status), string(t.Status)+" (reassign)", string(t.Status))
	}
	next := t.Clone()
	next.AssignedTechnicianID = &technicianID
	return commit(t, next, now)
}

// Advance moves the ticket along one status edge.
func Advance(t *domain.Ticket, to domain.TicketStatus, opts AdvanceOptions) error {
	if !to.Valid() {
		return apperrors.NewValidationError("unknown status", map[string]any{"status": to})
	}
	if !CanTransition(t.Status, to, opts.Override) {
		return apperrors.NewInvalidTransition(string(t.Status), string(to), string(t.Status))
	}
	if opts.TimeSpentMinutes != nil && *opts.TimeSpentMinutes < 0 {
		return apperrors.NewValidationError("time spent must not be negative", nil)
	}

	next := t.Clone()
	if opts.Solution != nil {
		solution := strings.TrimSpace(*opts.Solution)
		next.AppliedSolution = &solution
	}
	if opts.TimeSpentMinutes != nil {
		minutes := *opts.TimeSpentMinutes
		next.TimeSpentMinutes = &minutes
	}
	if to.RequiresAssignee() && next.Unassigned() {
		return apperrors.NewInvalidTransition(string(t.Status), string(to), string(t.Status))
	}

	switch to {
	case domain.TicketStatusResolved:
		if next.AppliedSolution == nil || *next.AppliedSolution == "" {
			return apperrors.NewInvalidTransition(string(t.Status), string(to), string(t.Status))
		}
		closedAt := opts.Now
		next.ClosedAt = &closedAt
	case domain.TicketStatusClosed:
		if next.ClosedAt == nil {
			closedAt := opts.Now
			next.ClosedAt = &closedAt
		}
	default:
		next.ClosedAt = nil
	}
	next.Status = to
	return commit(t, next, opts.Now)
}

// Rate records the requester's satisfaction score. A ticket is rated at most once.
func Rate(t *domain.Ticket, score int, now time.Time) error {
	if score < 1 || score > 5 {
		return apperrors.NewValidationError("satisfaction must be between 1 and 5", map[string]any{"score": score})
	}
	if t.Status != domain.TicketStatusResolved || t.Satisfaction != nil {
		return apperrors.NewInvalidTransition(string(t.Status), string(t.Status)+" (rate)", string(t.Status))
	}
	next := t.Clone()
	next.Satisfaction = &score
	return commit(t, next, now)
}

// RecordWork updates the solution, time spent and operational notes.
func RecordWork(t *domain.Ticket, solution *string, minutes *int, notes *string, now time.Time) error {
	if t.Status == domain.TicketStatusClosed {
		return apperrors.NewInvalidTransition(string(t.Status), string(t.Status)+" (record_work)", string(t.Status))
	}
	if solution == nil && minutes == nil && notes == nil {
		return apperrors.NewValidationError("nothing to record", nil)
	}
	if minutes != nil && *minutes < 0 {
		return apperrors.NewValidationError("time spent must not be negative", nil)
	}
	next := t.Clone()
	if solution != nil {
		trimmed := strings.TrimSpace(*solution)
		if trimmed == "" && t.Status == domain.TicketStatusResolved {
			return apperrors.NewValidationError("resolved tickets keep their solution", nil)
		}
		next.AppliedSolution = &trimmed
	}
	if minutes != nil {
		m := *minutes
		next.TimeSpentMinutes = &m
	}
	if notes != nil {
		next.Notes = strings.TrimSpace(*notes)
	}
	return commit(t, next, now)
}

// SetPriority changes the ticket urgency.
func SetPriority(t *domain.Ticket, priority domain.TicketPriority, now time.Time) error {
	if !priority.Valid() {
		return apperrors.NewValidationError("unknown priority", map[string]any{"priority": priority})
	}
	if t.Status == domain.TicketStatusClosed {
		return apperrors.NewInvalidTransition(string(t.Status), string(t.Status)+" (set_priority)", string(t.Status))
	}
	next := t.Clone()
	next.Priority = priority
	return commit(t, next, now)
}

// Apply dispatches a TicketChange to the matching transition.
func Apply(t *domain.Ticket, change domain.TicketChange, override bool, now time.Time) error {
	switch change.Kind {
	case domain.ChangeClaim:
		return Claim(t, change.TechnicianID, now)
	case domain.ChangeReassign:
		return Reassign(t, change.TechnicianID, now)
	case domain.ChangeAdvance:
		return Advance(t, change.Status, AdvanceOptions{
			Solution:         change.Solution,
			TimeSpentMinutes: change.TimeSpentMinutes,
			Override:         override,
			Now:              now,
		})
	case domain.ChangeRate:
		return Rate(t, change.Satisfaction, now)
	case domain.ChangeRecordWork:
		return RecordWork(t, change.Solution, change.TimeSpentMinutes, change.Notes, now)
	case domain.ChangeSetPriority:
		return SetPriority(t, change.Priority, now)
	default:
		return apperrors.NewValidationError("unknown change kind", map[string]any{"kind": change.Kind})
	}
}

func commit(t *domain.Ticket, next domain.Ticket, now time.Time) error {
	if err := next.CheckInvariants(); err != nil {
		return apperrors.NewInvalidTransition(string(t.Status), string(next.Status), string(t.Status))
	}
	next.Version = t.Version + 1
	next.UpdatedAt = now
	*t = next
	return nil
}

func contains(list []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}
