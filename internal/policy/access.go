// Package policy decides what each role may see and change. The capability table
// below is the only place roles are interpreted.
package policy

import (
	"net/http"

	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// Capability is a single permission held by a role.
type Capability string

const (
	CapViewAll           Capability = "view_all"
	CapViewOwn           Capability = "view_own"
	CapViewQueue         Capability = "view_assigned_or_unassigned"
	CapCreateTicket      Capability = "create_ticket"
	CapClaim             Capability = "claim"
	CapReassign          Capability = "reassign"
	CapOverrideStatus    Capability = "override_status"
	CapWorkAny           Capability = "work_any"
	CapWorkAssigned      Capability = "work_assigned"
	CapSetPriority       Capability = "set_priority"
	CapMessageAny        Capability = "message_any"
	CapMessageAssigned   Capability = "message_assigned"
	CapCommentOwn        Capability = "comment_own"
	CapRateOwn           Capability = "rate_own"
	CapReadInternalNotes Capability = "read_internal_notes"
	CapManageUsers       Capability = "manage_users"
)

type capabilitySet map[Capability]struct{}

func setOf(caps ...Capability) capabilitySet {
	set := make(capabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

var roleCapabilities = map[domain.Role]capabilitySet{
	domain.RoleAdministrator: setOf(
		CapViewAll, CapCreateTicket, CapClaim, CapReassign, CapOverrideStatus, CapWorkAny,
		CapSetPriority, CapMessageAny, CapReadInternalNotes, CapManageUsers,
	),
	domain.RoleTechnician: setOf(
		CapViewQueue, CapClaim, CapWorkAssigned, CapMessageAssigned, CapReadInternalNotes,
	),
	domain.RoleRequester: setOf(
		CapViewOwn, CapCreateTicket, CapCommentOwn, CapRateOwn,
	),
}

// Has reports whether the role holds the capability. Unknown roles hold nothing.
func Has(role domain.Role, capability Capability) bool {
	_, ok := roleCapabilities[role][capability]
	return ok
}

// Proposal describes the change a caller wants to make to a ticket.
type Proposal struct {
	Kind        domain.ChangeKind
	MessageKind domain.MessageKind
}

// ProposalFor builds a Proposal from a ticket change.
func ProposalFor(change domain.TicketChange) Proposal {
	return Proposal{Kind: change.Kind}
}

// CanView reports whether the caller may see the ticket.
func CanView(role domain.Role, userID string, t domain.Ticket) bool {
	switch {
	case Has(role, CapViewAll):
		return true
	case Has(role, CapViewQueue):
		return t.Unassigned() || t.AssignedTo(userID)
	case Has(role, CapViewOwn):
		return t.RequesterID == userID
	}
	return false
}

// VisibleTickets filters all down to what the caller is entitled to see,
// preserving order.
func VisibleTickets(role domain.Role, userID string, all []domain.Ticket) []domain.Ticket {
	visible := make([]domain.Ticket, 0, len(all))
	for _, t := range all {
		if CanView(role, userID, t) {
			visible = append(visible, t)
		}
	}
	return visible
}

// CanMutate reports whether the caller may apply the proposal to the ticket.
// State preconditions are the state machine's concern; this only checks rights.
func CanMutate(role domain.Role, userID string, t domain.Ticket, p Proposal) bool {
	if !CanView(role, userID, t) {
		return false
	}
	owner := t.AssignedTo(userID)
	switch p.Kind {
	case domain.ChangeClaim:
		if Has(role, CapViewAll) {
			return Has(role, CapClaim)
		}
		return Has(role, CapClaim) && t.Unassigned() && t.Status == domain.TicketStatusOpen
	case domain.ChangeReassign:
		return Has(role, CapReassign)
	case domain.ChangeAdvance, domain.ChangeRecordWork:
		return Has(role, CapWorkAny) || (Has(role, CapWorkAssigned) && owner)
	case domain.ChangeSetPriority:
		return Has(role, CapSetPriority)
	case domain.ChangeRate:
		return Has(role, CapRateOwn) && t.RequesterID == userID
	case domain.ChangeAppendMessage:
		if Has(role, CapMessageAny) {
			return p.MessageKind.Valid()
		}
		if Has(role, CapMessageAssigned) && owner {
			return p.MessageKind.Valid()
		}
		return Has(role, CapCommentOwn) && t.RequesterID == userID && p.MessageKind == domain.MessageKindComment
	}
	return false
}

// Authorize is CanMutate returning a FORBIDDEN error on denial.
func Authorize(role domain.Role, userID string, t domain.Ticket, p Proposal) error {
	if CanMutate(role, userID, t, p) {
		return nil
	}
	return apperrors.NewDomainError(apperrors.CodeForbidden,
		"not allowed to "+string(p.Kind)+" this ticket",
		http.StatusForbidden,
		map[string]any{"ticket_id": t.ID, "role": role, "kind": p.Kind})
}

// CanOverride reports whether the role may use administrator-only status edges.
func CanOverride(role domain.Role) bool {
	return Has(role, CapOverrideStatus)
}

// CanCreate reports whether the role may open tickets.
func CanCreate(role domain.Role) bool {
	return Has(role, CapCreateTicket)
}

// VisibleMessages hides internal notes from roles that may not read them.
func VisibleMessages(role domain.Role, msgs []domain.Message) []domain.Message {
	if Has(role, CapReadInternalNotes) {
		return msgs
	}
	filtered := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Kind == domain.MessageKindNote {
			continue
		}
		filtered = append(filtered, msg)
	}
	return filtered
}
