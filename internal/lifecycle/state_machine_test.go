package lifecycle

import (
	"reflect"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

var now = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func openTicket() domain.Ticket {
	return domain.Ticket{
		ID:          "t1",
		Number:      "#2026001",
		Title:       "VPN drops",
		Priority:    domain.TicketPriorityHigh,
		Status:      domain.TicketStatusOpen,
		RequesterID: "req-1",
		Version:     1,
		CreatedAt:   now.Add(-time.Hour),
		UpdatedAt:   now.Add(-time.Hour),
	}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestClaimAssignsAndStartsWork(t *testing.T) {
	ticket := openTicket()
	if err := Claim(&ticket, "tech-1", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ticket.Status != domain.TicketStatusInProgress || !ticket.AssignedTo("tech-1") {
		t.Fatalf("unexpected ticket after claim: %+v", ticket)
	}
	if ticket.Version != 2 || !ticket.UpdatedAt.Equal(now) {
		t.Fatalf("expected version bump and updated_at, got v%d %s", ticket.Version, ticket.UpdatedAt)
	}
}

func TestClaimRejectsAssignedOrNonOpen(t *testing.T) {
	assigned := openTicket()
	assigned.AssignedTechnicianID = strPtr("tech-2")

	pending := openTicket()
	pending.Status = domain.TicketStatusPending
	pending.AssignedTechnicianID = strPtr("tech-2")

	for name, ticket := range map[string]domain.Ticket{"assigned": assigned, "pending": pending} {
		before := ticket.Clone()
		err := Claim(&ticket, "tech-1", now)
		if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
			t.Fatalf("%s: expected INVALID_TRANSITION, got %v", name, err)
		}
		if !reflect.DeepEqual(before, ticket) {
			t.Fatalf("%s: ticket mutated by failed claim", name)
		}
	}
}

func TestAdvanceEdges(t *testing.T) {
	cases := []struct {
		from     domain.TicketStatus
		to       domain.TicketStatus
		override bool
		ok       bool
	}{
		{domain.TicketStatusOpen, domain.TicketStatusInProgress, false, true},
		{domain.TicketStatusOpen, domain.TicketStatusResolved, false, false},
		{domain.TicketStatusInProgress, domain.TicketStatusPending, false, true},
		{domain.TicketStatusPending, domain.TicketStatusInProgress, false, true},
		{domain.TicketStatusInProgress, domain.TicketStatusResolved, false, true},
		{domain.TicketStatusPending, domain.TicketStatusResolved, false, true},
		{domain.TicketStatusResolved, domain.TicketStatusClosed, false, true},
		{domain.TicketStatusResolved, domain.TicketStatusInProgress, false, false},
		{domain.TicketStatusResolved, domain.TicketStatusInProgress, true, true},
		{domain.TicketStatusInProgress, domain.TicketStatusClosed, false, false},
		{domain.TicketStatusInProgress, domain.TicketStatusClosed, true, true},
		{domain.TicketStatusClosed, domain.TicketStatusInProgress, true, false},
		{domain.TicketStatusClosed, domain.TicketStatusOpen, true, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to, tc.override); got != tc.ok {
			t.Fatalf("%s -> %s (override=%v): expected %v, got %v", tc.from, tc.to, tc.override, tc.ok, got)
		}
	}
}

func TestAdvanceIntoInProgressNeedsTechnician(t *testing.T) {
	ticket := openTicket()
	err := Advance(&ticket, domain.TicketStatusInProgress, AdvanceOptions{Now: now})
	if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
	ticket.AssignedTechnicianID = strPtr("tech-1")
	if err := Advance(&ticket, domain.TicketStatusInProgress, AdvanceOptions{Now: now}); err != nil {
		t.Fatalf("advance: %v", err)
	}
}

func TestResolveRequiresSolutionThenSetsClosedAt(t *testing.T) {
	ticket := openTicket()
	if err := Claim(&ticket, "tech-1", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	claimed := ticket.Clone()

	err := Advance(&ticket, domain.TicketStatusResolved, AdvanceOptions{Now: now})
	if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION without solution, got %v", err)
	}
	err = Advance(&ticket, domain.TicketStatusResolved, AdvanceOptions{Solution: strPtr("   "), Now: now})
	if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION with blank solution, got %v", err)
	}
	if !reflect.DeepEqual(claimed, ticket) {
		t.Fatalf("failed resolve changed the ticket")
	}

	resolvedAt := now.Add(30 * time.Minute)
	err = Advance(&ticket, domain.TicketStatusResolved, AdvanceOptions{
		Solution:         strPtr("replaced cable"),
		TimeSpentMinutes: intPtr(25),
		Now:              resolvedAt,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ticket.Status != domain.TicketStatusResolved || ticket.ClosedAt == nil || !ticket.ClosedAt.Equal(resolvedAt) {
		t.Fatalf("unexpected resolved ticket: %+v", ticket)
	}
	if ticket.Satisfaction != nil || *ticket.AppliedSolution != "replaced cable" || *ticket.TimeSpentMinutes != 25 {
		t.Fatalf("unexpected resolution fields: %+v", ticket)
	}

	closedAt := *ticket.ClosedAt
	if err := Advance(&ticket, domain.TicketStatusClosed, AdvanceOptions{Now: resolvedAt.Add(time.Hour)}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ticket.ClosedAt.Equal(closedAt) {
		t.Fatalf("closing a resolved ticket must keep closed_at")
	}
}

func TestReopenClearsClosedAt(t *testing.T) {
	ticket := openTicket()
	_ = Claim(&ticket, "tech-1", now)
	_ = Advance(&ticket, domain.TicketStatusResolved, AdvanceOptions{Solution: strPtr("reboot"), Now: now})
	if err := Advance(&ticket, domain.TicketStatusInProgress, AdvanceOptions{Override: true, Now: now}); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if ticket.ClosedAt != nil {
		t.Fatalf("reopened ticket must not keep closed_at")
	}
}

func TestForceCloseRequiresTechnician(t *testing.T) {
	ticket := openTicket()
	err := Advance(&ticket, domain.TicketStatusClosed, AdvanceOptions{Override: true, Now: now})
	if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION for unassigned force close, got %v", err)
	}
	ticket.AssignedTechnicianID = strPtr("tech-1")
	if err := Advance(&ticket, domain.TicketStatusClosed, AdvanceOptions{Override: true, Now: now}); err != nil {
		t.Fatalf("force close: %v", err)
	}
	if ticket.ClosedAt == nil {
		t.Fatalf("force close must set closed_at")
	}
}

func TestRateOnceOnResolved(t *testing.T) {
	ticket := openTicket()
	if err := Rate(&ticket, 5, now); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("rating an open ticket: expected INVALID_TRANSITION, got %v", err)
	}
	_ = Claim(&ticket, "tech-1", now)
	_ = Advance(&ticket, domain.TicketStatusResolved, AdvanceOptions{Solution: strPtr("fixed"), Now: now})

	if err := Rate(&ticket, 6, now); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_FAILED for 6, got %v", err)
	}
	if err := Rate(&ticket, 5, now); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if err := Rate(&ticket, 3, now); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("second rating: expected INVALID_TRANSITION, got %v", err)
	}
	if *ticket.Satisfaction != 5 {
		t.Fatalf("original rating must be preserved, got %d", *ticket.Satisfaction)
	}
	if ticket.Status != domain.TicketStatusResolved {
		t.Fatalf("rating must not change status")
	}
}

func TestReassignKeepsStatus(t *testing.T) {
	ticket := openTicket()
	_ = Claim(&ticket, "tech-1", now)
	if err := Reassign(&ticket, "tech-2", now); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if !ticket.AssignedTo("tech-2") || ticket.Status != domain.TicketStatusInProgress {
		t.Fatalf("unexpected ticket after reassign: %+v", ticket)
	}
	ticket.Status = domain.TicketStatusClosed
	closed := now
	ticket.ClosedAt = &closed
	if err := Reassign(&ticket, "tech-1", now); !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("reassigning a closed ticket: expected INVALID_TRANSITION, got %v", err)
	}
}

func TestApplyNeverTouchesIdentity(t *testing.T) {
	ticket := openTicket()
	changes := []domain.TicketChange{
		{Kind: domain.ChangeClaim, TechnicianID: "tech-1"},
		{Kind: domain.ChangeSetPriority, Priority: domain.TicketPriorityUrgent},
		{Kind: domain.ChangeRecordWork, Notes: strPtr("checked switch"), TimeSpentMinutes: intPtr(10)},
		{Kind: domain.ChangeAdvance, Status: domain.TicketStatusResolved, Solution: strPtr("new switch port")},
		{Kind: domain.ChangeRate, Satisfaction: 4},
	}
	for _, change := range changes {
		if err := Apply(&ticket, change, false, now); err != nil {
			t.Fatalf("%s: %v", change.Kind, err)
		}
	}
	if ticket.RequesterID != "req-1" || ticket.Number != "#2026001" || !ticket.CreatedAt.Equal(now.Add(-time.Hour)) {
		t.Fatalf("identity fields changed: %+v", ticket)
	}
	if err := Apply(&ticket, domain.TicketChange{Kind: "delete"}, true, now); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("unknown kind: expected VALIDATION_FAILED, got %v", err)
	}
}
