package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTicketNumberRoundTrip(t *testing.T) {
	cases := []struct {
		year int
		seq  int64
		want string
	}{
		{2024, 1, "#2024001"},
		{2024, 42, "#2024042"},
		{2026, 1234, "#20261234"},
	}
	for _, tc := range cases {
		got := FormatTicketNumber(tc.year, tc.seq)
		if got != tc.want {
			t.Fatalf("format(%d,%d): expected %s, got %s", tc.year, tc.seq, tc.want, got)
		}
		year, seq, ok := ParseTicketNumber(got)
		if !ok || year != tc.year || seq != tc.seq {
			t.Fatalf("parse(%s): got %d %d %v", got, year, seq, ok)
		}
	}
}

func TestParseTicketNumberRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "2024001", "#20", "#abcd001", "#2024x1", "HD-2024-001"} {
		if _, _, ok := ParseTicketNumber(in); ok {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
}

func TestPriorityOrder(t *testing.T) {
	if !(TicketPriorityLow.Rank() < TicketPriorityMedium.Rank() &&
		TicketPriorityMedium.Rank() < TicketPriorityHigh.Rank() &&
		TicketPriorityHigh.Rank() < TicketPriorityUrgent.Rank()) {
		t.Fatalf("priorities are not totally ordered")
	}
	if TicketPriority("CRITICAL").Valid() {
		t.Fatalf("unknown priority reported valid")
	}
}

func TestCloneDoesNotShareFields(t *testing.T) {
	tech := "tech-1"
	score := 4
	orig := Ticket{AssignedTechnicianID: &tech, Satisfaction: &score}
	cp := orig.Clone()
	*cp.AssignedTechnicianID = "tech-2"
	*cp.Satisfaction = 1
	if *orig.AssignedTechnicianID != "tech-1" || *orig.Satisfaction != 4 {
		t.Fatalf("clone shares pointer fields with original")
	}
}

func TestCheckInvariants(t *testing.T) {
	now := time.Now()
	tech := "tech-1"
	cases := []struct {
		name   string
		ticket Ticket
		ok     bool
	}{
		{"open unassigned", Ticket{Status: TicketStatusOpen}, true},
		{"in progress assigned", Ticket{Status: TicketStatusInProgress, AssignedTechnicianID: &tech}, true},
		{"in progress unassigned", Ticket{Status: TicketStatusInProgress}, false},
		{"resolved without closed_at", Ticket{Status: TicketStatusResolved, AssignedTechnicianID: &tech}, false},
		{"resolved with closed_at", Ticket{Status: TicketStatusResolved, AssignedTechnicianID: &tech, ClosedAt: &now}, true},
		{"open with closed_at", Ticket{Status: TicketStatusOpen, ClosedAt: &now}, false},
	}
	for _, tc := range cases {
		err := tc.ticket.CheckInvariants()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvariant) {
			t.Fatalf("%s: expected invariant error, got %v", tc.name, err)
		}
	}
}

func TestFilterMatches(t *testing.T) {
	tech := "tech-1"
	requester := "req-1"
	ticket := Ticket{
		Title:                "Printer jammed",
		Status:               TicketStatusInProgress,
		Priority:             TicketPriorityHigh,
		RequesterID:          requester,
		AssignedTechnicianID: &tech,
	}
	if !(TicketFilter{RequesterID: &requester, SearchTerm: "printer"}).Matches(ticket) {
		t.Fatalf("expected requester+search match")
	}
	if (TicketFilter{Unassigned: true}).Matches(ticket) {
		t.Fatalf("assigned ticket matched unassigned filter")
	}
	if (TicketFilter{Statuses: []TicketStatus{TicketStatusOpen}}).Matches(ticket) {
		t.Fatalf("status filter ignored")
	}
}
