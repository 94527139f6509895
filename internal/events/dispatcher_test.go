package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

func TestPublishRunsEveryHandler(t *testing.T) {
	d := NewInMemoryDispatcher()
	calls := 0
	boom := errors.New("boom")
	d.Subscribe(EventTicketClaimed, func(context.Context, Event) error { calls++; return boom })
	d.Subscribe(EventTicketClaimed, func(context.Context, Event) error { calls++; return nil })
	d.Subscribe(EventTicketRated, func(context.Context, Event) error { calls += 10; return nil })

	err := d.Publish(context.Background(), Event{Type: EventTicketClaimed})
	if calls != 2 {
		t.Fatalf("expected both claim handlers to run, got %d calls", calls)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error to surface, got %v", err)
	}
	if err := d.Publish(context.Background(), Event{Type: EventConnectivityChanged}); err != nil {
		t.Fatalf("no handlers must not fail: %v", err)
	}
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	d := NewInMemoryDispatcher()
	ran := false
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error { panic("bad handler") })
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error { ran = true; return nil })

	err := d.Publish(context.Background(), Event{Type: EventTicketCreated})
	if !ran {
		t.Fatalf("second handler must still run")
	}
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic to surface as error, got %v", err)
	}
}

func TestBuildersPickTypeFromChange(t *testing.T) {
	actor := domain.User{ID: "2", Role: domain.RoleTechnician}
	prev := domain.Ticket{ID: "t1", Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityLow}
	next := prev
	next.Status = domain.TicketStatusInProgress
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		kind domain.ChangeKind
		want EventType
	}{
		{domain.ChangeClaim, EventTicketClaimed},
		{domain.ChangeReassign, EventTicketReassigned},
		{domain.ChangeAdvance, EventTicketStatusChanged},
		{domain.ChangeRate, EventTicketRated},
		{domain.ChangeRecordWork, EventTicketWorkRecorded},
		{domain.ChangeSetPriority, EventTicketPriorityChanged},
	}
	for _, tc := range cases {
		ev := TicketChanged(actor, domain.TicketChange{Kind: tc.kind}, prev, next, now)
		if ev.Type != tc.want || ev.TicketID != "t1" || ev.Actor.UserID != "2" || ev.ID == "" {
			t.Fatalf("%s: unexpected event %+v", tc.kind, ev)
		}
	}

	status := TicketChanged(actor, domain.TicketChange{Kind: domain.ChangeAdvance}, prev, next, now)
	if p := status.Payload.(TicketStatusChangedPayload); p.OldStatus != domain.TicketStatusOpen || p.NewStatus != domain.TicketStatusInProgress {
		t.Fatalf("unexpected status payload %+v", p)
	}

	long := strings.Repeat("á", 100)
	msg := MessageAdded(actor, domain.Message{ID: "m1", TicketID: "t1", Body: long, Kind: domain.MessageKindNote}, now)
	if p := msg.Payload.(TicketMessageAddedPayload); len([]rune(p.BodyPreview)) != 83 {
		t.Fatalf("expected 80 rune preview plus ellipsis, got %d", len([]rune(p.BodyPreview)))
	}
}
