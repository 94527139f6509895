package syncengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk/internal/connectivity"
	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

type memLedger struct {
	mu       sync.Mutex
	tickets  map[string]domain.Ticket
	order    []string
	messages map[string][]domain.Message
}

func newMemLedger(tickets ...domain.Ticket) *memLedger {
	l := &memLedger{tickets: map[string]domain.Ticket{}, messages: map[string][]domain.Message{}}
	for _, t := range tickets {
		_ = l.InsertTicket(t)
	}
	return l
}

func (l *memLedger) Ticket(id string) (domain.Ticket, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tickets[id]
	return t.Clone(), ok
}

func (l *memLedger) Tickets() []domain.Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Ticket, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.tickets[id].Clone())
	}
	return out
}

func (l *memLedger) InsertTicket(t domain.Ticket) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tickets[t.ID]; ok {
		return fmt.Errorf("duplicate ticket %s", t.ID)
	}
	l.tickets[t.ID] = t
	l.order = append(l.order, t.ID)
	return nil
}

func (l *memLedger) PutTicket(t domain.Ticket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tickets[t.ID]; !ok {
		l.order = append(l.order, t.ID)
	}
	l.tickets[t.ID] = t
}

func (l *memLedger) DeleteTicket(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tickets, id)
	for i, candidate := range l.order {
		if candidate == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func (l *memLedger) ReplaceTickets(tickets []domain.Ticket, keep func(string) bool) {
	for _, t := range tickets {
		if !keep(t.ID) {
			l.PutTicket(t)
		}
	}
}

func (l *memLedger) Messages(ticketID string) []domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Message(nil), l.messages[ticketID]...)
}

func (l *memLedger) AppendMessage(msg domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages[msg.TicketID] = append(l.messages[msg.TicketID], msg)
}

func (l *memLedger) RemoveMessage(ticketID, messageID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := l.messages[ticketID]
	for i, m := range msgs {
		if m.ID == messageID {
			l.messages[ticketID] = append(msgs[:i], msgs[i+1:]...)
			return
		}
	}
}

func (l *memLedger) ReplaceMessages(ticketID string, msgs []domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages[ticketID] = msgs
}

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("remote status %d", int(s)) }
func (s statusErr) HTTPStatus() int { return int(s) }

type fakeRemote struct {
	mu      sync.Mutex
	calls   int
	patchFn func(ctx context.Context, id string, change domain.TicketChange) (domain.Ticket, error)
}

func (f *fakeRemote) Health(context.Context) (domain.HealthReport, error) {
	return domain.HealthReport{Status: "ok"}, nil
}

func (f *fakeRemote) ListTickets(context.Context, domain.TicketFilter) ([]domain.Ticket, error) {
	return nil, nil
}

func (f *fakeRemote) CreateTicket(_ context.Context, t domain.Ticket) (domain.Ticket, error) {
	f.count()
	return t, nil
}

func (f *fakeRemote) PatchTicket(ctx context.Context, id string, change domain.TicketChange) (domain.Ticket, error) {
	f.count()
	if f.patchFn != nil {
		return f.patchFn(ctx, id, change)
	}
	return domain.Ticket{}, nil
}

func (f *fakeRemote) AddMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	f.count()
	return msg, nil
}

func (f *fakeRemote) ListMessages(context.Context, string) ([]domain.Message, error) {
	return nil, nil
}

func (f *fakeRemote) ListUsers(context.Context) ([]domain.User, error) { return nil, nil }

func (f *fakeRemote) count() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var (
	technician = domain.User{ID: "tech-1", Role: domain.RoleTechnician, Active: true}
	rival      = domain.User{ID: "tech-2", Role: domain.RoleTechnician, Active: true}
	requester  = domain.User{ID: "req-1", Role: domain.RoleRequester, Active: true}
	admin      = domain.User{ID: "admin-1", Role: domain.RoleAdministrator, Active: true}
)

func openTicket() domain.Ticket {
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return domain.Ticket{
		ID: "t1", Number: "#2026001", Title: "No network", Priority: domain.TicketPriorityHigh,
		Status: domain.TicketStatusOpen, RequesterID: requester.ID, Version: 1,
		CreatedAt: created, UpdatedAt: created,
	}
}

type harness struct {
	engine  *Engine
	ledger  *memLedger
	remote  *fakeRemote
	conn    *connectivity.Manager
	mu      sync.Mutex
	notices []Notice
}

func newHarness(t *testing.T, remote *fakeRemote) *harness {
	t.Helper()
	h := &harness{ledger: newMemLedger(openTicket()), remote: remote}
	opts := connectivity.Options{}
	if remote != nil {
		opts.Prober = remote
	}
	h.conn = connectivity.NewManager(opts)
	h.conn.Initialize(context.Background())

	deps := Dependencies{
		Ledger:       h.ledger,
		Connectivity: h.conn,
		WriteTimeout: 50 * time.Millisecond,
		OnChange: func(n Notice) {
			h.mu.Lock()
			h.notices = append(h.notices, n)
			h.mu.Unlock()
		},
	}
	if remote != nil {
		deps.Remote = remote
	}
	h.engine = New(deps)
	return h
}

func (h *harness) noticeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.notices)
}

func claim(by domain.User, seen int64) Operation {
	return Operation{
		Kind:        OpChange,
		Actor:       by,
		TicketID:    "t1",
		Change:      domain.TicketChange{Kind: domain.ChangeClaim, TechnicianID: by.ID},
		SeenVersion: seen,
	}
}

func TestLocalModeAppliesWithoutRemote(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.engine.Mutate(context.Background(), claim(technician, 1))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if res.Confirmed || res.Warning != nil || res.Ticket.Status != domain.TicketStatusInProgress {
		t.Fatalf("unexpected local result: %+v", res)
	}
	if h.noticeCount() != 1 {
		t.Fatalf("expected one notice, got %d", h.noticeCount())
	}
}

func TestInvalidOperationNeverReachesRemote(t *testing.T) {
	remote := &fakeRemote{}
	h := newHarness(t, remote)
	_, err := h.engine.Mutate(context.Background(), Operation{
		Kind:     OpChange,
		Actor:    technician,
		TicketID: "t1",
		Change:   domain.TicketChange{Kind: domain.ChangeRate, Satisfaction: 5},
	})
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if remote.callCount() != 0 || h.noticeCount() != 0 {
		t.Fatalf("rejected operation touched remote or store")
	}
}

func TestRemoteConfirm(t *testing.T) {
	remote := &fakeRemote{}
	remote.patchFn = func(_ context.Context, id string, _ domain.TicketChange) (domain.Ticket, error) {
		tk := openTicket()
		tk.Status = domain.TicketStatusInProgress
		tk.AssignedTechnicianID = &technician.ID
		tk.Version = 2
		return tk, nil
	}
	h := newHarness(t, remote)
	res, err := h.engine.Mutate(context.Background(), claim(technician, 1))
	if err != nil || !res.Confirmed {
		t.Fatalf("expected confirmed result, got %+v %v", res, err)
	}
	if h.conn.CurrentMode().Mode != domain.ModeRemote {
		t.Fatalf("confirm must keep REMOTE mode")
	}
}

func TestRemoteTimeoutKeepsChangeAndFallsBack(t *testing.T) {
	remote := &fakeRemote{}
	remote.patchFn = func(ctx context.Context, _ string, _ domain.TicketChange) (domain.Ticket, error) {
		<-ctx.Done()
		return domain.Ticket{}, ctx.Err()
	}
	h := newHarness(t, remote)
	res, err := h.engine.Mutate(context.Background(), claim(technician, 1))
	if err != nil {
		t.Fatalf("timeouts must not fail the mutation: %v", err)
	}
	if !apperrors.HasCode(res.Warning, apperrors.CodeConnectivity) {
		t.Fatalf("expected connectivity warning, got %v", res.Warning)
	}
	if h.conn.CurrentMode().Mode != domain.ModeLocalFallback {
		t.Fatalf("expected LOCAL_FALLBACK, got %s", h.conn.CurrentMode().Mode)
	}
	stored, _ := h.ledger.Ticket("t1")
	if stored.Status != domain.TicketStatusInProgress || !stored.AssignedTo(technician.ID) {
		t.Fatalf("optimistic change lost: %+v", stored)
	}

	// Subsequent mutations stay local.
	calls := remote.callCount()
	if _, err := h.engine.Mutate(context.Background(), Operation{
		Kind: OpChange, Actor: technician, TicketID: "t1",
		Change: domain.TicketChange{Kind: domain.ChangeAdvance, Status: domain.TicketStatusPending},
	}); err != nil {
		t.Fatalf("local mutate: %v", err)
	}
	if remote.callCount() != calls {
		t.Fatalf("LOCAL_FALLBACK must not call the remote backend")
	}
}

func TestRemoteRejectionRollsBack(t *testing.T) {
	remote := &fakeRemote{}
	remote.patchFn = func(context.Context, string, domain.TicketChange) (domain.Ticket, error) {
		return domain.Ticket{}, statusErr(http.StatusBadRequest)
	}
	h := newHarness(t, remote)
	before, _ := h.ledger.Ticket("t1")

	_, err := h.engine.Mutate(context.Background(), claim(technician, 1))
	if !apperrors.HasCode(err, apperrors.CodeRemoteRejected) {
		t.Fatalf("expected REMOTE_REJECTED, got %v", err)
	}
	after, _ := h.ledger.Ticket("t1")
	if after.Version != before.Version || !after.Unassigned() || after.Status != domain.TicketStatusOpen {
		t.Fatalf("ticket not restored: %+v", after)
	}
	if h.noticeCount() != 2 || !h.notices[1].RolledBack {
		t.Fatalf("expected apply and rollback notices, got %+v", h.notices)
	}
	if h.conn.CurrentMode().Mode != domain.ModeRemote {
		t.Fatalf("rejections must not change mode")
	}
}

func TestAbandonedWaitStillSettles(t *testing.T) {
	release := make(chan struct{})
	remote := &fakeRemote{}
	remote.patchFn = func(context.Context, string, domain.TicketChange) (domain.Ticket, error) {
		<-release
		return domain.Ticket{}, statusErr(http.StatusForbidden)
	}
	h := newHarness(t, remote)
	h.engine.writeTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res, err := h.engine.Mutate(ctx, claim(technician, 1))
	if !errors.Is(err, context.Canceled) || res.Ticket.Status != domain.TicketStatusInProgress {
		t.Fatalf("expected optimistic result with context error, got %+v %v", res, err)
	}

	close(release)
	h.engine.Wait()
	after, _ := h.ledger.Ticket("t1")
	if after.Status != domain.TicketStatusOpen {
		t.Fatalf("rollback must run after the caller stopped waiting, got %s", after.Status)
	}
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	h := newHarness(t, nil)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, who := range []domain.User{technician, rival} {
		wg.Add(1)
		go func(i int, who domain.User) {
			defer wg.Done()
			_, errs[i] = h.engine.Mutate(context.Background(), claim(who, 1))
		}(i, who)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case apperrors.HasCode(err, apperrors.CodeConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected one winner and one conflict, got %d/%d", wins, conflicts)
	}
	final, _ := h.ledger.Ticket("t1")
	if final.AssignedTechnicianID == nil || final.Version != 2 {
		t.Fatalf("unexpected final ticket: %+v", final)
	}
}

func TestMessageAppendAndRead(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.engine.Mutate(context.Background(), Operation{
		Kind:     OpMessage,
		Actor:    requester,
		TicketID: "t1",
		Message:  domain.Message{Body: "  still broken  ", Kind: domain.MessageKindComment},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if res.Message == nil || res.Message.Body != "still broken" || res.Message.AuthorID != requester.ID {
		t.Fatalf("unexpected message: %+v", res.Message)
	}
	msgs, err := h.engine.ReadMessages(context.Background(), "t1")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected one message, got %v %v", msgs, err)
	}
	if res.Ticket.Version != 2 {
		t.Fatalf("appending a message must bump the ticket version")
	}
}

func TestReadFiltersLocally(t *testing.T) {
	h := newHarness(t, nil)
	got, err := h.engine.Read(context.Background(), domain.TicketFilter{Statuses: []domain.TicketStatus{domain.TicketStatusPending}})
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no pending tickets, got %v %v", got, err)
	}
	got, _ = h.engine.Read(context.Background(), domain.TicketFilter{SearchTerm: "network"})
	if len(got) != 1 {
		t.Fatalf("expected search hit, got %d", len(got))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{context.DeadlineExceeded, apperrors.CodeConnectivity},
		{statusErr(http.StatusBadGateway), apperrors.CodeConnectivity},
		{statusErr(http.StatusTooManyRequests), apperrors.CodeConnectivity},
		{statusErr(http.StatusRequestTimeout), apperrors.CodeConnectivity},
		{statusErr(http.StatusBadRequest), apperrors.CodeRemoteRejected},
		{statusErr(http.StatusConflict), apperrors.CodeRemoteRejected},
		{fmt.Errorf("wrapped: %w", statusErr(http.StatusForbidden)), apperrors.CodeRemoteRejected},
		{errors.New("connection reset by peer"), apperrors.CodeConnectivity},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); !apperrors.HasCode(got, tc.code) {
			t.Fatalf("%v: expected %s, got %v", tc.err, tc.code, got)
		}
	}
}

func (h *harness) lastNotice() Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.notices[len(h.notices)-1]
}

func waitForStatus(t *testing.T, l *memLedger, status domain.TicketStatus) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tk, _ := l.Ticket("t1"); tk.Status == status {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("ticket never reached %s", status)
}

func TestRejectionReplaysLaterChanges(t *testing.T) {
	notes := "swapped the patch cable"
	tests := []struct {
		name         string
		later        Operation
		wantVersion  int64
		wantPriority domain.TicketPriority
		wantMessages int
	}{
		{
			name: "work that needed the claim is dropped",
			later: Operation{Kind: OpChange, Actor: technician, TicketID: "t1",
				Change: domain.TicketChange{Kind: domain.ChangeRecordWork, Notes: &notes}},
			wantVersion:  1,
			wantPriority: domain.TicketPriorityHigh,
		},
		{
			name: "note that needed the claim is dropped",
			later: Operation{Kind: OpMessage, Actor: technician, TicketID: "t1",
				Message: domain.Message{Body: "on my way", Kind: domain.MessageKindNote}},
			wantVersion:  1,
			wantPriority: domain.TicketPriorityHigh,
		},
		{
			name: "priority change survives",
			later: Operation{Kind: OpChange, Actor: admin, TicketID: "t1",
				Change: domain.TicketChange{Kind: domain.ChangeSetPriority, Priority: domain.TicketPriorityLow}},
			wantVersion:  2,
			wantPriority: domain.TicketPriorityLow,
		},
		{
			name: "requester comment survives",
			later: Operation{Kind: OpMessage, Actor: requester, TicketID: "t1",
				Message: domain.Message{Body: "still down", Kind: domain.MessageKindComment}},
			wantVersion:  2,
			wantPriority: domain.TicketPriorityHigh,
			wantMessages: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			release := make(chan struct{})
			remote := &fakeRemote{}
			remote.patchFn = func(_ context.Context, _ string, change domain.TicketChange) (domain.Ticket, error) {
				if change.Kind == domain.ChangeClaim {
					<-release
					return domain.Ticket{}, statusErr(http.StatusBadRequest)
				}
				return domain.Ticket{}, nil
			}
			h := newHarness(t, remote)
			h.engine.writeTimeout = time.Second

			claimErr := make(chan error, 1)
			go func() {
				_, err := h.engine.Mutate(context.Background(), claim(technician, 1))
				claimErr <- err
			}()
			waitForStatus(t, h.ledger, domain.TicketStatusInProgress)

			if _, err := h.engine.Mutate(context.Background(), tt.later); err != nil {
				t.Fatalf("later change: %v", err)
			}
			close(release)
			if err := <-claimErr; !apperrors.HasCode(err, apperrors.CodeRemoteRejected) {
				t.Fatalf("expected REMOTE_REJECTED, got %v", err)
			}
			h.engine.Wait()

			final, _ := h.ledger.Ticket("t1")
			if final.Status != domain.TicketStatusOpen || !final.Unassigned() {
				t.Fatalf("rejected claim still applied: %+v", final)
			}
			if final.Version != tt.wantVersion || final.Priority != tt.wantPriority {
				t.Fatalf("got version %d priority %s, want %d %s", final.Version, final.Priority, tt.wantVersion, tt.wantPriority)
			}
			if got := len(h.ledger.Messages("t1")); got != tt.wantMessages {
				t.Fatalf("expected %d messages, got %d", tt.wantMessages, got)
			}
			last := h.lastNotice()
			if !last.RolledBack || last.Ticket.Version != final.Version {
				t.Fatalf("expected rollback notice carrying the replayed ticket, got %+v", last)
			}
			if len(h.engine.chains) != 0 {
				t.Fatalf("settled writes left tracked: %v", h.engine.chains)
			}
		})
	}
}

func TestClaimOutcomes(t *testing.T) {
	tests := []struct {
		name string
		by   domain.User
		seen int64
		want string
	}{
		{"stale technician", technician, 1, apperrors.CodeConflict},
		{"technician without version", technician, 0, apperrors.CodeConflict},
		{"requester with stale version", requester, 1, apperrors.CodeForbidden},
		{"requester without version", requester, 0, apperrors.CodeForbidden},
		{"owner claims again", rival, 0, apperrors.CodeForbidden},
		{"admin without version", admin, 0, apperrors.CodeInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if _, err := h.engine.Mutate(context.Background(), claim(rival, 1)); err != nil {
				t.Fatalf("first claim: %v", err)
			}
			_, err := h.engine.Mutate(context.Background(), claim(tt.by, tt.seen))
			if !apperrors.HasCode(err, tt.want) {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
		})
	}
}

func TestConcurrentClaimWithoutVersionHasOneWinner(t *testing.T) {
	for round := 0; round < 50; round++ {
		h := newHarness(t, nil)
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, who := range []domain.User{technician, rival} {
			wg.Add(1)
			go func(i int, who domain.User) {
				defer wg.Done()
				_, errs[i] = h.engine.Mutate(context.Background(), claim(who, 0))
			}(i, who)
		}
		wg.Wait()

		wins, conflicts := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case apperrors.HasCode(err, apperrors.CodeConflict):
				conflicts++
			default:
				t.Fatalf("round %d: unexpected error: %v", round, err)
			}
		}
		if wins != 1 || conflicts != 1 {
			t.Fatalf("round %d: expected one winner and one conflict, got %d/%d", round, wins, conflicts)
		}
	}
}

func TestConfirmNotifiesWhenRemoteDiffers(t *testing.T) {
	tests := []struct {
		name   string
		remote func(local domain.Ticket) domain.Ticket
		want   bool
	}{
		{"remote bumps version", func(local domain.Ticket) domain.Ticket {
			local.Version += 3
			return local
		}, true},
		{"remote echoes", func(local domain.Ticket) domain.Ticket { return local }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeRemote{})
			h.remote.patchFn = func(_ context.Context, _ string, _ domain.TicketChange) (domain.Ticket, error) {
				local, _ := h.ledger.Ticket("t1")
				return tt.remote(local), nil
			}
			if _, err := h.engine.Mutate(context.Background(), claim(technician, 1)); err != nil {
				t.Fatalf("mutate: %v", err)
			}
			last := h.lastNotice()
			if last.Confirmed != tt.want {
				t.Fatalf("confirmed notice = %v, want %v", last.Confirmed, tt.want)
			}
			if tt.want {
				stored, _ := h.ledger.Ticket("t1")
				if last.Ticket.Version != stored.Version || last.Previous == nil || last.Previous.Version != 2 {
					t.Fatalf("confirm notice does not describe the replacement: %+v", last)
				}
			}
		})
	}
}
