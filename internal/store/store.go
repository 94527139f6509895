// Package store hosts the process-wide ticket collection. Every mutation goes
// through the sync engine; reads are scoped by the access policy.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/connectivity"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/metrics"
	"github.com/spec-kit/helpdesk/internal/policy"
	"github.com/spec-kit/helpdesk/internal/seed"
	"github.com/spec-kit/helpdesk/internal/sequence"
	"github.com/spec-kit/helpdesk/internal/syncengine"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// ErrClosed is returned by mutations after Close.
var ErrClosed = errors.New("ticket store closed")

// Dependencies wires a Store. Zero fields get defaults; a nil Remote keeps the
// store in local fallback mode.
type Dependencies struct {
	Remote           syncengine.Remote
	Sequence         sequence.Allocator
	Dispatcher       events.Dispatcher
	Recorder         syncengine.Recorder
	Logger           *zap.Logger
	HealthTimeout    time.Duration
	InitTimeout      time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	Location         *time.Location
	SeedPasswordCost int
	Now              func() time.Time
}

// Snapshot is what the presentation layer renders: the caller's visible tickets,
// metrics over exactly those tickets and the current connectivity state.
type Snapshot struct {
	Tickets      []domain.Ticket
	Metrics      domain.Metrics
	Connectivity domain.ConnectivityState
}

// Result is a mutation outcome scoped to the caller.
type Result = syncengine.Result

// TicketFields are the requester-supplied fields of a new ticket.
type TicketFields struct {
	Title       string                `validate:"required,max=500"`
	Description string                `validate:"max=10000"`
	Category    string                `validate:"max=100"`
	Priority    domain.TicketPriority `validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
}

// AdvanceInput carries the optional fields of a status change.
type AdvanceInput struct {
	Solution         *string
	TimeSpentMinutes *int
}

// WorkInput carries a work log update.
type WorkInput struct {
	Solution         *string
	TimeSpentMinutes *int
	Notes            *string
}

// Store is the single owner of users, tickets, messages and the session user.
type Store struct {
	ledger     *ledger
	engine     *syncengine.Engine
	conn       *connectivity.Manager
	seq        sequence.Allocator
	dispatcher events.Dispatcher
	logger     *zap.Logger
	validate   *validator.Validate
	loc        *time.Location
	now        func() time.Time
	seedCost   int

	usersMu   sync.RWMutex
	users     map[string]domain.User
	userOrder []string
	session   string

	subsMu  sync.Mutex
	subs    map[int]*subscriber
	nextSub int
	closed  bool
}

type subscriber struct {
	role   domain.Role
	userID string
	ch     chan Snapshot
}

// New builds a Store. Call Start before use and Close when done.
func New(deps Dependencies) *Store {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Sequence == nil {
		deps.Sequence = sequence.NewLocal(0)
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = events.NewInMemoryDispatcher()
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Store{
		ledger:     newLedger(),
		seq:        deps.Sequence,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		loc:        deps.Location,
		now:        deps.Now,
		seedCost:   deps.SeedPasswordCost,
		users:      make(map[string]domain.User),
		subs:       make(map[int]*subscriber),
	}

	opts := connectivity.Options{
		HealthTimeout: deps.HealthTimeout,
		InitTimeout:   deps.InitTimeout,
		Logger:        deps.Logger,
		Now:           deps.Now,
	}
	if deps.Remote != nil {
		opts.Prober = deps.Remote
	}
	s.conn = connectivity.NewManager(opts)
	s.conn.OnChange(s.onConnectivityChange)

	s.engine = syncengine.New(syncengine.Dependencies{
		Ledger:       s.ledger,
		Remote:       deps.Remote,
		Connectivity: s.conn,
		Logger:       deps.Logger,
		Recorder:     deps.Recorder,
		WriteTimeout: deps.WriteTimeout,
		ReadTimeout:  deps.ReadTimeout,
		Now:          deps.Now,
		OnChange:     s.onNotice,
	})
	return s
}

// Start resolves the connectivity mode and loads the initial dataset: from the
// remote backend in REMOTE mode, from the seed otherwise. Seed users are always
// loaded so local login works in either mode.
func (s *Store) Start(ctx context.Context) error {
	ds, err := seed.Load(s.seedCost)
	if err != nil {
		return fmt.Errorf("load seed dataset: %w", err)
	}
	s.putUsers(ds.Users)

	state := s.conn.Initialize(ctx)
	if state.Mode == domain.ModeRemote {
		if err := s.Refresh(ctx); err != nil {
			return fmt.Errorf("initial load: %w", err)
		}
		if s.conn.Remote() {
			s.logger.Info("ticket store started", zap.String("mode", string(domain.ModeRemote)))
			return nil
		}
	}

	s.ledger.load(ds.Tickets, ds.Messages)
	s.observeNumbers(ds.Tickets)
	s.logger.Info("ticket store started",
		zap.String("mode", string(s.conn.CurrentMode().Mode)),
		zap.Int("tickets", len(ds.Tickets)))
	s.broadcast()
	return nil
}

// Close waits for in-flight remote writes and closes every subscription.
func (s *Store) Close() {
	s.subsMu.Lock()
	if s.closed {
		s.subsMu.Unlock()
		return
	}
	s.closed = true
	s.subsMu.Unlock()

	s.engine.Wait()

	s.subsMu.Lock()
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
	s.subsMu.Unlock()
}

func (s *Store) isClosed() bool {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return s.closed
}

// Refresh reloads users and tickets from the remote backend when it is the
// active source. It is a no-op in local fallback mode.
func (s *Store) Refresh(ctx context.Context) error {
	ds, ok, err := s.engine.Refresh(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	s.mergeUsers(ds.Users)
	s.observeNumbers(ds.Tickets)
	s.broadcast()
	return nil
}

// Recheck probes the remote backend on request and reloads from it when REMOTE.
func (s *Store) Recheck(ctx context.Context) (domain.ConnectivityState, error) {
	state := s.conn.Recheck(ctx)
	if state.Mode == domain.ModeRemote {
		if err := s.Refresh(ctx); err != nil {
			return s.conn.CurrentMode(), err
		}
	}
	return s.conn.CurrentMode(), nil
}

// Connectivity returns the current mode.
func (s *Store) Connectivity() domain.ConnectivityState {
	return s.conn.CurrentMode()
}

// HealthCheck runs a bounded probe without changing the mode.
func (s *Store) HealthCheck(ctx context.Context, timeout time.Duration) connectivity.HealthResult {
	return s.conn.HealthCheck(ctx, timeout)
}

func (s *Store) observeNumbers(tickets []domain.Ticket) {
	for _, t := range tickets {
		if _, seq, ok := domain.ParseTicketNumber(t.Number); ok {
			s.seq.Observe(seq)
		}
	}
}

// CreateTicket opens a ticket on behalf of requesterID.
func (s *Store) CreateTicket(ctx context.Context, requesterID string, fields TicketFields) (Result, error) {
	if s.isClosed() {
		return Result{}, ErrClosed
	}
	fields.Title = strings.TrimSpace(fields.Title)
	fields.Description = strings.TrimSpace(fields.Description)
	fields.Category = strings.TrimSpace(fields.Category)
	if err := s.validate.Struct(fields); err != nil {
		return Result{}, validationError(err)
	}
	actor, err := s.actor(requesterID)
	if err != nil {
		return Result{}, err
	}
	if !policy.CanCreate(actor.Role) {
		return Result{}, apperrors.NewForbidden("role may not open tickets")
	}
	if fields.Priority == "" {
		fields.Priority = domain.TicketPriorityMedium
	}

	seq, err := s.seq.Next(ctx)
	if err != nil {
		return Result{}, apperrors.NewInternalError(err)
	}
	now := s.now()
	ticket := domain.Ticket{
		ID:          uuid.NewString(),
		Number:      domain.FormatTicketNumber(now.In(s.loc).Year(), seq),
		Title:       fields.Title,
		Description: fields.Description,
		Category:    fields.Category,
		Priority:    fields.Priority,
		Status:      domain.TicketStatusOpen,
		RequesterID: actor.ID,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	res, err := s.engine.Mutate(ctx, syncengine.Operation{Kind: syncengine.OpCreate, Actor: actor, Ticket: ticket})
	return s.scope(actor, res), err
}

// ClaimTicket assigns an open, unassigned ticket to technicianID. seenVersion is
// the ticket version the caller looked at; zero means none was observed.
func (s *Store) ClaimTicket(ctx context.Context, technicianID, ticketID string, seenVersion int64) (Result, error) {
	return s.change(ctx, technicianID, ticketID, seenVersion, domain.TicketChange{
		Kind:         domain.ChangeClaim,
		TechnicianID: technicianID,
	})
}

// ReassignTicket hands a ticket to another technician.
func (s *Store) ReassignTicket(ctx context.Context, actorID, ticketID, technicianID string) (Result, error) {
	target, ok := s.LookupUser(technicianID)
	if !ok || !target.Active || target.Role != domain.RoleTechnician {
		return Result{}, apperrors.NewValidationError("assignee must be an active technician", map[string]any{"technician_id": technicianID})
	}
	return s.change(ctx, actorID, ticketID, 0, domain.TicketChange{
		Kind:         domain.ChangeReassign,
		TechnicianID: technicianID,
	})
}

// AdvanceStatus moves a ticket along one status edge.
func (s *Store) AdvanceStatus(ctx context.Context, actorID, ticketID string, to domain.TicketStatus, in AdvanceInput) (Result, error) {
	return s.change(ctx, actorID, ticketID, 0, domain.TicketChange{
		Kind:             domain.ChangeAdvance,
		Status:           to,
		Solution:         in.Solution,
		TimeSpentMinutes: in.TimeSpentMinutes,
	})
}

// RecordWork updates the solution, time spent and notes of a ticket.
func (s *Store) RecordWork(ctx context.Context, actorID, ticketID string, in WorkInput) (Result, error) {
	return s.change(ctx, actorID, ticketID, 0, domain.TicketChange{
		Kind:             domain.ChangeRecordWork,
		Solution:         in.Solution,
		TimeSpentMinutes: in.TimeSpentMinutes,
		Notes:            in.Notes,
	})
}

// SetPriority changes a ticket's priority.
func (s *Store) SetPriority(ctx context.Context, actorID, ticketID string, priority domain.TicketPriority) (Result, error) {
	return s.change(ctx, actorID, ticketID, 0, domain.TicketChange{
		Kind:     domain.ChangeSetPriority,
		Priority: priority,
	})
}

// RateTicket records the requester's satisfaction with a resolved ticket.
func (s *Store) RateTicket(ctx context.Context, requesterID, ticketID string, score int) (Result, error) {
	return s.change(ctx, requesterID, ticketID, 0, domain.TicketChange{
		Kind:         domain.ChangeRate,
		Satisfaction: score,
	})
}

// AppendMessage adds a message to a ticket's thread.
func (s *Store) AppendMessage(ctx context.Context, authorID, ticketID, body string, kind domain.MessageKind) (Result, error) {
	if s.isClosed() {
		return Result{}, ErrClosed
	}
	actor, err := s.actor(authorID)
	if err != nil {
		return Result{}, err
	}
	if kind == "" {
		kind = domain.MessageKindComment
	}
	res, err := s.engine.Mutate(ctx, syncengine.Operation{
		Kind:     syncengine.OpMessage,
		Actor:    actor,
		TicketID: ticketID,
		Message:  domain.Message{Body: body, Kind: kind},
	})
	return s.scope(actor, res), err
}

func (s *Store) change(ctx context.Context, actorID, ticketID string, seenVersion int64, change domain.TicketChange) (Result, error) {
	if s.isClosed() {
		return Result{}, ErrClosed
	}
	actor, err := s.actor(actorID)
	if err != nil {
		return Result{}, err
	}
	res, err := s.engine.Mutate(ctx, syncengine.Operation{
		Kind:        syncengine.OpChange,
		Actor:       actor,
		TicketID:    ticketID,
		Change:      change,
		SeenVersion: seenVersion,
	})
	return s.scope(actor, res), err
}

// scope hides a result the caller is no longer entitled to see.
func (s *Store) scope(actor domain.User, res Result) Result {
	if res.Ticket.ID == "" || policy.CanView(actor.Role, actor.ID, res.Ticket) {
		return res
	}
	return Result{Ticket: domain.Ticket{ID: res.Ticket.ID}, Warning: res.Warning, Confirmed: res.Confirmed}
}

// Snapshot returns the tickets the caller may see, newest first, with metrics
// computed over exactly that set.
func (s *Store) Snapshot(role domain.Role, userID string) Snapshot {
	visible := policy.VisibleTickets(role, userID, s.ledger.Tickets())
	sortNewestFirst(visible)
	return Snapshot{
		Tickets:      visible,
		Metrics:      metrics.Compute(visible, s.now(), s.loc),
		Connectivity: s.conn.CurrentMode(),
	}
}

// Tickets runs a filtered read through the sync engine and scopes the result.
func (s *Store) Tickets(ctx context.Context, role domain.Role, userID string, filter domain.TicketFilter) ([]domain.Ticket, error) {
	tickets, err := s.engine.Read(s.onBehalfOf(ctx, userID), filter)
	if err != nil {
		return nil, err
	}
	visible := policy.VisibleTickets(role, userID, tickets)
	sortNewestFirst(visible)
	return visible, nil
}

// Messages returns a ticket's thread as the caller may see it.
func (s *Store) Messages(ctx context.Context, role domain.Role, userID, ticketID string) ([]domain.Message, error) {
	ticket, ok := s.ledger.Ticket(ticketID)
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	if !policy.CanView(role, userID, ticket) {
		return nil, apperrors.NewForbidden("ticket not visible")
	}
	msgs, err := s.engine.ReadMessages(s.onBehalfOf(ctx, userID), ticketID)
	if err != nil {
		return nil, err
	}
	return policy.VisibleMessages(role, msgs), nil
}

func (s *Store) onBehalfOf(ctx context.Context, userID string) context.Context {
	if user, ok := s.LookupUser(userID); ok {
		return syncengine.WithActor(ctx, user)
	}
	return ctx
}

// Subscribe returns a channel receiving the caller's snapshot after every
// change. The channel holds only the latest snapshot; slow readers skip
// intermediate ones. cancel releases the subscription.
func (s *Store) Subscribe(role domain.Role, userID string) (<-chan Snapshot, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	ch := make(chan Snapshot, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscriber{role: role, userID: userID, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if sub, ok := s.subs[id]; ok {
				close(sub.ch)
				delete(s.subs, id)
			}
		})
	}
}

func (s *Store) broadcast() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		snap := s.Snapshot(sub.role, sub.userID)
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- snap:
		default:
		}
	}
}

func (s *Store) onNotice(n syncengine.Notice) {
	if n.Confirmed {
		s.broadcast()
		return
	}
	s.publish(noticeEvent(n, s.now()))
	s.broadcast()
}

func (s *Store) onConnectivityChange(prev, next domain.ConnectivityState) {
	s.publish(events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventConnectivityChanged,
		Timestamp: next.LastCheckAt,
		Payload: events.ConnectivityChangedPayload{
			From:      prev.Mode,
			To:        next.Mode,
			LastError: next.LastError,
		},
	})
	s.broadcast()
}

func (s *Store) publish(event events.Event) {
	if err := s.dispatcher.Publish(context.Background(), event); err != nil {
		s.logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func sortNewestFirst(tickets []domain.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		if !tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
		}
		return tickets[i].Number > tickets[j].Number
	})
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			details[strings.ToLower(fe.Field())] = fe.Tag()
		}
		return apperrors.NewValidationError("invalid input", details)
	}
	return apperrors.NewValidationError(err.Error(), nil)
}
