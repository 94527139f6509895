// Package syncengine applies ticket operations optimistically to the in-memory
// ledger and persists them to the remote backend when it is the active source.
package syncengine

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/connectivity"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/lifecycle"
	"github.com/spec-kit/helpdesk/internal/policy"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultReadTimeout  = 10 * time.Second
)

// Remote is the backend collaborator.
type Remote interface {
	Health(ctx context.Context) (domain.HealthReport, error)
	ListTickets(ctx context.Context, filter domain.TicketFilter) ([]domain.Ticket, error)
	CreateTicket(ctx context.Context, ticket domain.Ticket) (domain.Ticket, error)
	PatchTicket(ctx context.Context, id string, change domain.TicketChange) (domain.Ticket, error)
	AddMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	ListMessages(ctx context.Context, ticketID string) ([]domain.Message, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// Ledger is the in-memory ticket and message collection the engine writes to.
type Ledger interface {
	Ticket(id string) (domain.Ticket, bool)
	Tickets() []domain.Ticket
	InsertTicket(t domain.Ticket) error
	PutTicket(t domain.Ticket)
	DeleteTicket(id string)
	ReplaceTickets(tickets []domain.Ticket, keep func(id string) bool)
	Messages(ticketID string) []domain.Message
	AppendMessage(msg domain.Message)
	RemoveMessage(ticketID, messageID string)
	ReplaceMessages(ticketID string, msgs []domain.Message)
}

// Recorder counts sync outcomes.
type Recorder interface {
	ObserveSync(op, outcome string)
}

// Outcomes passed to Recorder.
const (
	OutcomeLocal      = "local"
	OutcomeConfirmed  = "confirmed"
	OutcomeKeptLocal  = "kept_local"
	OutcomeRolledBack = "rolled_back"
	OutcomeAbandoned  = "abandoned"
)

// OpKind selects what an Operation does.
type OpKind string

const (
	OpCreate  OpKind = "create"
	OpChange  OpKind = "change"
	OpMessage OpKind = "message"
)

// Operation describes one mutation request.
type Operation struct {
	Kind     OpKind
	Actor    domain.User
	TicketID string
	Change   domain.TicketChange
	Ticket   domain.Ticket
	Message  domain.Message
	// SeenVersion is the ticket version the caller acted on. Zero means the
	// caller did not say; a claim then reports CONFLICT when another technician
	// holds the ticket.
	SeenVersion int64
}

func (op Operation) name() string {
	switch op.Kind {
	case OpChange:
		return string(op.Change.Kind)
	case OpMessage:
		return string(domain.ChangeAppendMessage)
	}
	return string(op.Kind)
}

// Result is the engine's answer to an Operation.
type Result struct {
	Ticket  domain.Ticket
	Message *domain.Message
	// Warning is set when the remote write failed transiently and the change was
	// kept locally.
	Warning   error
	Confirmed bool
}

// Notice is emitted after every local apply, every rollback and every remote
// confirmation that changed the stored ticket.
type Notice struct {
	Op         Operation
	Ticket     domain.Ticket
	Previous   *domain.Ticket
	Message    *domain.Message
	RolledBack bool
	Confirmed  bool
}

// Dependencies wires an Engine.
type Dependencies struct {
	Ledger       Ledger
	Remote       Remote
	Connectivity *connectivity.Manager
	Logger       *zap.Logger
	Recorder     Recorder
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	Now          func() time.Time
	OnChange     func(Notice)
}

// Engine serializes local applies and runs remote writes in the background.
type Engine struct {
	ledger       Ledger
	remote       Remote
	conn         *connectivity.Manager
	logger       *zap.Logger
	recorder     Recorder
	writeTimeout time.Duration
	readTimeout  time.Duration
	now          func() time.Time
	onChange     func(Notice)

	mu      sync.Mutex
	pending map[string]int
	// chains holds, per ticket, every change applied since the oldest write
	// still in flight, in apply order. A rejection replays the ones after it.
	chains map[string][]*applied
	writes sync.WaitGroup
}

// New builds an Engine.
func New(deps Dependencies) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.WriteTimeout <= 0 {
		deps.WriteTimeout = DefaultWriteTimeout
	}
	if deps.ReadTimeout <= 0 {
		deps.ReadTimeout = DefaultReadTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Connectivity == nil {
		deps.Connectivity = connectivity.NewManager(connectivity.Options{Logger: deps.Logger})
	}
	return &Engine{
		ledger:       deps.Ledger,
		remote:       deps.Remote,
		conn:         deps.Connectivity,
		logger:       deps.Logger,
		recorder:     deps.Recorder,
		writeTimeout: deps.WriteTimeout,
		readTimeout:  deps.ReadTimeout,
		now:          deps.Now,
		onChange:     deps.OnChange,
		pending:      make(map[string]int),
		chains:       make(map[string][]*applied),
	}
}

type applied struct {
	op       Operation
	ticket   domain.Ticket
	previous *domain.Ticket
	message  *domain.Message
	// settled is set once the remote write finished or when none was made.
	settled bool
	// dropped is set when a rejected earlier change made this one invalid.
	dropped bool
}

type outcome struct {
	result Result
	err    error
}

// Mutate validates op, applies it locally and, in REMOTE mode, persists it.
// If ctx ends before the remote write settles, Mutate returns the optimistic
// result with ctx.Err(); the write and its confirm or rollback still complete.
func (e *Engine) Mutate(ctx context.Context, op Operation) (Result, error) {
	e.mu.Lock()
	a, err := e.apply(op)
	if err != nil {
		e.mu.Unlock()
		return Result{}, err
	}
	e.notify(Notice{Op: op, Ticket: a.ticket, Previous: a.previous, Message: a.message})

	optimistic := Result{Ticket: a.ticket, Message: a.message}
	if e.remote == nil || !e.conn.Remote() {
		a.settled = true
		e.track(a)
		e.mu.Unlock()
		e.record(op, OutcomeLocal)
		return optimistic, nil
	}
	e.track(a)
	e.pending[a.ticket.ID]++
	e.writes.Add(1)
	e.mu.Unlock()

	done := make(chan outcome, 1)
	go func() {
		defer e.writes.Done()
		res, err := e.persist(context.WithoutCancel(ctx), a)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		e.record(op, OutcomeAbandoned)
		return optimistic, ctx.Err()
	}
}

// Wait blocks until every in-flight remote write has settled.
func (e *Engine) Wait() {
	e.writes.Wait()
}

func (e *Engine) apply(op Operation) (*applied, error) {
	now := e.now()
	switch op.Kind {
	case OpCreate:
		t := op.Ticket
		if !policy.CanCreate(op.Actor.Role) {
			return nil, apperrors.NewForbidden("role may not open tickets")
		}
		if t.RequesterID != op.Actor.ID && !policy.Has(op.Actor.Role, policy.CapViewAll) {
			return nil, apperrors.NewForbidden("tickets are opened on the requester's own behalf")
		}
		if t.ID == "" || t.Number == "" {
			return nil, apperrors.NewValidationError("ticket id and number required", nil)
		}
		if t.Status != domain.TicketStatusOpen || !t.Unassigned() {
			return nil, apperrors.NewInvalidTransition("", string(t.Status), string(t.Status))
		}
		if err := t.CheckInvariants(); err != nil {
			return nil, apperrors.NewValidationError(err.Error(), nil)
		}
		if err := e.ledger.InsertTicket(t); err != nil {
			return nil, err
		}
		return &applied{op: op, ticket: t}, nil

	case OpChange:
		current, ok := e.ledger.Ticket(op.TicketID)
		if !ok {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": op.TicketID})
		}
		if op.Change.Kind == domain.ChangeClaim && policy.Has(op.Actor.Role, policy.CapClaim) && claimLost(current, op.Actor, op.SeenVersion) {
			return nil, apperrors.NewConflict("ticket was claimed concurrently", map[string]any{
				"ticket_id":       current.ID,
				"seen_version":    op.SeenVersion,
				"current_version": current.Version,
			})
		}
		next, err := applyChange(op, current, now)
		if err != nil {
			return nil, err
		}
		e.ledger.PutTicket(next)
		return &applied{op: op, ticket: next, previous: &current}, nil

	case OpMessage:
		current, ok := e.ledger.Ticket(op.TicketID)
		if !ok {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": op.TicketID})
		}
		msg := op.Message
		msg.Body = strings.TrimSpace(msg.Body)
		if msg.Body == "" {
			return nil, apperrors.NewValidationError("message body required", nil)
		}
		if !msg.Kind.Valid() {
			return nil, apperrors.NewValidationError("unknown message kind", map[string]any{"kind": msg.Kind})
		}
		op.Message = msg
		next, err := applyMessage(op, current, now)
		if err != nil {
			return nil, err
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		msg.TicketID = current.ID
		msg.AuthorID = op.Actor.ID
		msg.CreatedAt = now

		e.ledger.AppendMessage(msg)
		e.ledger.PutTicket(next)
		op.Message = msg
		return &applied{op: op, ticket: next, previous: &current, message: &msg}, nil
	}
	return nil, apperrors.NewValidationError("unknown operation", map[string]any{"kind": op.Kind})
}

// applyChange authorizes op against current and returns the changed copy.
func applyChange(op Operation, current domain.Ticket, now time.Time) (domain.Ticket, error) {
	if err := policy.Authorize(op.Actor.Role, op.Actor.ID, current, policy.ProposalFor(op.Change)); err != nil {
		return domain.Ticket{}, err
	}
	next := current.Clone()
	if err := lifecycle.Apply(&next, op.Change, policy.CanOverride(op.Actor.Role), now); err != nil {
		return domain.Ticket{}, err
	}
	return next, nil
}

// applyMessage authorizes appending op.Message to current and returns the
// ticket with its version bumped.
func applyMessage(op Operation, current domain.Ticket, now time.Time) (domain.Ticket, error) {
	proposal := policy.Proposal{Kind: domain.ChangeAppendMessage, MessageKind: op.Message.Kind}
	if err := policy.Authorize(op.Actor.Role, op.Actor.ID, current, proposal); err != nil {
		return domain.Ticket{}, err
	}
	if current.Status == domain.TicketStatusClosed {
		return domain.Ticket{}, apperrors.NewInvalidTransition(string(current.Status), string(current.Status)+" (append_message)", string(current.Status))
	}
	next := current.Clone()
	next.Version++
	next.UpdatedAt = now
	return next, nil
}

// claimLost reports a claim that lost a race. With a seen version the ticket
// must have moved past it and no longer be claimable. Without one the ticket
// must be in progress under someone else, and the caller must be a queue
// viewer who never sees such tickets, so its view predates the other claim.
func claimLost(current domain.Ticket, actor domain.User, seen int64) bool {
	if seen != 0 {
		if seen == current.Version {
			return false
		}
		return current.Status != domain.TicketStatusOpen || !current.Unassigned()
	}
	if policy.Has(actor.Role, policy.CapViewAll) {
		return false
	}
	return current.Status == domain.TicketStatusInProgress && !current.Unassigned() && !current.AssignedTo(actor.ID)
}

// track records a in its ticket's chain. Settled changes on a ticket with no
// write in flight need no record.
func (e *Engine) track(a *applied) {
	id := a.ticket.ID
	if a.settled && len(e.chains[id]) == 0 {
		return
	}
	e.chains[id] = append(e.chains[id], a)
}

// compact drops the settled prefix of a ticket's chain.
func (e *Engine) compact(id string) {
	chain := e.chains[id]
	for len(chain) > 0 && chain[0].settled {
		chain = chain[1:]
	}
	if len(chain) == 0 {
		delete(e.chains, id)
		return
	}
	e.chains[id] = chain
}

func (e *Engine) persist(ctx context.Context, a *applied) (Result, error) {
	ctx, cancel := context.WithTimeout(WithActor(ctx, a.op.Actor), e.writeTimeout)
	defer cancel()

	var (
		remoteTicket domain.Ticket
		remoteMsg    domain.Message
		err          error
	)
	switch a.op.Kind {
	case OpCreate:
		remoteTicket, err = e.remote.CreateTicket(ctx, a.ticket)
	case OpChange:
		remoteTicket, err = e.remote.PatchTicket(ctx, a.ticket.ID, a.op.Change)
	case OpMessage:
		remoteMsg, err = e.remote.AddMessage(ctx, *a.message)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending[a.ticket.ID]--; e.pending[a.ticket.ID] <= 0 {
		delete(e.pending, a.ticket.ID)
	}

	result := Result{Ticket: a.ticket, Message: a.message}
	if err == nil {
		a.settled = true
		if remoteTicket.ID != "" && (e.holds(a.ticket) || (a.dropped && len(e.chains[a.ticket.ID]) == 0)) {
			e.ledger.PutTicket(remoteTicket)
			if differs(a.ticket, remoteTicket) {
				optimistic := a.ticket
				e.notify(Notice{Op: a.op, Ticket: remoteTicket, Previous: &optimistic, Confirmed: true})
			}
			result.Ticket = remoteTicket
		}
		if remoteMsg.ID != "" {
			result.Message = &remoteMsg
		}
		e.compact(a.ticket.ID)
		result.Confirmed = true
		e.record(a.op, OutcomeConfirmed)
		return result, nil
	}

	classified := Classify(err)
	if apperrors.HasCode(classified, apperrors.CodeConnectivity) {
		a.settled = true
		e.compact(a.ticket.ID)
		e.logger.Warn("remote write failed, keeping local change",
			zap.String("op", a.op.name()),
			zap.String("ticket_id", a.ticket.ID),
			zap.Error(err))
		e.conn.ReportFailure(err)
		result.Warning = classified
		e.record(a.op, OutcomeKeptLocal)
		return result, nil
	}

	e.logger.Warn("remote rejected change, rolling back",
		zap.String("op", a.op.name()),
		zap.String("ticket_id", a.ticket.ID),
		zap.Error(err))
	if !a.dropped {
		e.rollback(a)
	}
	e.compact(a.ticket.ID)
	e.record(a.op, OutcomeRolledBack)
	return Result{}, classified
}

// differs reports whether the backend's copy of a ticket changed anything a
// snapshot shows.
func differs(local, remote domain.Ticket) bool {
	return local.Version != remote.Version ||
		local.Status != remote.Status ||
		local.Priority != remote.Priority ||
		!local.UpdatedAt.Equal(remote.UpdatedAt) ||
		ptrValue(local.AssignedTechnicianID) != ptrValue(remote.AssignedTechnicianID)
}

func ptrValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// holds reports whether the ledger still carries the optimistic version of t.
func (e *Engine) holds(t domain.Ticket) bool {
	current, ok := e.ledger.Ticket(t.ID)
	return ok && current.Version == t.Version
}

// rollback removes a rejected change from the ledger. The ticket goes back to
// the state before a, and every change applied after a is replayed on top of
// it. A later change that is no longer valid without a is dropped as well.
func (e *Engine) rollback(a *applied) {
	id := a.ticket.ID
	chain := e.chains[id]
	idx := -1
	for i, c := range chain {
		if c == a {
			idx = i
			break
		}
	}
	var later []*applied
	if idx >= 0 {
		later = chain[idx+1:]
	}

	notice := Notice{Op: a.op, Message: a.message, RolledBack: true}
	if a.previous == nil {
		e.ledger.DeleteTicket(id)
		for _, c := range later {
			c.dropped = true
		}
		delete(e.chains, id)
		notice.Ticket = a.ticket
		e.notify(notice)
		return
	}

	optimistic, _ := e.ledger.Ticket(id)
	if a.message != nil {
		e.ledger.RemoveMessage(id, a.message.ID)
	}
	state := *a.previous
	kept := make([]*applied, 0, len(later))
	for _, c := range later {
		next, err := e.replay(c, state)
		if err != nil {
			e.logger.Warn("dropping change that depended on a rejected one",
				zap.String("op", c.op.name()),
				zap.String("ticket_id", id),
				zap.Error(err))
			c.dropped = true
			if c.message != nil {
				e.ledger.RemoveMessage(id, c.message.ID)
			}
			continue
		}
		before := state
		c.previous = &before
		c.ticket = next
		state = next
		kept = append(kept, c)
	}
	if idx >= 0 {
		e.chains[id] = append(append([]*applied{}, chain[:idx]...), kept...)
	}
	e.ledger.PutTicket(state)

	notice.Ticket = state
	notice.Previous = &optimistic
	e.notify(notice)
}

// replay re-applies c on top of base, keeping the time it was first applied.
func (e *Engine) replay(c *applied, base domain.Ticket) (domain.Ticket, error) {
	at := c.ticket.UpdatedAt
	switch c.op.Kind {
	case OpChange:
		return applyChange(c.op, base, at)
	case OpMessage:
		return applyMessage(c.op, base, at)
	}
	return domain.Ticket{}, apperrors.NewValidationError("cannot replay operation", map[string]any{"kind": c.op.Kind})
}

// Read queries the remote backend in REMOTE mode and the ledger otherwise. A
// connectivity failure switches to LOCAL_FALLBACK and answers from the ledger.
func (e *Engine) Read(ctx context.Context, filter domain.TicketFilter) ([]domain.Ticket, error) {
	if e.remote != nil && e.conn.Remote() {
		rctx, cancel := context.WithTimeout(ctx, e.readTimeout)
		tickets, err := e.remote.ListTickets(rctx, filter)
		cancel()
		if err == nil {
			e.merge(tickets)
			return tickets, nil
		}
		if err := e.degrade("read", err); err != nil {
			return nil, err
		}
	}
	return readLocal(e.ledger.Tickets(), filter), nil
}

// ReadMessages returns a ticket's messages, refreshing them from the remote
// backend in REMOTE mode.
func (e *Engine) ReadMessages(ctx context.Context, ticketID string) ([]domain.Message, error) {
	if _, ok := e.ledger.Ticket(ticketID); !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	if e.remote != nil && e.conn.Remote() {
		rctx, cancel := context.WithTimeout(ctx, e.readTimeout)
		msgs, err := e.remote.ListMessages(rctx, ticketID)
		cancel()
		if err == nil {
			e.mu.Lock()
			if e.pending[ticketID] == 0 {
				e.ledger.ReplaceMessages(ticketID, msgs)
			}
			e.mu.Unlock()
		} else if err := e.degrade("read_messages", err); err != nil {
			return nil, err
		}
	}
	return e.ledger.Messages(ticketID), nil
}

// Dataset is a full remote load.
type Dataset struct {
	Users   []domain.User
	Tickets []domain.Ticket
}

// Refresh reloads users and tickets from the remote backend in REMOTE mode and
// replaces the ledger's tickets, keeping those with writes still in flight. It
// returns ok=false when the remote backend is not the active source.
func (e *Engine) Refresh(ctx context.Context) (Dataset, bool, error) {
	if e.remote == nil || !e.conn.Remote() {
		return Dataset{}, false, nil
	}
	rctx, cancel := context.WithTimeout(ctx, e.readTimeout)
	defer cancel()

	users, err := e.remote.ListUsers(rctx)
	if err != nil {
		return Dataset{}, false, e.degrade("refresh", err)
	}
	tickets, err := e.remote.ListTickets(rctx, domain.TicketFilter{})
	if err != nil {
		return Dataset{}, false, e.degrade("refresh", err)
	}

	e.mu.Lock()
	e.ledger.ReplaceTickets(tickets, func(id string) bool { return e.pending[id] > 0 })
	e.mu.Unlock()
	return Dataset{Users: users, Tickets: tickets}, true, nil
}

// degrade classifies a failed read. Connectivity failures flip the mode and
// return nil so the caller answers locally.
func (e *Engine) degrade(op string, err error) error {
	classified := Classify(err)
	if apperrors.HasCode(classified, apperrors.CodeConnectivity) {
		e.logger.Warn("remote read failed, answering locally", zap.String("op", op), zap.Error(err))
		e.conn.ReportFailure(err)
		return nil
	}
	return classified
}

func (e *Engine) merge(tickets []domain.Ticket) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range tickets {
		if e.pending[t.ID] > 0 {
			continue
		}
		if local, ok := e.ledger.Ticket(t.ID); ok && local.Version > t.Version {
			continue
		}
		e.ledger.PutTicket(t)
	}
}

func readLocal(all []domain.Ticket, filter domain.TicketFilter) []domain.Ticket {
	out := make([]domain.Ticket, 0, len(all))
	for _, t := range all {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return out[:0]
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out
}

func (e *Engine) notify(n Notice) {
	if e.onChange != nil {
		e.onChange(n)
	}
}

func (e *Engine) record(op Operation, outcome string) {
	if e.recorder != nil {
		e.recorder.ObserveSync(op.name(), outcome)
	}
}

type statusCoder interface {
	HTTPStatus() int
}

// Classify maps a remote failure to CONNECTIVITY_ERROR or REMOTE_REJECTED.
// Timeouts, transport errors, 5xx, 408 and 429 are connectivity-class and any
// other 4xx is a rejection.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var de *apperrors.DomainError
	if errors.As(err, &de) && (de.Code == apperrors.CodeConnectivity || de.Code == apperrors.CodeRemoteRejected) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.NewConnectivityError(err)
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		switch {
		case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
			return apperrors.NewConnectivityError(err)
		case status >= 400:
			return apperrors.NewRemoteRejected(status, "remote backend rejected the change", err)
		}
	}
	// Transport failures (net.Error, *url.Error) and anything unrecognized.
	return apperrors.NewConnectivityError(err)
}
