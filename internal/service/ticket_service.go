package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/lifecycle"
	"github.com/spec-kit/helpdesk/internal/policy"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// TicketService is the backend's authority over tickets. It re-applies the
// same access policy and state machine the desk uses, inside a row lock.
type TicketService struct {
	tickets    repository.TicketRepository
	messages   repository.TicketMessageRepository
	users      repository.UserRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.TicketMessageRepository
	UserRepo    repository.UserRepository
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Now         func() time.Time
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		users:      deps.UserRepo,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		now:        now,
	}
}

// List returns the tickets the principal may see that match filter.
func (s *TicketService) List(ctx context.Context, p *auth.Principal, filter domain.TicketFilter) ([]domain.Ticket, error) {
	query := repository.TicketQuery{TicketFilter: filter}
	switch {
	case policy.Has(p.Role(), policy.CapViewAll):
	case policy.Has(p.Role(), policy.CapViewQueue):
		query.QueueOf = &p.User.ID
	case policy.Has(p.Role(), policy.CapViewOwn):
		query.RequesterID = &p.User.ID
	default:
		return []domain.Ticket{}, nil
	}
	tickets, err := s.tickets.ListWithFilter(ctx, query)
	if err != nil {
		return nil, err
	}
	return policy.VisibleTickets(p.Role(), p.User.ID, tickets), nil
}

// Get returns one ticket if the principal may see it.
func (s *TicketService) Get(ctx context.Context, p *auth.Principal, id string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !policy.CanView(p.Role(), p.User.ID, *ticket) {
		return nil, apperrors.NewForbidden("ticket not visible")
	}
	return ticket, nil
}

// Create stores a ticket opened by a client. The client assigns id and number;
// the backend only checks them.
func (s *TicketService) Create(ctx context.Context, p *auth.Principal, in domain.Ticket) (*domain.Ticket, error) {
	if !policy.CanCreate(p.Role()) {
		return nil, apperrors.NewForbidden("role may not open tickets")
	}
	ticket := in.Clone()
	ticket.Title = strings.TrimSpace(ticket.Title)
	ticket.Description = strings.TrimSpace(ticket.Description)
	if ticket.RequesterID == "" {
		ticket.RequesterID = p.User.ID
	}
	if ticket.RequesterID != p.User.ID && !policy.Has(p.Role(), policy.CapViewAll) {
		return nil, apperrors.NewForbidden("tickets are opened on your own behalf")
	}
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if ticket.Title == "" {
		return nil, apperrors.NewValidationError("title required", nil)
	}
	if _, _, ok := domain.ParseTicketNumber(ticket.Number); !ok {
		return nil, apperrors.NewValidationError("invalid ticket number", map[string]any{"number": ticket.Number})
	}
	if ticket.Priority == "" {
		ticket.Priority = domain.TicketPriorityMedium
	}
	if !ticket.Priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": ticket.Priority})
	}
	if (ticket.Status != "" && ticket.Status != domain.TicketStatusOpen) || !ticket.Unassigned() {
		return nil, apperrors.NewValidationError("new tickets start open and unassigned", nil)
	}
	ticket.Status = domain.TicketStatusOpen
	ticket.AssignedTechnicianID = nil
	ticket.AppliedSolution = nil
	ticket.TimeSpentMinutes = nil
	ticket.Satisfaction = nil
	ticket.ClosedAt = nil
	ticket.Version = 1
	now := s.now()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = ticket.CreatedAt

	if err := s.tickets.Create(ctx, &ticket); err != nil {
		return nil, err
	}
	s.logger.Info("ticket created", zap.String("ticket_id", ticket.ID), zap.String("number", ticket.Number))
	s.publishEvent(ctx, events.TicketCreated(p.User, ticket, now))
	return &ticket, nil
}

// Patch applies one change under a row lock.
func (s *TicketService) Patch(ctx context.Context, p *auth.Principal, id string, change domain.TicketChange) (*domain.Ticket, error) {
	if change.Kind == domain.ChangeReassign {
		if err := s.requireTechnician(ctx, change.TechnicianID); err != nil {
			return nil, err
		}
	}
	if change.Kind == domain.ChangeClaim && change.TechnicianID == "" {
		change.TechnicianID = p.User.ID
	}
	if change.Kind == domain.ChangeClaim && change.TechnicianID != p.User.ID && !p.Service {
		return nil, apperrors.NewForbidden("technicians claim for themselves")
	}

	now := s.now()
	var prev domain.Ticket
	updated, err := s.tickets.Patch(ctx, id, func(t *domain.Ticket) error {
		prev = t.Clone()
		if err := policy.Authorize(p.Role(), p.User.ID, *t, policy.ProposalFor(change)); err != nil {
			return err
		}
		return lifecycle.Apply(t, change, policy.CanOverride(p.Role()), now)
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("ticket changed",
		zap.String("ticket_id", id),
		zap.String("op", string(change.Kind)),
		zap.Int64("version", updated.Version))
	s.publishEvent(ctx, events.TicketChanged(p.User, change, prev, *updated, now))
	return updated, nil
}

// AddMessage appends to a ticket thread and bumps the ticket version.
func (s *TicketService) AddMessage(ctx context.Context, p *auth.Principal, ticketID string, in domain.Message) (*domain.Message, error) {
	msg := in
	msg.TicketID = ticketID
	msg.Body = strings.TrimSpace(msg.Body)
	if msg.Body == "" {
		return nil, apperrors.NewValidationError("message body required", nil)
	}
	if msg.Kind == "" {
		msg.Kind = domain.MessageKindComment
	}
	if !msg.Kind.Valid() {
		return nil, apperrors.NewValidationError("unknown message kind", map[string]any{"kind": msg.Kind})
	}
	if !p.Service || msg.AuthorID == "" {
		msg.AuthorID = p.User.ID
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	_, err := s.tickets.AppendMessage(ctx, &msg, func(t domain.Ticket) error {
		if err := policy.Authorize(p.Role(), p.User.ID, t, policy.Proposal{Kind: domain.ChangeAppendMessage, MessageKind: msg.Kind}); err != nil {
			return err
		}
		if t.Status == domain.TicketStatusClosed {
			return apperrors.NewInvalidTransition(string(t.Status), string(t.Status)+" (append_message)", string(t.Status))
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	s.publishEvent(ctx, events.MessageAdded(p.User, msg, msg.CreatedAt))
	return &msg, nil
}

// ListMessages returns a ticket thread as the principal may see it.
func (s *TicketService) ListMessages(ctx context.Context, p *auth.Principal, ticketID string) ([]domain.Message, error) {
	if _, err := s.Get(ctx, p, ticketID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return policy.VisibleMessages(p.Role(), msgs), nil
}

func (s *TicketService) requireTechnician(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperrors.NewValidationError("technician id required", nil)
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if apperrors.HasCode(apperrors.MapError(err), apperrors.CodeNotFound) {
			return apperrors.NewValidationError("unknown technician", map[string]any{"technician_id": id})
		}
		return err
	}
	if user.Role != domain.RoleTechnician || !user.Active {
		return apperrors.NewValidationError("assignee must be an active technician", map[string]any{"technician_id": id})
	}
	return nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}
