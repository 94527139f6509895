package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/policy"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// HistoryService records every ticket event in the audit trail and serves it
// back to staff.
type HistoryService struct {
	repo    repository.TicketHistoryRepository
	tickets *TicketService
	logger  *zap.Logger
}

// NewHistoryService constructs the service.
func NewHistoryService(repo repository.TicketHistoryRepository, tickets *TicketService, logger *zap.Logger) *HistoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryService{repo: repo, tickets: tickets, logger: logger}
}

// RegisterHandlers subscribes to every ticket event.
func (h *HistoryService) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		if eventType == events.EventConnectivityChanged {
			continue
		}
		dispatcher.Subscribe(eventType, h.record)
	}
}

func (h *HistoryService) record(ctx context.Context, event events.Event) error {
	if event.TicketID == "" {
		return nil
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	entry := &domain.TicketHistory{
		ID:        event.ID,
		TicketID:  event.TicketID,
		Change:    string(event.Type),
		Payload:   payload,
		CreatedAt: event.Timestamp,
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if event.Actor.UserID != "" {
		actor := event.Actor.UserID
		entry.ChangedByID = &actor
	}
	if err := h.repo.Create(ctx, entry); err != nil {
		h.logger.Warn("failed to record ticket history",
			zap.String("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
	return nil
}

// List returns a ticket's audit trail. It includes message previews of
// internal notes, so only roles that read notes get it.
func (h *HistoryService) List(ctx context.Context, p *auth.Principal, ticketID string) ([]domain.TicketHistory, error) {
	if !policy.Has(p.Role(), policy.CapReadInternalNotes) {
		return nil, apperrors.NewForbidden("ticket history requires a staff role")
	}
	if _, err := h.tickets.Get(ctx, p, ticketID); err != nil {
		return nil, err
	}
	return h.repo.ListByTicket(ctx, ticketID)
}
