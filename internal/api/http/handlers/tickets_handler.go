package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/service"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// TicketsHandler serves the ticket backend API used by desk clients.
type TicketsHandler struct {
	service *service.TicketService
	history *service.HistoryService
}

// NewTicketsHandler constructs handler. A nil history service disables the
// audit trail endpoint.
func NewTicketsHandler(ticketService *service.TicketService, historyService *service.HistoryService) *TicketsHandler {
	return &TicketsHandler{service: ticketService, history: historyService}
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	tickets, err := h.service.List(c.UserContext(), principal, parseTicketFilter(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketsFromDomain(tickets)})
}

// CreateTicket POST /tickets. The body is a full ticket carrying the
// client-assigned id and number.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.TicketResponse
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.Create(c.UserContext(), principal, req.ToDomain())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.TicketFromDomain(*ticket)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.Get(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketFromDomain(*ticket)})
}

// PatchTicket PATCH /tickets/:id applies one lifecycle change.
func (h *TicketsHandler) PatchTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.TicketChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Kind == "" {
		return apperrors.NewValidationError("kind required", nil)
	}
	ticket, err := h.service.Patch(c.UserContext(), principal, c.Params("id"), req.ToDomain())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketFromDomain(*ticket)})
}

// ListMessages GET /tickets/:id/messages.
func (h *TicketsHandler) ListMessages(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	msgs, err := h.service.ListMessages(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.MessagesFromDomain(msgs)})
}

// AddMessage POST /tickets/:id/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	msg, err := h.service.AddMessage(c.UserContext(), principal, c.Params("id"), req.ToDomain(c.Params("id")))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.MessageFromDomain(*msg)})
}

// History GET /tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	if h.history == nil {
		return apperrors.NewNotFound("ticket history", nil)
	}
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	entries, err := h.history.List(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.HistoryFromDomain(entries)})
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}
