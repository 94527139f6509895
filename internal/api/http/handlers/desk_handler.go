package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/store"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

const streamKeepAlive = 15 * time.Second

// DeskHandler exposes the ticket store to the presentation layer.
type DeskHandler struct {
	store  *store.Store
	login  *auth.LocalAuthenticator
	logger *zap.Logger
}

// NewDeskHandler constructs handler.
func NewDeskHandler(ticketStore *store.Store, login *auth.LocalAuthenticator, logger *zap.Logger) *DeskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeskHandler{store: ticketStore, login: login, logger: logger}
}

// Login handles POST /session/login and makes the user the session user.
func (h *DeskHandler) Login(c *fiber.Ctx) error {
	var req dto.UserLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}
	user, token, exp, err := h.login.Login(req.Email, req.Password)
	if err != nil {
		return err
	}
	if err := h.store.SetSession(user.ID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AuthResponse{Token: token, ExpiresAt: exp, User: dto.UserFromDomain(user)}})
}

// Register handles POST /session/register, the requester self-registration.
func (h *DeskHandler) Register(c *fiber.Ctx) error {
	var req dto.UserRegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	user, err := h.store.RegisterUser("", newUser(req))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.UserFromDomain(user)})
}

// Logout handles POST /session/logout.
func (h *DeskHandler) Logout(c *fiber.Ctx) error {
	h.store.ClearSession()
	return c.SendStatus(http.StatusNoContent)
}

// Me handles GET /session.
func (h *DeskHandler) Me(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.UserFromDomain(principal.User)})
}

// Snapshot handles GET /snapshot.
func (h *DeskHandler) Snapshot(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	snap := h.store.Snapshot(principal.Role(), principal.User.ID)
	return c.JSON(fiber.Map{"data": snapshotResponse(snap)})
}

// Stream handles GET /snapshot/stream as server-sent events: one "snapshot"
// event now and one after every change the caller can observe.
func (h *DeskHandler) Stream(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	role, userID := principal.Role(), principal.User.ID
	updates, cancel := h.store.Subscribe(role, userID)
	first := h.store.Snapshot(role, userID)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		if err := streamSnapshots(w, first, updates, streamKeepAlive); err != nil {
			h.logger.Debug("snapshot stream ended", zap.String("user_id", userID), zap.Error(err))
		}
	})
	return nil
}

// streamSnapshots writes first and then every update until the channel closes
// or a write fails.
func streamSnapshots(w *bufio.Writer, first store.Snapshot, updates <-chan store.Snapshot, keepAlive time.Duration) error {
	if err := writeEvent(w, first); err != nil {
		return err
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEvent(w, snap); err != nil {
				return err
			}
		case <-ticker.C:
			if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
}

func writeEvent(w *bufio.Writer, snap store.Snapshot) error {
	payload, err := json.Marshal(snapshotResponse(snap))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

// ListTickets handles GET /tickets with the backend's filter parameters.
func (h *DeskHandler) ListTickets(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	tickets, err := h.store.Tickets(c.UserContext(), principal.Role(), principal.User.ID, parseTicketFilter(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketsFromDomain(tickets)})
}

// CreateTicket handles POST /tickets.
func (h *DeskHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	res, err := h.store.CreateTicket(c.UserContext(), principal.User.ID, store.TicketFields{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
	})
	return h.mutation(c, http.StatusCreated, res, err)
}

// Claim handles POST /tickets/:id/claim.
func (h *DeskHandler) Claim(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ClaimRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	res, err := h.store.ClaimTicket(c.UserContext(), principal.User.ID, c.Params("id"), req.SeenVersion)
	return h.mutation(c, http.StatusOK, res, err)
}

// Reassign handles POST /tickets/:id/reassign.
func (h *DeskHandler) Reassign(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ReassignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	res, err := h.store.ReassignTicket(c.UserContext(), principal.User.ID, c.Params("id"), req.TechnicianID)
	return h.mutation(c, http.StatusOK, res, err)
}

// Advance handles POST /tickets/:id/advance.
func (h *DeskHandler) Advance(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AdvanceRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	res, err := h.store.AdvanceStatus(c.UserContext(), principal.User.ID, c.Params("id"), req.Status, store.AdvanceInput{
		Solution:         req.Solution,
		TimeSpentMinutes: req.TimeSpentMinutes,
	})
	return h.mutation(c, http.StatusOK, res, err)
}

// RecordWork handles POST /tickets/:id/work.
func (h *DeskHandler) RecordWork(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.WorkRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	res, err := h.store.RecordWork(c.UserContext(), principal.User.ID, c.Params("id"), store.WorkInput{
		Solution:         req.Solution,
		TimeSpentMinutes: req.TimeSpentMinutes,
		Notes:            req.Notes,
	})
	return h.mutation(c, http.StatusOK, res, err)
}

// SetPriority handles POST /tickets/:id/priority.
func (h *DeskHandler) SetPriority(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.PriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	res, err := h.store.SetPriority(c.UserContext(), principal.User.ID, c.Params("id"), req.Priority)
	return h.mutation(c, http.StatusOK, res, err)
}

// Rate handles POST /tickets/:id/rate.
func (h *DeskHandler) Rate(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.RateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	res, err := h.store.RateTicket(c.UserContext(), principal.User.ID, c.Params("id"), req.Satisfaction)
	return h.mutation(c, http.StatusOK, res, err)
}

// ListMessages handles GET /tickets/:id/messages.
func (h *DeskHandler) ListMessages(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	msgs, err := h.store.Messages(c.UserContext(), principal.Role(), principal.User.ID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.MessagesFromDomain(msgs)})
}

// AddMessage handles POST /tickets/:id/messages.
func (h *DeskHandler) AddMessage(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	res, err := h.store.AppendMessage(c.UserContext(), principal.User.ID, c.Params("id"), req.Body, req.Kind)
	return h.mutation(c, http.StatusCreated, res, err)
}

// Connectivity handles GET /connectivity.
func (h *DeskHandler) Connectivity(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": dto.ConnectivityFromDomain(h.store.Connectivity())})
}

// Recheck handles POST /connectivity/recheck.
func (h *DeskHandler) Recheck(c *fiber.Ctx) error {
	state, err := h.store.Recheck(c.UserContext())
	if err != nil {
		h.logger.Warn("refresh after recheck failed", zap.Error(err))
	}
	return c.JSON(fiber.Map{"data": dto.ConnectivityFromDomain(state)})
}

// ListUsers handles GET /users.
func (h *DeskHandler) ListUsers(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	users, err := h.store.Users(principal.User.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.UsersFromDomain(users)})
}

// CreateUser handles POST /users. Administrators may pick the role.
func (h *DeskHandler) CreateUser(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UserRegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	user, err := h.store.RegisterUser(principal.User.ID, newUser(req))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.UserFromDomain(user)})
}

// UpdateUser handles PATCH /users/:id.
func (h *DeskHandler) UpdateUser(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UserUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	user, err := h.store.UpdateUser(principal.User.ID, c.Params("id"), req.ToDomain())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.UserFromDomain(user)})
}

// mutation renders a store result. An abandoned wait still answers with the
// optimistic ticket, as 202.
func (h *DeskHandler) mutation(c *fiber.Ctx, status int, res store.Result, err error) error {
	if err != nil {
		if res.Ticket.ID == "" || !(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			return err
		}
		status = http.StatusAccepted
	}
	resp := dto.MutationResponse{Confirmed: res.Confirmed, Warning: dto.WarningFrom(res.Warning)}
	if res.Ticket.ID != "" {
		ticket := dto.TicketFromDomain(res.Ticket)
		resp.Ticket = &ticket
	}
	if res.Message != nil {
		msg := dto.MessageFromDomain(*res.Message)
		resp.Message = &msg
	}
	return c.Status(status).JSON(fiber.Map{"data": resp})
}

func snapshotResponse(snap store.Snapshot) dto.SnapshotResponse {
	return dto.SnapshotResponse{
		Tickets:      dto.TicketsFromDomain(snap.Tickets),
		Metrics:      dto.MetricsFromDomain(snap.Metrics),
		Connectivity: dto.ConnectivityFromDomain(snap.Connectivity),
	}
}

func newUser(req dto.UserRegisterRequest) store.NewUser {
	return store.NewUser{
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
		Role:       req.Role,
		Department: req.Department,
	}
}
