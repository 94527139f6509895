package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/service"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// UsersHandler exposes auth and user directory endpoints of the backend.
type UsersHandler struct {
	auth *service.AuthService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService) *UsersHandler {
	return &UsersHandler{auth: authService}
}

// Register handles POST /auth/register.
func (h *UsersHandler) Register(c *fiber.Ctx) error {
	var req dto.UserRegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return apperrors.NewValidationError("name, email, password required", nil)
	}

	user, token, exp, err := h.auth.RegisterUser(c.UserContext(), req.Name, req.Email, req.Password, req.Department)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": dto.AuthResponse{Token: token, ExpiresAt: exp, User: dto.UserFromDomain(*user)},
	})
}

// Login handles POST /auth/login.
func (h *UsersHandler) Login(c *fiber.Ctx) error {
	var req dto.UserLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	user, token, exp, err := h.auth.LoginUser(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": dto.AuthResponse{Token: token, ExpiresAt: exp, User: dto.UserFromDomain(*user)},
	})
}

// ListUsers handles GET /users.
func (h *UsersHandler) ListUsers(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	users, err := h.auth.ListUsers(c.UserContext(), principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.UsersFromDomain(users)})
}
