package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	User    domain.User
	Service bool
}

// Role returns the role the caller acts with.
func (p *Principal) Role() domain.Role {
	return p.User.Role
}

// UserLookup resolves the user named in a token. Implementations return a
// NOT_FOUND DomainError (or any error) for unknown ids.
type UserLookup interface {
	UserByID(ctx context.Context, id string) (domain.User, error)
}

// LookupFunc adapts a function to UserLookup.
type LookupFunc func(ctx context.Context, id string) (domain.User, error)

// UserByID implements UserLookup.
func (f LookupFunc) UserByID(ctx context.Context, id string) (domain.User, error) {
	return f(ctx, id)
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens *TokenManager
	users  UserLookup
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, users UserLookup) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	principal := &Principal{Service: claims.Service}
	if claims.Service {
		principal.User = domain.User{ID: claims.Subject, Name: claims.Subject, Role: domain.RoleAdministrator, Active: true}
	} else {
		user, err := m.users.UserByID(c.UserContext(), claims.UserID)
		if err != nil {
			if apperrors.HasCode(err, apperrors.CodeNotFound) {
				return apperrors.NewUnauthorized("user not found")
			}
			return apperrors.MapError(err)
		}
		if !user.Active {
			return apperrors.NewUnauthorized("user inactive")
		}
		principal.User = user
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
