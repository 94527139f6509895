package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// UserRegisterRequest payload for new users. Role is honored only when an
// administrator registers the user.
type UserRegisterRequest struct {
	Name       string      `json:"name"`
	Email      string      `json:"email"`
	Password   string      `json:"password"`
	Role       domain.Role `json:"role,omitempty"`
	Department string      `json:"department"`
}

// UserUpdateRequest carries administrator edits; absent fields are unchanged.
type UserUpdateRequest struct {
	Name       *string      `json:"name"`
	Email      *string      `json:"email"`
	Department *string      `json:"department"`
	Role       *domain.Role `json:"role"`
	Active     *bool        `json:"active"`
}

// ToDomain converts the request.
func (r UserUpdateRequest) ToDomain() domain.UserChanges {
	return domain.UserChanges{
		Name:       r.Name,
		Email:      r.Email,
		Department: r.Department,
		Role:       r.Role,
		Active:     r.Active,
	}
}

// UserLoginRequest payload for login.
type UserLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// UserResponse is the public view of a user. Password hashes never leave the process.
type UserResponse struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Email      string      `json:"email"`
	Role       domain.Role `json:"role"`
	Department string      `json:"department"`
	Active     bool        `json:"active"`
	CreatedAt  time.Time   `json:"created_at"`
}

// UserFromDomain converts a user for the wire.
func UserFromDomain(u domain.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		Department: u.Department,
		Active:     u.Active,
		CreatedAt:  u.CreatedAt,
	}
}

// UsersFromDomain converts a list.
func UsersFromDomain(users []domain.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, UserFromDomain(u))
	}
	return out
}

// ToDomain converts back from the wire.
func (r UserResponse) ToDomain() domain.User {
	return domain.User{
		ID:         r.ID,
		Name:       r.Name,
		Email:      r.Email,
		Role:       r.Role,
		Department: r.Department,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt,
	}
}
