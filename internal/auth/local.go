package auth

import (
	"strings"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// CredentialStore finds users by email, password hash included.
type CredentialStore interface {
	FindUserByEmail(email string) (domain.User, bool)
}

// LocalAuthenticator checks passwords against an in-process user set and
// issues session tokens. It works whether or not the backend is reachable.
type LocalAuthenticator struct {
	users  CredentialStore
	tokens *TokenManager
}

// NewLocalAuthenticator builds an authenticator.
func NewLocalAuthenticator(users CredentialStore, tokens *TokenManager) *LocalAuthenticator {
	return &LocalAuthenticator{users: users, tokens: tokens}
}

// Login verifies the credentials and returns the user with a signed token.
func (a *LocalAuthenticator) Login(email, password string) (domain.User, string, time.Time, error) {
	user, ok := a.users.FindUserByEmail(strings.TrimSpace(email))
	if !ok || user.PasswordHash == "" {
		return domain.User{}, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	if !user.Active {
		return domain.User{}, "", time.Time{}, apperrors.NewUnauthorized("user inactive")
	}
	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return domain.User{}, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	token, exp, err := a.tokens.GenerateToken(user)
	if err != nil {
		return domain.User{}, "", time.Time{}, err
	}
	return user, token, exp, nil
}
