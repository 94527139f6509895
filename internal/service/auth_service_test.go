package service

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

func newAuthService(users memUsers) *AuthService {
	cfg := config.Config{Auth: config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTLMinutes: 5, BcryptCost: bcrypt.MinCost}}
	return NewAuthService(cfg, users, nil)
}

func TestRegisterValidatesAndSignsIn(t *testing.T) {
	users := memUsers{}
	svc := newAuthService(users)
	ctx := context.Background()

	cases := []struct {
		name, fullName, email, password string
		code                            string
	}{
		{"missing name", " ", "ana@empresa.com", "secret1", apperrors.CodeValidation},
		{"bad email", "Ana", "not-an-email", "secret1", apperrors.CodeValidation},
		{"short password", "Ana", "ana@empresa.com", "123", apperrors.CodeValidation},
	}
	for _, tc := range cases {
		if _, _, _, err := svc.RegisterUser(ctx, tc.fullName, tc.email, tc.password, ""); !apperrors.HasCode(err, tc.code) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.code, err)
		}
	}

	user, token, _, err := svc.RegisterUser(ctx, " Ana ", "ana@empresa.com", "secret1", "Vendas")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != domain.RoleRequester || user.Name != "Ana" || !user.Active {
		t.Fatalf("unexpected user %+v", user)
	}
	claims, err := svc.TokenManager().ParseToken(token)
	if err != nil || claims.Subject != user.ID {
		t.Fatalf("token does not name the user: %+v (%v)", claims, err)
	}
	if _, _, _, err := svc.RegisterUser(ctx, "Ana", "ANA@empresa.com", "secret1", ""); !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("duplicate email: expected CONFLICT, got %v", err)
	}

	if _, _, _, err := svc.LoginUser(ctx, "ana@empresa.com", "wrong"); !apperrors.HasCode(err, apperrors.CodeUnauthorized) {
		t.Fatalf("wrong password: expected UNAUTHORIZED, got %v", err)
	}
	if _, _, _, err := svc.LoginUser(ctx, "ana@empresa.com", "secret1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.ListUsers(ctx, &auth.Principal{User: *user}); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("requester listing users: expected FORBIDDEN, got %v", err)
	}
}
