package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/policy"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// AuthService coordinates registration, login and user lookups on the backend.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	validate   *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

type registration struct {
	Name       string `validate:"required,max=200"`
	Email      string `validate:"required,email,max=254"`
	Password   string `validate:"required,min=6,max=72"`
	Department string `validate:"max=100"`
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, users repository.UserRepository, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      users,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		bcryptCost: cfg.Auth.BcryptCost,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
		now:        time.Now,
	}
}

// RegisterUser creates a requester account and signs it in.
func (s *AuthService) RegisterUser(ctx context.Context, name, email, password, department string) (*domain.User, string, time.Time, error) {
	in := registration{
		Name:       strings.TrimSpace(name),
		Email:      strings.TrimSpace(email),
		Password:   password,
		Department: strings.TrimSpace(department),
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, "", time.Time{}, registrationError(err)
	}
	email = in.Email
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, "", time.Time{}, apperrors.NewConflict("email already registered", map[string]any{"email": email})
	} else if !apperrors.HasCode(apperrors.MapError(err), apperrors.CodeNotFound) {
		return nil, "", time.Time{}, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, "", time.Time{}, err
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleRequester,
		Department:   in.Department,
		Active:       true,
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, "", time.Time{}, err
	}

	token, exp, err := s.tokenMgr.GenerateToken(*user)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, token, exp, nil
}

func registrationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.NewValidationError("invalid registration", nil)
	}
	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return apperrors.NewValidationError("invalid registration", fields)
}

// LoginUser authenticates a user of any role.
func (s *AuthService) LoginUser(ctx context.Context, email, password string) (*domain.User, string, time.Time, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if apperrors.HasCode(apperrors.MapError(err), apperrors.CodeNotFound) {
			return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, "", time.Time{}, err
	}
	if !user.Active {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("user inactive")
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	token, exp, err := s.tokenMgr.GenerateToken(*user)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return user, token, exp, nil
}

// UserByID implements auth.UserLookup.
func (s *AuthService) UserByID(ctx context.Context, id string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return domain.User{}, apperrors.MapError(err)
	}
	return *user, nil
}

// ListUsers returns every user to administrators and service callers.
func (s *AuthService) ListUsers(ctx context.Context, p *auth.Principal) ([]domain.User, error) {
	if !policy.Has(p.Role(), policy.CapManageUsers) {
		return nil, apperrors.NewForbidden("user listing requires an administrator")
	}
	return s.users.List(ctx)
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
