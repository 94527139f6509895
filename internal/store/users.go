package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/policy"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// NewUser is a registration request.
type NewUser struct {
	Name       string      `validate:"required,max=200"`
	Email      string      `validate:"required,email,max=254"`
	Password   string      `validate:"required,min=6,max=72"`
	Role       domain.Role `validate:"omitempty,oneof=REQUESTER TECHNICIAN ADMINISTRATOR"`
	Department string      `validate:"max=100"`
}

func (s *Store) actor(userID string) (domain.User, error) {
	u, ok := s.LookupUser(userID)
	if !ok || !u.Active {
		return domain.User{}, apperrors.NewForbidden("unknown or inactive user")
	}
	return u, nil
}

// LookupUser returns a user including the password hash.
func (s *Store) LookupUser(id string) (domain.User, bool) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// FindUserByEmail matches case-insensitively.
func (s *Store) FindUserByEmail(email string) (domain.User, bool) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	return s.findByEmailLocked(email)
}

func (s *Store) findByEmailLocked(email string) (domain.User, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, id := range s.userOrder {
		if strings.ToLower(s.users[id].Email) == email {
			return s.users[id], true
		}
	}
	return domain.User{}, false
}

// Users lists users for the caller without password hashes. Administrators see
// everyone; other roles see themselves and the active technicians.
func (s *Store) Users(actorID string) ([]domain.User, error) {
	actor, err := s.actor(actorID)
	if err != nil {
		return nil, err
	}
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()

	out := make([]domain.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		u := s.users[id]
		if !policy.Has(actor.Role, policy.CapManageUsers) && u.ID != actor.ID &&
			!(u.Active && u.Role == domain.RoleTechnician) {
			continue
		}
		u.PasswordHash = ""
		out = append(out, u)
	}
	return out, nil
}

// RegisterUser creates a user. With an empty actorID it is a self-registration
// and always creates a requester; administrators may create any role.
func (s *Store) RegisterUser(actorID string, in NewUser) (domain.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Department = strings.TrimSpace(in.Department)
	if err := s.validate.Struct(in); err != nil {
		return domain.User{}, validationError(err)
	}
	role := domain.RoleRequester
	if actorID != "" {
		actor, err := s.actor(actorID)
		if err != nil {
			return domain.User{}, err
		}
		if !policy.Has(actor.Role, policy.CapManageUsers) {
			return domain.User{}, apperrors.NewForbidden("only administrators may create users")
		}
		if in.Role != "" {
			role = in.Role
		}
	} else if in.Role != "" && in.Role != domain.RoleRequester {
		return domain.User{}, apperrors.NewForbidden("self-registration creates requesters only")
	}

	hash, err := auth.HashPassword(in.Password, s.seedCost)
	if err != nil {
		return domain.User{}, apperrors.NewInternalError(err)
	}

	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	if _, taken := s.findByEmailLocked(in.Email); taken {
		return domain.User{}, apperrors.NewConflict("email already registered", map[string]any{"email": in.Email})
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         role,
		Department:   in.Department,
		Active:       true,
		CreatedAt:    s.now(),
	}
	s.users[u.ID] = u
	s.userOrder = append(s.userOrder, u.ID)
	s.logger.Info("user registered", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	u.PasswordHash = ""
	return u, nil
}

// UpdateUser applies administrator edits. Administrators cannot demote or
// deactivate themselves.
func (s *Store) UpdateUser(actorID, userID string, changes domain.UserChanges) (domain.User, error) {
	actor, err := s.actor(actorID)
	if err != nil {
		return domain.User{}, err
	}
	if !policy.Has(actor.Role, policy.CapManageUsers) {
		return domain.User{}, apperrors.NewForbidden("only administrators may edit users")
	}
	if changes.Role != nil && !changes.Role.Valid() {
		return domain.User{}, apperrors.NewValidationError("unknown role", map[string]any{"role": *changes.Role})
	}
	if userID == actor.ID && ((changes.Active != nil && !*changes.Active) ||
		(changes.Role != nil && *changes.Role != domain.RoleAdministrator)) {
		return domain.User{}, apperrors.NewValidationError("administrators cannot demote or deactivate themselves", nil)
	}

	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, apperrors.NewNotFound("user", map[string]any{"user_id": userID})
	}
	if changes.Email != nil {
		email := strings.TrimSpace(*changes.Email)
		if err := s.validate.Var(email, "required,email,max=254"); err != nil {
			return domain.User{}, apperrors.NewValidationError("invalid email", map[string]any{"email": email})
		}
		if other, taken := s.findByEmailLocked(email); taken && other.ID != u.ID {
			return domain.User{}, apperrors.NewConflict("email already registered", map[string]any{"email": email})
		}
		u.Email = email
	}
	if changes.Name != nil {
		name := strings.TrimSpace(*changes.Name)
		if name == "" {
			return domain.User{}, apperrors.NewValidationError("name required", nil)
		}
		u.Name = name
	}
	if changes.Department != nil {
		u.Department = strings.TrimSpace(*changes.Department)
	}
	if changes.Role != nil {
		u.Role = *changes.Role
	}
	if changes.Active != nil {
		u.Active = *changes.Active
	}
	s.users[u.ID] = u
	u.PasswordHash = ""
	return u, nil
}

// SetSession records the authenticated user of this process.
func (s *Store) SetSession(userID string) error {
	if _, err := s.actor(userID); err != nil {
		return err
	}
	s.usersMu.Lock()
	s.session = userID
	s.usersMu.Unlock()
	return nil
}

// ClearSession signs the session user out.
func (s *Store) ClearSession() {
	s.usersMu.Lock()
	s.session = ""
	s.usersMu.Unlock()
}

// Session returns the authenticated user, if any.
func (s *Store) Session() (domain.User, bool) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	if s.session == "" {
		return domain.User{}, false
	}
	u, ok := s.users[s.session]
	return u, ok && u.Active
}

func (s *Store) putUsers(users []domain.User) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	for _, u := range users {
		if _, ok := s.users[u.ID]; !ok {
			s.userOrder = append(s.userOrder, u.ID)
		}
		s.users[u.ID] = u
	}
}

// mergeUsers applies a remote user list. Remote users carry no password hash, so
// a known local hash is kept.
func (s *Store) mergeUsers(users []domain.User) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	for _, u := range users {
		if local, ok := s.users[u.ID]; ok {
			if u.PasswordHash == "" {
				u.PasswordHash = local.PasswordHash
			}
		} else {
			s.userOrder = append(s.userOrder, u.ID)
		}
		s.users[u.ID] = u
	}
}

// UserByID resolves an active or inactive user for the auth middleware.
func (s *Store) UserByID(_ context.Context, id string) (domain.User, error) {
	u, ok := s.LookupUser(id)
	if !ok {
		return domain.User{}, apperrors.NewNotFound("user", map[string]any{"user_id": id})
	}
	return u, nil
}
