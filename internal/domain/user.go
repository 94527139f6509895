package domain

import "time"

// Role enumerates the three helpdesk roles.
type Role string

const (
	RoleRequester     Role = "REQUESTER"
	RoleTechnician    Role = "TECHNICIAN"
	RoleAdministrator Role = "ADMINISTRATOR"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleRequester, RoleTechnician, RoleAdministrator:
		return true
	}
	return false
}

// User is an identity record. Users are deactivated, never deleted.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Department   string
	Active       bool
	CreatedAt    time.Time
}

// UserChanges carries administrator edits; nil fields are left untouched.
type UserChanges struct {
	Name       *string
	Email      *string
	Department *string
	Role       *Role
	Active     *bool
}
