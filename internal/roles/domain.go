package roles

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested assignment does not exist.
	ErrNotFound = errors.New("roles: assignment not found")
	// ErrInvalidAssignment indicates a missing principal, application or role.
	ErrInvalidAssignment = errors.New("roles: principal, application and role are required")
)

// Assignment grants Role to Principal inside Application. An empty Tenant
// means the role applies globally, in every tenant.
type Assignment struct {
	Principal   string
	Application string
	Tenant      string
	Role        string
	CreatedAt   time.Time
}

// Global reports whether the assignment has no tenant scope.
func (a Assignment) Global() bool {
	return a.Tenant == ""
}
