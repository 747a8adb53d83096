package accounts

import (
	"fmt"
	"strings"
)

// Role is the closed set of account roles. Authorization decisions go
// through ParseRole and Can rather than raw string comparison, so a typo
// in a route declaration fails at parse time instead of silently denying
// or granting access.
type Role string

const (
	RoleAdmin      Role = "admin"
	RolePrincipal  Role = "principal"
	RoleTeacher    Role = "teacher"
	RoleStudent    Role = "student"
	RoleParent     Role = "parent"
	RoleAccountant Role = "accountant"
)

var allRoles = map[Role]struct{}{
	RoleAdmin:      {},
	RolePrincipal:  {},
	RoleTeacher:    {},
	RoleStudent:    {},
	RoleParent:     {},
	RoleAccountant: {},
}

// ParseRole normalizes and validates a role string against the closed set.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := allRoles[role]; !ok {
		return "", fmt.Errorf("accounts: unknown role %q", raw)
	}
	return role, nil
}

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	_, ok := allRoles[r]
	return ok
}

// Capability is a named action a role may perform within the security core.
type Capability string

const (
	CapViewSecurityAlerts Capability = "security.alerts.view"
	CapRevokeSessions     Capability = "security.sessions.revoke"
	CapManageAccounts     Capability = "accounts.manage"
)

var roleCapabilities = map[Role]map[Capability]struct{}{
	RoleAdmin: {
		CapViewSecurityAlerts: {},
		CapRevokeSessions:     {},
		CapManageAccounts:     {},
	},
	RolePrincipal: {
		CapViewSecurityAlerts: {},
		CapRevokeSessions:     {},
	},
}

// Can reports whether the role holds the capability. Roles absent from the
// capability table hold none.
func (r Role) Can(cap Capability) bool {
	caps, ok := roleCapabilities[r]
	if !ok {
		return false
	}
	_, ok = caps[cap]
	return ok
}
