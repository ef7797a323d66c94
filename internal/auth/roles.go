package auth

import "errors"

var (
	// ErrTokenInvalid is returned for malformed, expired or mis-signed tokens.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrInvalidRole is returned when a token is requested for an unknown role.
	ErrInvalidRole = errors.New("invalid role")
)

// Role is the privilege level carried in an access token.
type Role string

const (
	// RoleViewer may read status, options, logs and events.
	RoleViewer Role = "viewer"
	// RoleOperator may additionally spawn, kill, change options and reset storage.
	RoleOperator Role = "operator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleOperator
}

// CanControl reports whether r may change node state.
func (r Role) CanControl() bool {
	return r == RoleOperator
}
