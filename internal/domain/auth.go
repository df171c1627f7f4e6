package domain

import "time"

// AdminRole scopes what an admin session may do.
type AdminRole string

const (
	AdminRoleOperator AdminRole = "OPERATOR"
	AdminRoleViewer   AdminRole = "VIEWER"
)

// AdminSession is the metadata carried by an issued admin token.
type AdminSession struct {
	Actor     string
	Role      AdminRole
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Remaining returns how long the session stays valid at now.
func (s AdminSession) Remaining(now time.Time) time.Duration {
	if now.After(s.ExpiresAt) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}
