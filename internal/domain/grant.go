package domain

import "time"

// SourceKind says where a grant came from.
type SourceKind string

const (
	SourceOrder SourceKind = "order"
	SourceCode  SourceKind = "code"
)

// Origin marks which tier a grant was read from. It is never persisted.
type Origin string

const (
	OriginStore Origin = "store"
	OriginCache Origin = "cache"
)

// Grant is a unit of entitlement to the growth report feature.
//
// Code-sourced grants mirror their code's shared counter: MaxUsage and UsageCount come
// from the code, and the grant is only enabled while the code is active.
type Grant struct {
	ID              string
	SubjectIdentity string
	SubjectName     string
	SourceKind      SourceKind
	SourceReference string
	OrderID         *int64
	CodeID          *string
	MaxUsage        int
	UsageCount      int
	IsEnabled       bool
	ExpiresAt       *time.Time
	EnabledAt       *time.Time
	DisabledAt      *time.Time
	GrantedBy       string
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Origin Origin
}

// Remaining is the unused capacity of the grant, never negative.
func (g Grant) Remaining() int {
	if g.UsageCount >= g.MaxUsage {
		return 0
	}
	return g.MaxUsage - g.UsageCount
}

// Expired reports whether the grant's expiry has passed at now.
func (g Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && g.ExpiresAt.Before(now)
}

// Contributes reports whether the grant counts toward a subject's entitlement.
func (g Grant) Contributes(now time.Time) bool {
	return g.IsEnabled && !g.Expired(now)
}

// Exhausted reports a grant with no capacity left.
func (g Grant) Exhausted() bool { return g.Remaining() == 0 }
