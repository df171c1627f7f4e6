package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IdentityKind separates verified customer emails from synthesized guest identities.
type IdentityKind string

const (
	IdentityVerified IdentityKind = "verified"
	IdentityGuest    IdentityKind = "guest"
)

const (
	guestPrefix = "guest_"
	guestDomain = "@guest.local"
)

// Identity is the subject key for every entitlement lookup.
type Identity struct {
	Kind  IdentityKind
	Value string
}

// VerifiedIdentity normalizes a customer email or order-derived identifier.
func VerifiedIdentity(email string) Identity {
	return Identity{Kind: IdentityVerified, Value: strings.ToLower(strings.TrimSpace(email))}
}

// GuestIdentity synthesizes a time-based identity. It is only as stable as the client
// that keeps it.
func GuestIdentity(at time.Time) Identity {
	return Identity{Kind: IdentityGuest, Value: fmt.Sprintf("%s%d%s", guestPrefix, at.UnixMilli(), guestDomain)}
}

// ParseIdentity classifies a raw identity string received from a client.
func ParseIdentity(raw string) Identity {
	value := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(value, guestPrefix) && strings.HasSuffix(value, guestDomain) {
		ms := strings.TrimSuffix(strings.TrimPrefix(value, guestPrefix), guestDomain)
		if _, err := strconv.ParseInt(ms, 10, 64); err == nil {
			return Identity{Kind: IdentityGuest, Value: value}
		}
	}
	return Identity{Kind: IdentityVerified, Value: value}
}

// IsZero reports an empty identity.
func (i Identity) IsZero() bool { return i.Value == "" }

// IsGuest reports whether the identity was synthesized for an anonymous visitor.
func (i Identity) IsGuest() bool { return i.Kind == IdentityGuest }

func (i Identity) String() string { return i.Value }

// Caller is who is asking, and from which device's local cache.
type Caller struct {
	Identity Identity
	DeviceID string
}
