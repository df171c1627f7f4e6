package domain

import (
	"strings"
	"time"
)

// RedemptionCode is a subject-independent grant template typed in by customers.
type RedemptionCode struct {
	ID           string
	Code         string
	Description  string
	MaxUsage     int
	CurrentUsage int
	IsActive     bool
	ExpiresAt    *time.Time
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeCode makes code lookups case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Expired reports whether the code is past its expiry.
func (c RedemptionCode) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Exhausted reports a code whose usage reached its maximum.
func (c RedemptionCode) Exhausted() bool {
	return c.CurrentUsage >= c.MaxUsage
}

// Remaining is the unused capacity of the code.
func (c RedemptionCode) Remaining() int {
	if c.Exhausted() {
		return 0
	}
	return c.MaxUsage - c.CurrentUsage
}

// Redeemable reports whether a redemption could succeed at now.
func (c RedemptionCode) Redeemable(now time.Time) bool {
	return c.IsActive && !c.Expired(now) && !c.Exhausted()
}

// RedemptionRecord is the append-only audit of a single code use.
type RedemptionRecord struct {
	ID              string
	CodeID          string
	Code            string
	SubjectIdentity string
	SubjectName     string
	IPAddress       *string
	UserAgent       *string
	UsedAt          time.Time
}

// CodeStatistics summarizes codes for the admin dashboard.
type CodeStatistics struct {
	TotalCodes        int
	ActiveCodes       int
	InactiveCodes     int
	ExpiredCodes      int
	TotalMaxUsage     int
	TotalCurrentUsage int
	CreatedThisMonth  int
}

// GrantStatistics summarizes order grants for the admin dashboard.
type GrantStatistics struct {
	TotalOrders      int
	EnabledOrders    int
	DisabledOrders   int
	TotalUsage       int
	RemainingUsage   int
	EnabledThisMonth int
}

// MonthStart returns the first instant of now's month in now's location.
func MonthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}
