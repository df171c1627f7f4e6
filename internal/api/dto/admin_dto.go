package dto

import (
	"time"

	"github.com/spec-kit/growth-entitlements/internal/domain"
)

// AdminLoginRequest payload.
type AdminLoginRequest struct {
	Actor    string `json:"actor"`
	Password string `json:"password"`
}

// AdminLoginResponse returns an admin bearer token.
type AdminLoginResponse struct {
	Token     string           `json:"token"`
	Actor     string           `json:"actor"`
	Role      domain.AdminRole `json:"role"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// GlobalSwitchRequest payload.
type GlobalSwitchRequest struct {
	Enabled *bool `json:"enabled"`
}

// GlobalSwitchResponse reports the system-wide switch.
type GlobalSwitchResponse struct {
	Enabled bool `json:"enabled"`
}

// GrantToggleRequest payload for enabling or disabling a grant.
type GrantToggleRequest struct {
	Note string `json:"note"`
}

// GrantStatisticsResponse summarizes order grants.
type GrantStatisticsResponse struct {
	TotalOrders      int `json:"total_orders"`
	EnabledOrders    int `json:"enabled_orders"`
	DisabledOrders   int `json:"disabled_orders"`
	TotalUsage       int `json:"total_usage"`
	RemainingUsage   int `json:"remaining_usage"`
	EnabledThisMonth int `json:"enabled_this_month"`
}

// CodeCreateRequest payload. An empty code is generated.
type CodeCreateRequest struct {
	Code        string     `json:"code"`
	Description string     `json:"description"`
	MaxUsage    int        `json:"max_usage"`
	IsActive    *bool      `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// CodeUpdateRequest payload; absent fields stay unchanged.
type CodeUpdateRequest struct {
	Description *string    `json:"description"`
	MaxUsage    *int       `json:"max_usage"`
	IsActive    *bool      `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at"`
	ClearExpiry bool       `json:"clear_expiry"`
}

// CodeResponse is a redemption code.
type CodeResponse struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	Description  string     `json:"description,omitempty"`
	MaxUsage     int        `json:"max_usage"`
	CurrentUsage int        `json:"current_usage"`
	Remaining    int        `json:"remaining"`
	IsActive     bool       `json:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedBy    string     `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// GeneratedCodeResponse is an unused code suggestion.
type GeneratedCodeResponse struct {
	Code string `json:"code"`
}

// CodeStatisticsResponse summarizes redemption codes.
type CodeStatisticsResponse struct {
	TotalCodes       int `json:"total_codes"`
	ActiveCodes      int `json:"active_codes"`
	InactiveCodes    int `json:"inactive_codes"`
	ExpiredCodes     int `json:"expired_codes"`
	TotalMaxUsage    int `json:"total_max_usage"`
	TotalUsage       int `json:"total_usage"`
	CreatedThisMonth int `json:"created_this_month"`
}

// RedemptionRecordResponse is one code use.
type RedemptionRecordResponse struct {
	ID              string    `json:"id"`
	CodeID          string    `json:"code_id"`
	Code            string    `json:"code"`
	SubjectIdentity string    `json:"subject_identity"`
	SubjectName     string    `json:"subject_name,omitempty"`
	IPAddress       *string   `json:"ip_address,omitempty"`
	UserAgent       *string   `json:"user_agent,omitempty"`
	UsedAt          time.Time `json:"used_at"`
}
