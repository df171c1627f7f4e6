package dto

import (
	"time"

	"github.com/spec-kit/growth-entitlements/internal/domain"
)

// GuestIdentityResponse carries a synthesized guest identity the client must persist.
type GuestIdentityResponse struct {
	Identity string `json:"identity"`
	Kind     string `json:"kind"`
}

// GrantResponse is a grant as shown to customers and operators.
type GrantResponse struct {
	ID              string            `json:"id"`
	SubjectIdentity string            `json:"subject_identity"`
	SubjectName     string            `json:"subject_name,omitempty"`
	SourceKind      domain.SourceKind `json:"source_kind"`
	SourceReference string            `json:"source_reference"`
	OrderID         *int64            `json:"order_id,omitempty"`
	CodeID          *string           `json:"code_id,omitempty"`
	MaxUsage        int               `json:"max_usage"`
	UsageCount      int               `json:"usage_count"`
	Remaining       int               `json:"remaining"`
	IsEnabled       bool              `json:"is_enabled"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	EnabledAt       *time.Time        `json:"enabled_at,omitempty"`
	DisabledAt      *time.Time        `json:"disabled_at,omitempty"`
	GrantedBy       string            `json:"granted_by,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	Origin          domain.Origin     `json:"origin,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// EntitlementResponse is the resolved entitlement of a subject.
type EntitlementResponse struct {
	Identity        string              `json:"identity"`
	CanUse          bool                `json:"can_use"`
	AvailableUsages int                 `json:"available_usages"`
	Status          domain.AccessStatus `json:"status"`
	SystemEnabled   bool                `json:"system_enabled"`
	Source          domain.Origin       `json:"source"`
	Message         string              `json:"message,omitempty"`
	Grants          []GrantResponse     `json:"grants"`
}

// RedeemRequest payload. Input is either a redemption code or an order number.
type RedeemRequest struct {
	Identity    string `json:"identity"`
	Input       string `json:"input"`
	SubjectName string `json:"subject_name"`
}

// RedeemResponse reports a successful redemption.
type RedeemResponse struct {
	Kind            domain.SourceKind `json:"kind"`
	BoundIdentity   string            `json:"bound_identity"`
	AvailableUsages int               `json:"available_usages"`
	Origin          domain.Origin     `json:"origin"`
	Grant           *GrantResponse    `json:"grant,omitempty"`
	Code            *CodeResponse     `json:"code,omitempty"`
}

// ConsumeRequest payload. InteractionID lets clients retry without double counting.
type ConsumeRequest struct {
	Identity      string `json:"identity"`
	InteractionID string `json:"interaction_id"`
}

// ConsumeResponse reports the outcome of a consumption attempt.
type ConsumeResponse struct {
	Success   bool                 `json:"success"`
	Remaining int                  `json:"remaining"`
	Reason    domain.ConsumeReason `json:"reason,omitempty"`
	Message   string               `json:"message,omitempty"`
	GrantID   *string              `json:"grant_id,omitempty"`
}
