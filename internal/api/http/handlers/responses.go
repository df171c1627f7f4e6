package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/growth-entitlements/internal/api/dto"
	"github.com/spec-kit/growth-entitlements/internal/domain"
)

// HeaderDeviceID names the device whose local cache backs a request.
const HeaderDeviceID = "X-Device-ID"

func callerFrom(c *fiber.Ctx, identity string) domain.Caller {
	return domain.Caller{
		Identity: domain.ParseIdentity(identity),
		DeviceID: strings.TrimSpace(c.Get(HeaderDeviceID)),
	}
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func grantResponse(g *domain.Grant) dto.GrantResponse {
	return dto.GrantResponse{
		ID:              g.ID,
		SubjectIdentity: g.SubjectIdentity,
		SubjectName:     g.SubjectName,
		SourceKind:      g.SourceKind,
		SourceReference: g.SourceReference,
		OrderID:         g.OrderID,
		CodeID:          g.CodeID,
		MaxUsage:        g.MaxUsage,
		UsageCount:      g.UsageCount,
		Remaining:       g.Remaining(),
		IsEnabled:       g.IsEnabled,
		ExpiresAt:       g.ExpiresAt,
		EnabledAt:       g.EnabledAt,
		DisabledAt:      g.DisabledAt,
		GrantedBy:       g.GrantedBy,
		Notes:           g.Notes,
		Origin:          g.Origin,
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
}

func grantResponses(grants []domain.Grant) []dto.GrantResponse {
	items := make([]dto.GrantResponse, 0, len(grants))
	for i := range grants {
		items = append(items, grantResponse(&grants[i]))
	}
	return items
}

func codeResponse(code *domain.RedemptionCode) dto.CodeResponse {
	return dto.CodeResponse{
		ID:           code.ID,
		Code:         code.Code,
		Description:  code.Description,
		MaxUsage:     code.MaxUsage,
		CurrentUsage: code.CurrentUsage,
		Remaining:    code.Remaining(),
		IsActive:     code.IsActive,
		ExpiresAt:    code.ExpiresAt,
		CreatedBy:    code.CreatedBy,
		CreatedAt:    code.CreatedAt,
		UpdatedAt:    code.UpdatedAt,
	}
}

func redemptionResponse(r *domain.RedemptionRecord) dto.RedemptionRecordResponse {
	return dto.RedemptionRecordResponse{
		ID:              r.ID,
		CodeID:          r.CodeID,
		Code:            r.Code,
		SubjectIdentity: r.SubjectIdentity,
		SubjectName:     r.SubjectName,
		IPAddress:       r.IPAddress,
		UserAgent:       r.UserAgent,
		UsedAt:          r.UsedAt,
	}
}

// accessMessage keeps "never had access" and "ran out" apart for customers.
func accessMessage(status domain.AccessStatus) string {
	switch status {
	case domain.AccessNone:
		return "You do not have access to the growth report yet. Redeem a code or an order number to unlock it."
	case domain.AccessSystemDisabled:
		return "The growth report is not available right now."
	case domain.AccessExhausted:
		return "You have used all of your growth report analyses."
	default:
		return ""
	}
}

func consumeMessage(reason domain.ConsumeReason) string {
	switch reason {
	case domain.ReasonNoAccess:
		return accessMessage(domain.AccessNone)
	case domain.ReasonExhausted:
		return accessMessage(domain.AccessExhausted)
	case domain.ReasonUnavailable:
		return "Your usage could not be recorded. Please try again."
	default:
		return ""
	}
}
