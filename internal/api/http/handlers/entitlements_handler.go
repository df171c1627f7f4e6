package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/growth-entitlements/internal/api/dto"
	"github.com/spec-kit/growth-entitlements/internal/service"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

// EntitlementsHandler serves the customer-facing entitlement endpoints.
type EntitlementsHandler struct {
	resolver   *service.Resolver
	redemption *service.RedemptionService
	usage      *service.UsageService
}

// NewEntitlementsHandler constructs handler.
func NewEntitlementsHandler(resolver *service.Resolver, redemption *service.RedemptionService, usage *service.UsageService) *EntitlementsHandler {
	return &EntitlementsHandler{resolver: resolver, redemption: redemption, usage: usage}
}

// Resolve GET /entitlements?identity=.
func (h *EntitlementsHandler) Resolve(c *fiber.Ctx) error {
	caller := callerFrom(c, c.Query("identity"))
	resolved, err := h.resolver.Resolve(c.UserContext(), caller)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.EntitlementResponse{
		Identity:        caller.Identity.Value,
		CanUse:          resolved.CanUse,
		AvailableUsages: resolved.AvailableUsages,
		Status:          resolved.Status,
		SystemEnabled:   resolved.SystemEnabled,
		Source:          resolved.Source,
		Message:         accessMessage(resolved.Status),
		Grants:          grantResponses(resolved.ContributingGrants),
	}})
}

// Redeem POST /entitlements/redeem.
func (h *EntitlementsHandler) Redeem(c *fiber.Ctx) error {
	var req dto.RedeemRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	result, err := h.redemption.Redeem(c.UserContext(), callerFrom(c, req.Identity), service.RedeemInput{
		Input:       req.Input,
		SubjectName: req.SubjectName,
		IPAddress:   optionalString(c.IP()),
		UserAgent:   optionalString(c.Get(fiber.HeaderUserAgent)),
	})
	if err != nil {
		return err
	}

	resp := dto.RedeemResponse{
		Kind:            result.Kind,
		BoundIdentity:   result.BoundIdentity,
		AvailableUsages: result.AvailableUsages,
		Origin:          result.Origin,
	}
	if result.Grant != nil {
		grant := grantResponse(result.Grant)
		resp.Grant = &grant
	}
	if result.Code != nil {
		code := codeResponse(result.Code)
		resp.Code = &code
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Consume POST /entitlements/consume. A refused consumption is a normal 200 response.
func (h *EntitlementsHandler) Consume(c *fiber.Ctx) error {
	var req dto.ConsumeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	result, err := h.usage.Consume(c.UserContext(), callerFrom(c, req.Identity), req.InteractionID)
	if err != nil {
		return err
	}
	resp := dto.ConsumeResponse{
		Success:   result.Success,
		Remaining: result.Remaining,
		Reason:    result.Reason,
		Message:   consumeMessage(result.Reason),
	}
	if result.Grant != nil {
		resp.GrantID = &result.Grant.ID
	}
	return c.JSON(fiber.Map{"data": resp})
}
